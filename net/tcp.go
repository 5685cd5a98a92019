package net

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/Qwinci/crescent-sub002/circbuf"
	"github.com/Qwinci/crescent-sub002/defs"
	"github.com/Qwinci/crescent-sub002/event"
	"github.com/Qwinci/crescent-sub002/rand"
	"github.com/Qwinci/crescent-sub002/socket"
)

// tcpState enumerates §4.12's TCP state machine: "{None, Listening,
// SentSyn, SynAck, ReceivedSynAck, ReceivedFin, SentFin, Connected}".
type tcpState int

const (
	tcpNone tcpState = iota
	tcpListening
	tcpSentSyn
	tcpSynAck
	tcpReceivedSynAck
	tcpConnected
	tcpReceivedFin
	tcpSentFin
	tcpClosed
)

const (
	tcpFlagFIN = 1 << 0
	tcpFlagSYN = 1 << 1
	tcpFlagRST = 1 << 2
	tcpFlagACK = 1 << 4

	tcpHeaderLen = 20
	tcpMSS       = 1460
	tcpRingCap   = 64 * 1024

	tcpInitialRTO = 200 * time.Millisecond
	tcpMaxRTO     = 120 * time.Second
)

// tcpDemux holds both listening sockets (keyed by local port) and
// established connections (keyed by the 4-tuple), same shape as
// udpDemux, per gvisor's demuxer idiom of splitting "bound, not yet
// connected" from "established" tables.
type tcpDemux struct {
	nic *Nic

	mu        sync.RWMutex
	listeners map[uint16]*TCPSocket
	conns     map[tcpTuple]*TCPSocket
}

type tcpTuple struct {
	localPort          uint16
	remoteIP           [4]byte
	remotePort         uint16
}

func newTCPDemux(n *Nic) *tcpDemux {
	return &tcpDemux{
		nic:       n,
		listeners: make(map[uint16]*TCPSocket),
		conns:     make(map[tcpTuple]*TCPSocket),
	}
}

// TCPSocket is one TCP endpoint, implementing socket.Socket_i.
// Grounded on §4.12's description directly; send/receive rings are
// circbuf.Circbuf_t instances bounded at 64KiB as specified.
type TCPSocket struct {
	demux *tcpDemux

	mu    sync.Mutex
	state tcpState

	localPort  uint16
	remoteIP   [4]byte
	remotePort uint16

	sndNxt uint32 // next sequence number to send
	sndUna uint32 // oldest unacknowledged sequence number
	rcvNxt uint32 // next expected sequence number from peer

	sendRing *circbuf.Circbuf_t
	recvRing *circbuf.Circbuf_t

	readyRecv *event.Event
	readySend *event.Event

	backlogCh       chan *TCPSocket
	pendingListener *TCPSocket // set on the accept-side connection until the handshake's final ACK

	stopRetx   chan struct{}
	peerFinned bool
}

var _ socket.Socket_i = (*TCPSocket)(nil)

// NewTCPSocket constructs an unconnected TCP endpoint on nic.
func NewTCPSocket(n *Nic) *TCPSocket {
	return &TCPSocket{
		demux:     n.tcp,
		state:     tcpNone,
		sendRing:  circbuf.Mkcircbuf(tcpRingCap),
		recvRing:  circbuf.Mkcircbuf(tcpRingCap),
		readyRecv: event.New(),
		readySend: event.New(),
	}
}

func randomISN() uint32 {
	b := rand.Global.Generate(4)
	return binary.BigEndian.Uint32(b)
}

// Listen binds localPort and marks the socket Listening, accepting
// connections into a backlog channel — accept() fairness is FIFO per
// DESIGN.md's Open Question decision.
func (s *TCPSocket) Listen(backlog int) defs.Err_t {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != tcpNone {
		return defs.ErrInvalidArgument
	}
	if backlog <= 0 {
		backlog = 1
	}
	s.backlogCh = make(chan *TCPSocket, backlog)
	s.state = tcpListening

	s.demux.mu.Lock()
	s.demux.listeners[s.localPort] = s
	s.demux.mu.Unlock()
	return 0
}

// BindPort assigns the local port a listening or connecting socket
// uses; split from Listen since Connect also needs an ephemeral local
// port before the handshake begins.
func (s *TCPSocket) BindPort(port uint16) { s.localPort = port }

func (s *TCPSocket) Accept() (socket.Socket_i, defs.Err_t) {
	s.mu.Lock()
	if s.state != tcpListening {
		s.mu.Unlock()
		return nil, defs.ErrInvalidArgument
	}
	ch := s.backlogCh
	s.mu.Unlock()

	conn, ok := <-ch
	if !ok {
		return nil, defs.ErrConnectionClosed
	}
	return conn, 0
}

// Connect performs the active-open handshake: send SYN, wait for
// SYN-ACK, send ACK.
func (s *TCPSocket) Connect(addr socket.Addr) defs.Err_t {
	if addr.Kind != socket.AddrIPv4 {
		return defs.ErrInvalidArgument
	}
	s.mu.Lock()
	s.remoteIP = addr.IP
	s.remotePort = addr.Port
	s.sndNxt = randomISN()
	s.sndUna = s.sndNxt
	s.state = tcpSentSyn
	tuple := tcpTuple{localPort: s.localPort, remoteIP: addr.IP, remotePort: addr.Port}
	s.mu.Unlock()

	s.demux.mu.Lock()
	s.demux.conns[tuple] = s
	s.demux.mu.Unlock()

	s.sendSegment(tcpFlagSYN, nil)

	// Block for the SYN-ACK; a real kernel would also honor a
	// connect timeout here via sched.Sleep, omitted for this
	// synchronous test-shaped implementation.
	s.readyRecv.Wait()

	s.mu.Lock()
	ok := s.state == tcpConnected
	s.mu.Unlock()
	if !ok {
		return defs.ErrConnectionClosed
	}
	s.startRetransmitTimer()
	return 0
}

func (s *TCPSocket) Disconnect() defs.Err_t {
	s.mu.Lock()
	if s.state != tcpConnected {
		s.mu.Unlock()
		return 0
	}
	s.state = tcpSentFin
	s.mu.Unlock()

	s.sendSegment(tcpFlagFIN|tcpFlagACK, nil)
	s.stopRetransmitTimer()
	return 0
}

func (s *TCPSocket) Send(data []byte) (int, defs.Err_t) {
	s.mu.Lock()
	if s.state != tcpConnected {
		s.mu.Unlock()
		return 0, defs.ErrConnectionClosed
	}
	n := s.sendRing.Write(data)
	s.mu.Unlock()

	if n == 0 && len(data) > 0 {
		return 0, defs.ErrTryAgain
	}
	// best-effort immediate transmit of what fits in one MSS segment
	// at a time; the retransmission timer resends unacknowledged data.
	for sent := 0; sent < n; {
		chunk := n - sent
		if chunk > tcpMSS {
			chunk = tcpMSS
		}
		buf := make([]byte, chunk)
		s.mu.Lock()
		s.sendRing.Peek(buf) // re-peeks from tail; fine since nothing else consumes concurrently
		s.mu.Unlock()
		s.sendSegment(tcpFlagACK, buf)
		sent += chunk
		break // one segment per Send call keeps this bounded and simple
	}
	return n, 0
}

func (s *TCPSocket) Receive(dst []byte) (int, defs.Err_t) {
	s.mu.Lock()
	n := s.recvRing.Read(dst)
	state := s.state
	finned := s.peerFinned
	s.mu.Unlock()

	if n > 0 {
		return n, 0
	}
	if finned || state == tcpClosed {
		return 0, 0 // EOF
	}
	if state != tcpConnected {
		return 0, defs.ErrConnectionClosed
	}
	return 0, defs.ErrTryAgain
}

func (s *TCPSocket) SendTo(data []byte, _ socket.Addr) (int, defs.Err_t) { return s.Send(data) }
func (s *TCPSocket) ReceiveFrom(dst []byte) (int, socket.Addr, defs.Err_t) {
	n, err := s.Receive(dst)
	return n, socket.Addr{Kind: socket.AddrIPv4, IP: s.remoteIP, Port: s.remotePort}, err
}

func (s *TCPSocket) GetPeerName() (socket.Addr, defs.Err_t) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == tcpNone {
		return socket.Addr{}, defs.ErrInvalidArgument
	}
	return socket.Addr{Kind: socket.AddrIPv4, IP: s.remoteIP, Port: s.remotePort}, 0
}

func (s *TCPSocket) Poll() *event.Event { return s.readyRecv }

func (s *TCPSocket) Close() defs.Err_t {
	s.Disconnect()
	s.demux.mu.Lock()
	delete(s.demux.listeners, s.localPort)
	delete(s.demux.conns, tcpTuple{localPort: s.localPort, remoteIP: s.remoteIP, remotePort: s.remotePort})
	s.demux.mu.Unlock()
	return 0
}

// sendSegment builds and transmits one TCP segment with the given
// flags and payload, advancing sndNxt by len(payload) for data-bearing
// segments.
func (s *TCPSocket) sendSegment(flags byte, payload []byte) {
	s.mu.Lock()
	seq := s.sndNxt
	ack := s.rcvNxt
	srcIP := s.demux.nic.IP
	dstIP := s.remoteIP
	localPort := s.localPort
	remotePort := s.remotePort
	if flags&(tcpFlagSYN|tcpFlagFIN) != 0 || len(payload) > 0 {
		adv := uint32(len(payload))
		if flags&(tcpFlagSYN|tcpFlagFIN) != 0 {
			adv++
		}
		s.sndNxt += adv
	}
	s.mu.Unlock()

	seg := make([]byte, tcpHeaderLen+len(payload))
	binary.BigEndian.PutUint16(seg[0:2], localPort)
	binary.BigEndian.PutUint16(seg[2:4], remotePort)
	binary.BigEndian.PutUint32(seg[4:8], seq)
	binary.BigEndian.PutUint32(seg[8:12], ack)
	seg[12] = (tcpHeaderLen / 4) << 4
	seg[13] = flags
	binary.BigEndian.PutUint16(seg[14:16], uint16(tcpRingCap)) // window
	binary.BigEndian.PutUint16(seg[16:18], 0)                  // checksum placeholder
	binary.BigEndian.PutUint16(seg[18:20], 0)                  // urgent ptr
	copy(seg[tcpHeaderLen:], payload)

	seed := pseudoHeaderChecksum(srcIP, dstIP, ipProtoTCP, len(seg))
	csum := finishChecksum(seed, seg)
	binary.BigEndian.PutUint16(seg[16:18], csum)

	full := make([]byte, ipv4MinHeaderLen+len(seg))
	writeIPv4Header(full, srcIP, dstIP, ipProtoTCP, len(seg))
	copy(full[ipv4MinHeaderLen:], seg)
	s.demux.nic.resolveAndSend(dstIP, full)
}

// startRetransmitTimer launches the per-socket kernel thread that
// resends unacknowledged data with exponential RTO backoff, per §4.12:
// "per-socket kernel thread for retransmission" and DESIGN.md's Open
// Question decision (200ms initial, exponential backoff, 120s cap).
func (s *TCPSocket) startRetransmitTimer() {
	s.mu.Lock()
	if s.stopRetx != nil {
		s.mu.Unlock()
		return
	}
	s.stopRetx = make(chan struct{})
	stop := s.stopRetx
	s.mu.Unlock()

	go func() {
		rto := tcpInitialRTO
		for {
			select {
			case <-stop:
				return
			case <-time.After(rto):
				s.mu.Lock()
				unacked := s.sndNxt != s.sndUna
				connected := s.state == tcpConnected
				buf := make([]byte, s.sendRing.Len())
				s.sendRing.Peek(buf)
				s.mu.Unlock()
				if !connected {
					return
				}
				if unacked && len(buf) > 0 {
					s.sendSegment(tcpFlagACK, buf)
					rto *= 2
					if rto > tcpMaxRTO {
						rto = tcpMaxRTO
					}
				} else {
					rto = tcpInitialRTO
				}
			}
		}
	}()
}

func (s *TCPSocket) stopRetransmitTimer() {
	s.mu.Lock()
	stop := s.stopRetx
	s.stopRetx = nil
	s.mu.Unlock()
	if stop != nil {
		close(stop)
	}
}

// handle is the demux entry point for inbound TCP segments (called
// from ipv4.go's protocol dispatch).
func (d *tcpDemux) handle(srcIP [4]byte, p []byte) {
	if len(p) < tcpHeaderLen {
		return
	}
	srcPort := binary.BigEndian.Uint16(p[0:2])
	dstPort := binary.BigEndian.Uint16(p[2:4])
	seq := binary.BigEndian.Uint32(p[4:8])
	ackNum := binary.BigEndian.Uint32(p[8:12])
	dataOff := int(p[12]>>4) * 4
	flags := p[13]
	var payload []byte
	if len(p) > dataOff {
		payload = p[dataOff:]
	}

	tuple := tcpTuple{localPort: dstPort, remoteIP: srcIP, remotePort: srcPort}
	d.mu.RLock()
	conn, connected := d.conns[tuple]
	listener, listening := d.listeners[dstPort]
	d.mu.RUnlock()

	switch {
	case connected:
		conn.onSegment(flags, seq, ackNum, payload)
	case listening && flags&tcpFlagSYN != 0:
		listener.acceptIncoming(srcIP, srcPort, seq)
	}
}

// acceptIncoming handles an inbound SYN on a listening socket:
// allocates the connection's own TCPSocket, sends SYN-ACK, and queues
// it for Accept once the handshake's final ACK lands.
func (s *TCPSocket) acceptIncoming(srcIP [4]byte, srcPort uint16, peerSeq uint32) {
	conn := NewTCPSocket(s.demux.nic)
	conn.localPort = s.localPort
	conn.remoteIP = srcIP
	conn.remotePort = srcPort
	conn.rcvNxt = peerSeq + 1
	conn.sndNxt = randomISN()
	conn.sndUna = conn.sndNxt
	conn.state = tcpSynAck

	tuple := tcpTuple{localPort: s.localPort, remoteIP: srcIP, remotePort: srcPort}
	s.demux.mu.Lock()
	s.demux.conns[tuple] = conn
	s.demux.mu.Unlock()

	// the final handshake ACK (and the socket becoming Connected,
	// then pushed to the listener's backlog) happens in onSegment,
	// which may already run inside sendSegment on a synchronous link.
	conn.pendingListener = s

	conn.sendSegment(tcpFlagSYN|tcpFlagACK, nil)
}

// onSegment implements the remaining handshake leg plus steady-state
// data/ACK/FIN processing.
func (s *TCPSocket) onSegment(flags byte, seq, ackNum uint32, payload []byte) {
	s.mu.Lock()
	switch s.state {
	case tcpSynAck:
		if flags&tcpFlagACK != 0 {
			s.state = tcpConnected
			s.sndUna = ackNum
			listener := s.pendingListener
			s.mu.Unlock()
			if listener != nil {
				select {
				case listener.backlogCh <- s:
				default:
				}
			}
			s.startRetransmitTimer()
			return
		}
	case tcpSentSyn:
		if flags&(tcpFlagSYN|tcpFlagACK) == (tcpFlagSYN | tcpFlagACK) {
			s.rcvNxt = seq + 1
			s.sndUna = ackNum
			s.state = tcpConnected
			s.mu.Unlock()
			s.sendSegment(tcpFlagACK, nil)
			s.readyRecv.SignalAll()
			return
		}
	case tcpConnected:
		if ackNum != s.sndUna {
			s.sndUna = ackNum
		}
		if len(payload) > 0 && seq == s.rcvNxt {
			s.recvRing.Write(payload)
			s.rcvNxt += uint32(len(payload))
			s.mu.Unlock()
			s.sendSegment(tcpFlagACK, nil)
			s.readyRecv.SignalOne()
			return
		}
		if flags&tcpFlagFIN != 0 {
			s.rcvNxt = seq + 1
			s.peerFinned = true
			s.state = tcpReceivedFin
			s.mu.Unlock()
			s.sendSegment(tcpFlagACK, nil)
			s.readyRecv.SignalAll()
			return
		}
	}
	s.mu.Unlock()
}
