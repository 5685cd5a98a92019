package net

import (
	"encoding/binary"
	"sync"

	"github.com/Qwinci/crescent-sub002/defs"
	"github.com/Qwinci/crescent-sub002/event"
	"github.com/Qwinci/crescent-sub002/socket"
)

const udpHeaderLen = 8

type udpDatagram struct {
	src  [4]byte
	port uint16
	data []byte
}

// udpEndpoint is one bound UDP port: a per-port receive queue, per
// §4.12 "UDP (per-port receive queue, ARP-routed send_to)".
type udpEndpoint struct {
	nic   *Nic
	port  uint16
	mu    sync.Mutex
	queue []udpDatagram
	ready *event.Event
}

var _ socket.Socket_i = (*udpEndpoint)(nil)

// udpDemux is the per-Nic table of bound UDP ports, grounded on
// gvisor transport_demuxer.go's map-keyed-by-port-under-one-RWMutex
// shape.
type udpDemux struct {
	nic *Nic
	mu  sync.RWMutex
	eps map[uint16]*udpEndpoint
}

func newUDPDemux(n *Nic) *udpDemux {
	return &udpDemux{nic: n, eps: make(map[uint16]*udpEndpoint)}
}

// Bind reserves port for a new UDP endpoint.
func (d *udpDemux) Bind(port uint16) (*udpEndpoint, defs.Err_t) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.eps[port]; exists {
		return nil, defs.ErrAlreadyExists
	}
	ep := &udpEndpoint{nic: d.nic, port: port, ready: event.New()}
	d.eps[port] = ep
	return ep, 0
}

func (d *udpDemux) unbind(port uint16) {
	d.mu.Lock()
	delete(d.eps, port)
	d.mu.Unlock()
}

func (d *udpDemux) handle(src [4]byte, p []byte) {
	if len(p) < udpHeaderLen {
		return
	}
	srcPort := binary.BigEndian.Uint16(p[0:2])
	dstPort := binary.BigEndian.Uint16(p[2:4])
	length := int(binary.BigEndian.Uint16(p[4:6]))
	if length > len(p) {
		return
	}
	data := p[udpHeaderLen:length]

	d.mu.RLock()
	ep, ok := d.eps[dstPort]
	d.mu.RUnlock()
	if !ok {
		return
	}

	ep.mu.Lock()
	ep.queue = append(ep.queue, udpDatagram{src: src, port: srcPort, data: append([]byte(nil), data...)})
	ep.mu.Unlock()
	ep.ready.SignalOne()
}

func (e *udpEndpoint) Connect(socket.Addr) defs.Err_t    { return defs.ErrUnsupported }
func (e *udpEndpoint) Disconnect() defs.Err_t            { return 0 }
func (e *udpEndpoint) Listen(int) defs.Err_t             { return defs.ErrUnsupported }
func (e *udpEndpoint) Accept() (socket.Socket_i, defs.Err_t) { return nil, defs.ErrUnsupported }
func (e *udpEndpoint) Send([]byte) (int, defs.Err_t)     { return 0, defs.ErrUnsupported }
func (e *udpEndpoint) Receive([]byte) (int, defs.Err_t)  { return 0, defs.ErrUnsupported }

func (e *udpEndpoint) SendTo(data []byte, addr socket.Addr) (int, defs.Err_t) {
	if addr.Kind != socket.AddrIPv4 {
		return 0, defs.ErrInvalidArgument
	}
	datagram := make([]byte, udpHeaderLen+len(data))
	binary.BigEndian.PutUint16(datagram[0:2], e.port)
	binary.BigEndian.PutUint16(datagram[2:4], addr.Port)
	binary.BigEndian.PutUint16(datagram[4:6], uint16(udpHeaderLen+len(data)))
	binary.BigEndian.PutUint16(datagram[6:8], 0) // checksum optional for IPv4/UDP
	copy(datagram[udpHeaderLen:], data)

	full := make([]byte, ipv4MinHeaderLen+len(datagram))
	writeIPv4Header(full, e.nic.IP, addr.IP, ipProtoUDP, len(datagram))
	copy(full[ipv4MinHeaderLen:], datagram)
	e.nic.resolveAndSend(addr.IP, full)
	return len(data), 0
}

func (e *udpEndpoint) ReceiveFrom(dst []byte) (int, socket.Addr, defs.Err_t) {
	e.mu.Lock()
	if len(e.queue) == 0 {
		e.mu.Unlock()
		return 0, socket.Addr{}, defs.ErrTryAgain
	}
	dg := e.queue[0]
	e.queue = e.queue[1:]
	e.mu.Unlock()

	n := copy(dst, dg.data)
	return n, socket.Addr{Kind: socket.AddrIPv4, IP: dg.src, Port: dg.port}, 0
}

func (e *udpEndpoint) GetPeerName() (socket.Addr, defs.Err_t) { return socket.Addr{}, defs.ErrUnsupported }
func (e *udpEndpoint) Poll() *event.Event                     { return e.ready }

func (e *udpEndpoint) Close() defs.Err_t {
	e.nic.udp.unbind(e.port)
	return 0
}
