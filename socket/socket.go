// Package socket implements the abstract Socket (§3, §6.1): connect,
// disconnect, listen, accept, send, receive, send_to, receive_from,
// get_peer_name, with concrete kinds IPC (peer-to-peer, same host),
// UDP/4 and TCP/4 layered on top by the net package.
//
// Grounded on gvisor's pkg/tcpip/stack/transport_demuxer.go for the
// demux-by-endpoint-kind idiom (one Socket_i interface, several
// concrete endpoint kinds registered against it) and on biscuit's
// src/unet package shape (peer-to-peer same-host sockets), which
// existed only as a go.mod stub in the retrieval pack.
package socket

import (
	"sync"

	"github.com/Qwinci/crescent-sub002/circbuf"
	"github.com/Qwinci/crescent-sub002/defs"
	"github.com/Qwinci/crescent-sub002/event"
)

// State mirrors the abstract connection lifecycle every concrete
// socket kind narrows into its own state machine (TCP's is richer,
// §4.12).
type State int

const (
	StateClosed State = iota
	StateListening
	StateConnecting
	StateConnected
	StateClosing
)

// Socket_i is what every concrete socket kind (IPC, UDP, TCP)
// implements, satisfying §3's abstract Socket operation list and
// handle.Object so a socket can live directly in a handle table.
type Socket_i interface {
	Connect(addr Addr) defs.Err_t
	Disconnect() defs.Err_t
	Listen(backlog int) defs.Err_t
	Accept() (Socket_i, defs.Err_t)
	Send(data []byte) (int, defs.Err_t)
	Receive(dst []byte) (int, defs.Err_t)
	SendTo(data []byte, addr Addr) (int, defs.Err_t)
	ReceiveFrom(dst []byte) (int, Addr, defs.Err_t)
	GetPeerName() (Addr, defs.Err_t)
	Poll() *event.Event
	Close() defs.Err_t
}

// Addr is a transport address. Kind selects which fields are
// meaningful: IPC carries only a Token (a service-registry UUID
// string or endpoint name); UDP/TCP carry an IPv4 address and port.
type Addr struct {
	Kind  AddrKind
	Token string
	IP    [4]byte
	Port  uint16
}

type AddrKind int

const (
	AddrIPC AddrKind = iota
	AddrIPv4
)

// IPCSocket is the same-host peer-to-peer kind: two IPCSockets are
// connected directly to one another's ring buffers (no net package
// involvement), grounded on biscuit unet's same-host shortcut.
type IPCSocket struct {
	mu    sync.Mutex
	state State
	peer  *IPCSocket

	recv      *circbuf.Circbuf_t
	recvReady *event.Event

	// backlog holds pending-connect peers for a listening socket.
	backlogCh chan *IPCSocket
	token     string
}

const ipcRingCapacity = 16 * defs.PageSize

// NewIPCSocket constructs an unconnected IPC socket endpoint.
func NewIPCSocket() *IPCSocket {
	return &IPCSocket{
		recv:      circbuf.Mkcircbuf(ipcRingCapacity),
		recvReady: event.New(),
	}
}

var _ Socket_i = (*IPCSocket)(nil)

// ipcRegistry maps a published listen token to its listening socket,
// standing in for the real kernel's service-registry-backed endpoint
// lookup (§3 Service, GLOSSARY: "a tuple of user-visible feature
// strings... other processes look up and obtain an IPC endpoint to it
// by feature intersection" — connecting by token is the mechanical
// last step of that lookup).
var (
	ipcRegistryMu sync.Mutex
	ipcRegistry   = map[string]*IPCSocket{}
)

func (s *IPCSocket) Listen(backlog int) defs.Err_t {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateClosed {
		return defs.ErrInvalidArgument
	}
	if backlog <= 0 {
		backlog = 1
	}
	s.backlogCh = make(chan *IPCSocket, backlog)
	s.state = StateListening
	return 0
}

// Bind publishes this socket under token so Connect(Addr{Token: token})
// can find it; a thin helper around the package-level registry, not
// part of Socket_i since UDP/TCP bind by IP:port instead.
func (s *IPCSocket) Bind(token string) defs.Err_t {
	ipcRegistryMu.Lock()
	defer ipcRegistryMu.Unlock()
	if _, exists := ipcRegistry[token]; exists {
		return defs.ErrAlreadyExists
	}
	ipcRegistry[token] = s
	s.token = token
	return 0
}

func (s *IPCSocket) Connect(addr Addr) defs.Err_t {
	if addr.Kind != AddrIPC {
		return defs.ErrInvalidArgument
	}
	ipcRegistryMu.Lock()
	listener, ok := ipcRegistry[addr.Token]
	ipcRegistryMu.Unlock()
	if !ok {
		return defs.ErrNotExists
	}

	listener.mu.Lock()
	if listener.state != StateListening {
		listener.mu.Unlock()
		return defs.ErrConnectionClosed
	}
	backlogCh := listener.backlogCh
	listener.mu.Unlock()

	s.mu.Lock()
	s.state = StateConnecting
	s.mu.Unlock()

	select {
	case backlogCh <- s:
	default:
		return defs.ErrTryAgain
	}
	return 0
}

// Accept pulls the next pending connector off the backlog, links the
// two sockets as peers, and marks both Connected.
func (s *IPCSocket) Accept() (Socket_i, defs.Err_t) {
	s.mu.Lock()
	if s.state != StateListening {
		s.mu.Unlock()
		return nil, defs.ErrInvalidArgument
	}
	ch := s.backlogCh
	s.mu.Unlock()

	peer, ok := <-ch
	if !ok {
		return nil, defs.ErrConnectionClosed
	}

	accepted := NewIPCSocket()
	accepted.peer = peer
	accepted.state = StateConnected

	peer.mu.Lock()
	peer.peer = accepted
	peer.state = StateConnected
	peer.mu.Unlock()

	return accepted, 0
}

func (s *IPCSocket) Disconnect() defs.Err_t {
	s.mu.Lock()
	peer := s.peer
	s.state = StateClosed
	s.peer = nil
	s.mu.Unlock()
	if peer != nil {
		peer.mu.Lock()
		peer.peer = nil
		peer.state = StateClosing
		peer.mu.Unlock()
		peer.recvReady.SignalAll()
	}
	return 0
}

func (s *IPCSocket) Send(data []byte) (int, defs.Err_t) {
	s.mu.Lock()
	peer := s.peer
	state := s.state
	s.mu.Unlock()
	if state != StateConnected || peer == nil {
		return 0, defs.ErrConnectionClosed
	}

	peer.mu.Lock()
	n := peer.recv.Write(data)
	peer.mu.Unlock()
	peer.recvReady.SignalOne()

	if n == 0 && len(data) > 0 {
		return 0, defs.ErrTryAgain
	}
	return n, 0
}

func (s *IPCSocket) Receive(dst []byte) (int, defs.Err_t) {
	s.mu.Lock()
	n := s.recv.Read(dst)
	state := s.state
	s.mu.Unlock()
	if n > 0 {
		return n, 0
	}
	if state == StateClosing || state == StateClosed {
		return 0, 0 // EOF
	}
	return 0, defs.ErrTryAgain
}

func (s *IPCSocket) SendTo(data []byte, _ Addr) (int, defs.Err_t) {
	return s.Send(data) // IPC is connection-oriented; send_to == send
}

func (s *IPCSocket) ReceiveFrom(dst []byte) (int, Addr, defs.Err_t) {
	n, err := s.Receive(dst)
	return n, Addr{Kind: AddrIPC, Token: s.token}, err
}

func (s *IPCSocket) GetPeerName() (Addr, defs.Err_t) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.peer == nil {
		return Addr{}, defs.ErrInvalidArgument
	}
	return Addr{Kind: AddrIPC, Token: s.peer.token}, 0
}

func (s *IPCSocket) Poll() *event.Event { return s.recvReady }

func (s *IPCSocket) Close() defs.Err_t {
	s.mu.Lock()
	if s.token != "" {
		ipcRegistryMu.Lock()
		delete(ipcRegistry, s.token)
		ipcRegistryMu.Unlock()
	}
	s.mu.Unlock()
	return s.Disconnect()
}
