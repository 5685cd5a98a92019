package syscall

import (
	"github.com/Qwinci/crescent-sub002/defs"
	"github.com/Qwinci/crescent-sub002/net"
	"github.com/Qwinci/crescent-sub002/socket"
)

// Socket kinds for SYS_SOCKET_CREATE's args[0].
const (
	SocketIPC = iota
	SocketUDP
	SocketTCP
)

// sysSocketCreate opens a new, unconnected socket of the kind in
// args[0] (IPC, UDP bound to the port in args[1], or TCP bound to the
// port in args[1]), inserting a handle (SYS_SOCKET_CREATE).
func (k *Kernel) sysSocketCreate(ctx *Context, args Args) (int64, defs.Err_t) {
	var s socket.Socket_i
	var err defs.Err_t

	switch args[0] {
	case SocketIPC:
		s = socket.NewIPCSocket()
	case SocketUDP:
		if k.Nic == nil {
			return 0, defs.ErrUnsupported
		}
		s, err = k.Nic.BindUDP(uint16(args[1]))
	case SocketTCP:
		if k.Nic == nil {
			return 0, defs.ErrUnsupported
		}
		ts := net.NewTCPSocket(k.Nic)
		ts.BindPort(uint16(args[1]))
		s = ts
	default:
		return 0, defs.ErrInvalidArgument
	}
	if err != 0 {
		return 0, err
	}

	h, err := ctx.Proc.Handles.Insert(s)
	if err != 0 {
		s.Close()
		return 0, err
	}
	return int64(h), 0
}

func (k *Kernel) socketOf(ctx *Context, h defs.Handle_t) (socket.Socket_i, defs.Err_t) {
	obj, err := ctx.Proc.Handles.Get(h)
	if err != 0 {
		return nil, err
	}
	s, ok := obj.(socket.Socket_i)
	if !ok {
		return nil, defs.ErrInvalidArgument
	}
	return s, 0
}

func decodeAddr(acc *UserAccessor, va uintptr) (socket.Addr, defs.Err_t) {
	buf := make([]byte, 32)
	if err := acc.CopyIn(va, buf); err != 0 {
		return socket.Addr{}, err
	}
	var addr socket.Addr
	addr.Kind = socket.AddrKind(buf[0])
	switch addr.Kind {
	case socket.AddrIPC:
		end := 1
		for end < len(buf) && buf[end] != 0 {
			end++
		}
		addr.Token = string(buf[1:end])
	case socket.AddrIPv4:
		copy(addr.IP[:], buf[1:5])
		addr.Port = uint16(buf[5]) | uint16(buf[6])<<8
	}
	return addr, 0
}

func encodeAddr(addr socket.Addr) []byte {
	buf := make([]byte, 32)
	buf[0] = byte(addr.Kind)
	switch addr.Kind {
	case socket.AddrIPC:
		copy(buf[1:], addr.Token)
	case socket.AddrIPv4:
		copy(buf[1:5], addr.IP[:])
		buf[5] = byte(addr.Port)
		buf[6] = byte(addr.Port >> 8)
	}
	return buf
}

// sysSocketConnect connects handle args[0] to the address encoded at
// user memory args[1] (SYS_SOCKET_CONNECT).
func (k *Kernel) sysSocketConnect(ctx *Context, args Args) (int64, defs.Err_t) {
	s, err := k.socketOf(ctx, defs.Handle_t(args[0]))
	if err != 0 {
		return 0, err
	}
	addr, err := decodeAddr(ctx.Accessor(k), uintptr(args[1]))
	if err != 0 {
		return 0, err
	}
	return 0, s.Connect(addr)
}

// sysSocketListen marks handle args[0] as listening with backlog
// args[1] (SYS_SOCKET_LISTEN).
func (k *Kernel) sysSocketListen(ctx *Context, args Args) (int64, defs.Err_t) {
	s, err := k.socketOf(ctx, defs.Handle_t(args[0]))
	if err != 0 {
		return 0, err
	}
	return 0, s.Listen(int(args[1]))
}

// sysSocketAccept blocks for a pending connection on handle args[0],
// inserting a handle for the accepted peer (SYS_SOCKET_ACCEPT).
func (k *Kernel) sysSocketAccept(ctx *Context, args Args) (int64, defs.Err_t) {
	s, err := k.socketOf(ctx, defs.Handle_t(args[0]))
	if err != 0 {
		return 0, err
	}
	peer, err := s.Accept()
	if err != 0 {
		return 0, err
	}
	h, err := ctx.Proc.Handles.Insert(peer)
	if err != 0 {
		peer.Close()
		return 0, err
	}
	return int64(h), 0
}

// sysSocketSend writes args[2] bytes from user buffer args[1] to
// handle args[0]'s connected peer (SYS_SOCKET_SEND).
func (k *Kernel) sysSocketSend(ctx *Context, args Args) (int64, defs.Err_t) {
	s, err := k.socketOf(ctx, defs.Handle_t(args[0]))
	if err != 0 {
		return 0, err
	}
	buf := make([]byte, int(args[2]))
	if cerr := ctx.Accessor(k).CopyIn(uintptr(args[1]), buf); cerr != 0 {
		return 0, cerr
	}
	n, err := s.Send(buf)
	if err != 0 {
		return 0, err
	}
	return int64(n), 0
}

// sysSocketReceive reads up to args[2] bytes from handle args[0] into
// user buffer args[1] (SYS_SOCKET_RECEIVE).
func (k *Kernel) sysSocketReceive(ctx *Context, args Args) (int64, defs.Err_t) {
	s, err := k.socketOf(ctx, defs.Handle_t(args[0]))
	if err != 0 {
		return 0, err
	}
	buf := make([]byte, int(args[2]))
	n, err := s.Receive(buf)
	if err != 0 {
		return 0, err
	}
	if cerr := ctx.Accessor(k).CopyOut(uintptr(args[1]), buf[:n]); cerr != 0 {
		return 0, cerr
	}
	return int64(n), 0
}

// sysSocketSendTo writes args[2] bytes from user buffer args[1] to
// handle args[0], addressed to the socket.Addr encoded at args[3]
// (SYS_SOCKET_SEND_TO).
func (k *Kernel) sysSocketSendTo(ctx *Context, args Args) (int64, defs.Err_t) {
	s, err := k.socketOf(ctx, defs.Handle_t(args[0]))
	if err != 0 {
		return 0, err
	}
	acc := ctx.Accessor(k)
	buf := make([]byte, int(args[2]))
	if cerr := acc.CopyIn(uintptr(args[1]), buf); cerr != 0 {
		return 0, cerr
	}
	addr, err := decodeAddr(acc, uintptr(args[3]))
	if err != 0 {
		return 0, err
	}
	n, err := s.SendTo(buf, addr)
	if err != 0 {
		return 0, err
	}
	return int64(n), 0
}

// sysSocketReceiveFrom reads up to args[2] bytes from handle args[0]
// into user buffer args[1], copying the sender's address out to
// args[3] (SYS_SOCKET_RECEIVE_FROM).
func (k *Kernel) sysSocketReceiveFrom(ctx *Context, args Args) (int64, defs.Err_t) {
	s, err := k.socketOf(ctx, defs.Handle_t(args[0]))
	if err != 0 {
		return 0, err
	}
	buf := make([]byte, int(args[2]))
	n, addr, err := s.ReceiveFrom(buf)
	if err != 0 {
		return 0, err
	}
	acc := ctx.Accessor(k)
	if cerr := acc.CopyOut(uintptr(args[1]), buf[:n]); cerr != 0 {
		return 0, cerr
	}
	if args[3] != 0 {
		if cerr := acc.CopyOut(uintptr(args[3]), encodeAddr(addr)); cerr != 0 {
			return 0, cerr
		}
	}
	return int64(n), 0
}

// sysSocketGetPeerName copies handle args[0]'s connected peer address
// out to args[1] (SYS_SOCKET_GET_PEER_NAME).
func (k *Kernel) sysSocketGetPeerName(ctx *Context, args Args) (int64, defs.Err_t) {
	s, err := k.socketOf(ctx, defs.Handle_t(args[0]))
	if err != 0 {
		return 0, err
	}
	addr, err := s.GetPeerName()
	if err != 0 {
		return 0, err
	}
	if cerr := ctx.Accessor(k).CopyOut(uintptr(args[1]), encodeAddr(addr)); cerr != 0 {
		return 0, cerr
	}
	return 0, 0
}
