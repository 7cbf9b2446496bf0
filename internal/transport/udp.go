package transport

import (
	"context"
	"net"
	"net/netip"

	"go.uber.org/zap"
)

// DefaultMTU is the spec's default UDP datagram size cap (spec.md §4.4).
const DefaultMTU = 65507

// UDPTransport opens plain UDP sockets. It implements both RawTransport
// (raw bytes, for wrapping by SignedTransport) and Transport (wire-decoded
// messages, via plainSocket).
type UDPTransport struct {
	MTU    int
	Logger *zap.Logger
}

// NewUDPTransport creates a UDPTransport with the default MTU.
func NewUDPTransport(logger *zap.Logger) *UDPTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UDPTransport{MTU: DefaultMTU, Logger: logger}
}

func (t *UDPTransport) mtu() int {
	if t.MTU <= 0 {
		return DefaultMTU
	}
	return t.MTU
}

func (t *UDPTransport) logger() *zap.Logger {
	if t.Logger == nil {
		return zap.NewNop()
	}
	return t.Logger
}

func (t *UDPTransport) Open(ctx context.Context, bindAddr netip.AddrPort) (Socket, error) {
	raw, err := t.OpenRaw(ctx, bindAddr)
	if err != nil {
		return nil, err
	}
	return newPlainSocket(raw, t.logger()), nil
}

func (t *UDPTransport) OpenRaw(ctx context.Context, bindAddr netip.AddrPort) (RawSocket, error) {
	conn, err := net.ListenUDP("udp", net.UDPAddrFromAddrPort(bindAddr))
	if err != nil {
		return nil, err
	}
	local := conn.LocalAddr().(*net.UDPAddr).AddrPort()
	s := &udpRawSocket{
		conn:    conn,
		local:   local,
		mtu:     t.mtu(),
		logger:  t.logger(),
		recvCh:  make(chan rawRecvResult, 64),
		closeCh: make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

type rawRecvResult struct {
	peer    netip.AddrPort
	payload []byte
}

type udpRawSocket struct {
	conn    *net.UDPConn
	local   netip.AddrPort
	mtu     int
	logger  *zap.Logger
	recvCh  chan rawRecvResult
	closeCh chan struct{}
}

func (s *udpRawSocket) readLoop() {
	buf := make([]byte, s.mtu)
	for {
		n, addr, err := s.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			close(s.closeCh)
			return
		}
		payload := make([]byte, n)
		copy(payload, buf[:n])
		select {
		case s.recvCh <- rawRecvResult{peer: addr, payload: payload}:
		case <-s.closeCh:
			return
		}
	}
}

func (s *udpRawSocket) SendTo(ctx context.Context, peer netip.AddrPort, payload []byte) {
	if len(payload) > s.mtu {
		s.logger.Warn("dropping oversized outbound datagram", zap.Int("len", len(payload)), zap.Int("mtu", s.mtu))
		return
	}
	if _, err := s.conn.WriteToUDPAddrPort(payload, peer); err != nil {
		s.logger.Debug("udp send failed", zap.Stringer("peer", peer), zap.Error(err))
	}
}

func (s *udpRawSocket) RecvFrom(ctx context.Context) (netip.AddrPort, []byte, error) {
	select {
	case r, ok := <-s.recvCh:
		if !ok {
			return netip.AddrPort{}, nil, ErrSocketClosed
		}
		return r.peer, r.payload, nil
	case <-s.closeCh:
		return netip.AddrPort{}, nil, ErrSocketClosed
	case <-ctx.Done():
		return netip.AddrPort{}, nil, ErrSocketClosed
	}
}

func (s *udpRawSocket) LocalAddr() netip.AddrPort { return s.local }

func (s *udpRawSocket) Close() error {
	return s.conn.Close()
}
