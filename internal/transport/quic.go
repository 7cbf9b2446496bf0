package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/netip"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/quic-go/quic-go"
	"go.uber.org/zap"

	"github.com/shardmesh/chitchat/internal/wire"
)

// NetCredential bundles the TLS identity a QUIC transport dials and listens
// with, named after the Rust original's transport-layer::NetCredential so
// the mapping stays obvious: a leaf cert/key pair plus the root pool used
// to verify peers.
type NetCredential struct {
	Cert tls.Certificate
	Root *tls.Config // only RootCAs/ClientCAs need be set; reused verbatim as the base config
}

// QUICTransport is the stream-oriented transport variant from spec.md §4.4:
// one unidirectional stream per message, the stream payload prefixed with
// the logical sender address so it can be recovered independently of
// whatever address NAT makes visible to the listener.
type QUICTransport struct {
	Credential NetCredential
	Logger     *zap.Logger

	// NewBackOff builds the retry schedule for outbound dial attempts; nil
	// uses a default exponential backoff capped at a few seconds, matching
	// the teacher's dp/client.go reconnect shape.
	NewBackOff func() backoff.BackOff
}

func NewQUICTransport(cred NetCredential, logger *zap.Logger) *QUICTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QUICTransport{Credential: cred, Logger: logger}
}

func (t *QUICTransport) newBackOff() backoff.BackOff {
	if t.NewBackOff != nil {
		return t.NewBackOff()
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 5 * time.Second // give up so Send never blocks indefinitely
	return b
}

func (t *QUICTransport) logger() *zap.Logger {
	if t.Logger == nil {
		return zap.NewNop()
	}
	return t.Logger
}

func (t *QUICTransport) tlsConfig() *tls.Config {
	cfg := t.Credential.Root.Clone()
	cfg.Certificates = []tls.Certificate{t.Credential.Cert}
	cfg.NextProtos = []string{"chitchat-gossip"}
	return cfg
}

func (t *QUICTransport) Open(ctx context.Context, bindAddr netip.AddrPort) (Socket, error) {
	ln, err := quic.ListenAddr(bindAddr.String(), t.tlsConfig(), nil)
	if err != nil {
		return nil, fmt.Errorf("quic listen on %s: %w", bindAddr, err)
	}
	s := &quicSocket{
		transport: t,
		listener:  ln,
		local:     bindAddr,
		recvCh:    make(chan recvResult, 64),
		peers:     make(map[netip.AddrPort]quic.Connection),
		logger:    t.logger(),
	}
	go s.acceptLoop(ctx)
	return s, nil
}

type recvResult struct {
	peer    netip.AddrPort
	payload []byte
}

type quicSocket struct {
	transport *QUICTransport
	listener  *quic.Listener
	local     netip.AddrPort
	recvCh    chan recvResult
	logger    *zap.Logger

	mu    sync.Mutex
	peers map[netip.AddrPort]quic.Connection
}

func (s *quicSocket) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept(ctx)
		if err != nil {
			return
		}
		go s.acceptStreams(ctx, conn)
	}
}

func (s *quicSocket) acceptStreams(ctx context.Context, conn quic.Connection) {
	for {
		stream, err := conn.AcceptUniStream(ctx)
		if err != nil {
			return
		}
		go s.readStream(ctx, stream)
	}
}

func (s *quicSocket) readStream(ctx context.Context, stream quic.ReceiveStream) {
	raw, err := io.ReadAll(stream)
	if err != nil {
		s.logger.Debug("quic stream read failed", zap.Error(err))
		return
	}
	peer, payload, err := decodeSenderFrame(raw)
	if err != nil {
		s.logger.Debug("dropping malformed quic frame", zap.Error(err))
		return
	}
	select {
	case s.recvCh <- recvResult{peer: peer, payload: payload}:
	case <-ctx.Done():
	}
}

func (s *quicSocket) connFor(ctx context.Context, peer netip.AddrPort) (quic.Connection, error) {
	s.mu.Lock()
	if conn, ok := s.peers[peer]; ok {
		s.mu.Unlock()
		return conn, nil
	}
	s.mu.Unlock()

	var conn quic.Connection
	dial := func() error {
		c, err := quic.DialAddr(ctx, peer.String(), s.transport.tlsConfig(), nil)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}
	if err := backoff.Retry(dial, backoff.WithContext(s.transport.newBackOff(), ctx)); err != nil {
		return nil, fmt.Errorf("quic dial %s: %w", peer, err)
	}

	s.mu.Lock()
	s.peers[peer] = conn
	s.mu.Unlock()
	return conn, nil
}

func (s *quicSocket) Send(ctx context.Context, peer netip.AddrPort, msg wire.Message) {
	conn, err := s.connFor(ctx, peer)
	if err != nil {
		s.logger.Debug("quic send: no connection", zap.Stringer("peer", peer), zap.Error(err))
		return
	}
	stream, err := conn.OpenUniStreamSync(ctx)
	if err != nil {
		s.mu.Lock()
		delete(s.peers, peer)
		s.mu.Unlock()
		s.logger.Debug("quic open stream failed", zap.Stringer("peer", peer), zap.Error(err))
		return
	}
	frame := encodeSenderFrame(s.local, wire.Encode(msg))
	if _, err := stream.Write(frame); err != nil {
		s.logger.Debug("quic stream write failed", zap.Stringer("peer", peer), zap.Error(err))
	}
	_ = stream.Close()
}

func (s *quicSocket) Recv(ctx context.Context) (netip.AddrPort, wire.Message, error) {
	for {
		select {
		case r, ok := <-s.recvCh:
			if !ok {
				return netip.AddrPort{}, wire.Message{}, ErrSocketClosed
			}
			msg, err := wire.Decode(r.payload)
			if err != nil {
				s.logger.Debug("dropping undecodable quic payload", zap.Stringer("peer", r.peer), zap.Error(err))
				continue
			}
			return r.peer, msg, nil
		case <-ctx.Done():
			return netip.AddrPort{}, wire.Message{}, ErrSocketClosed
		}
	}
}

func (s *quicSocket) LocalAddr() netip.AddrPort { return s.local }

func (s *quicSocket) Close() error {
	s.mu.Lock()
	for _, conn := range s.peers {
		conn.CloseWithError(0, "shutdown")
	}
	s.mu.Unlock()
	return s.listener.Close()
}
