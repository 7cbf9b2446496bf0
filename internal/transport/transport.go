// Package transport implements the pluggable datagram/stream transport
// contract from spec.md §4.4: a Transport opens a bound Socket; a Socket
// sends best-effort and receives only verified, decoded messages.
package transport

import (
	"context"
	"errors"
	"net/netip"

	"go.uber.org/zap"

	"github.com/shardmesh/chitchat/internal/wire"
)

// ErrSocketClosed is returned by Recv once a Socket has been closed and its
// receive queue drained.
var ErrSocketClosed = errors.New("transport: socket closed")

// Socket is owned exclusively by one engine instance and is not shared with
// other components (spec.md §5 — "the transport Socket is owned by the
// engine; no sharing"). Within that instance, Recv runs on a dedicated
// receive goroutine while Send runs on the tick/dispatch goroutine, and the
// Handle calls Close on shutdown.
type Socket interface {
	// Send is best-effort: it may silently drop the message on a transient
	// error and must never block indefinitely.
	Send(ctx context.Context, peer netip.AddrPort, msg wire.Message)

	// Recv returns the next verified, decoded message. It returns promptly
	// with ErrSocketClosed once ctx is done or Close has been called.
	// Datagrams that fail verification or decoding are never surfaced here
	// — they are logged and skipped internally.
	Recv(ctx context.Context) (netip.AddrPort, wire.Message, error)

	// LocalAddr reports the address this Socket is bound to.
	LocalAddr() netip.AddrPort

	// Close releases the underlying transport resources. Recv must
	// return ErrSocketClosed promptly afterward.
	Close() error
}

// Transport opens a Socket bound to addr.
type Transport interface {
	Open(ctx context.Context, bindAddr netip.AddrPort) (Socket, error)
}

// RawSocket is the byte-oriented primitive underneath the message-level
// Socket contract: it moves undecoded payloads. The signed-transport
// wrapper (spec.md §4.4 — "decorates another datagram transport") sits
// below wire encoding/decoding by operating directly on RawSocket, so it
// can frame a signature and pubkey around bytes that are not yet, and
// after verification still need to be, passed through wire.Decode.
type RawSocket interface {
	SendTo(ctx context.Context, peer netip.AddrPort, payload []byte)
	RecvFrom(ctx context.Context) (netip.AddrPort, []byte, error)
	LocalAddr() netip.AddrPort
	Close() error
}

// RawTransport opens a RawSocket. UDPTransport and ChannelTransport both
// implement this directly; SignedTransport wraps one.
type RawTransport interface {
	OpenRaw(ctx context.Context, bindAddr netip.AddrPort) (RawSocket, error)
}

// plainSocket adapts a RawSocket to the message-level Socket contract by
// running wire.Encode/Decode at the boundary. This is what every
// RawTransport's Open (the Transport-interface method) returns when it is
// used unwrapped.
type plainSocket struct {
	raw    RawSocket
	logger *zap.Logger
}

func newPlainSocket(raw RawSocket, logger *zap.Logger) *plainSocket {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &plainSocket{raw: raw, logger: logger}
}

func (s *plainSocket) Send(ctx context.Context, peer netip.AddrPort, msg wire.Message) {
	s.raw.SendTo(ctx, peer, wire.Encode(msg))
}

func (s *plainSocket) Recv(ctx context.Context) (netip.AddrPort, wire.Message, error) {
	for {
		peer, payload, err := s.raw.RecvFrom(ctx)
		if err != nil {
			return netip.AddrPort{}, wire.Message{}, err
		}
		msg, decErr := wire.Decode(payload)
		if decErr != nil {
			s.logger.Debug("dropping undecodable payload", zap.Stringer("peer", peer), zap.Error(decErr))
			continue
		}
		return peer, msg, nil
	}
}

func (s *plainSocket) LocalAddr() netip.AddrPort { return s.raw.LocalAddr() }

func (s *plainSocket) Close() error { return s.raw.Close() }
