package transport

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"net/netip"

	"go.uber.org/zap"
)

// signedProtocolVersion is the only recognized frame version for now
// (spec.md §6 — "protocol_version:u8=0x00").
const signedProtocolVersion = 0x00

const (
	sigLen    = ed25519.SignatureSize // 64
	pubKeyLen = ed25519.PublicKeySize // 32
	frameHdr  = 1 + sigLen + pubKeyLen
)

// ErrUntrustedPeer documents why a frame was dropped (signed transport
// never surfaces this to callers — see spec.md §7 — but it is useful for
// tests and debug logging call sites).
var ErrUntrustedPeer = errors.New("transport: peer public key not allowed")

// SignedTransport decorates another datagram RawTransport, framing every
// payload as protocol_version:u8 | signature[64] | pubkey[32] | message_bytes
// and verifying the signature (and, optionally, an allow-list membership
// check on the pubkey) on receipt (spec.md §4.4).
//
// It authenticates individual datagrams, not cluster membership — per
// spec.md §1's Non-goals, a valid signature only proves the sender holds
// the matching private key, not that it is a recognized cluster member.
type SignedTransport struct {
	Inner      RawTransport
	PrivateKey ed25519.PrivateKey
	PublicKey  ed25519.PublicKey
	AllowList  map[string]struct{} // keyed by raw pubkey bytes; nil disables the check
	Logger     *zap.Logger
}

// GenerateKey is a convenience wrapper around ed25519.GenerateKey using
// crypto/rand, matching the teacher's own direct use of stdlib crypto
// primitives for fixed-format signing rather than a JOSE/JWT library.
func GenerateKey() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	return ed25519.GenerateKey(rand.Reader)
}

func NewSignedTransport(inner RawTransport, priv ed25519.PrivateKey, pub ed25519.PublicKey, logger *zap.Logger) *SignedTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SignedTransport{Inner: inner, PrivateKey: priv, PublicKey: pub, Logger: logger}
}

func (t *SignedTransport) logger() *zap.Logger {
	if t.Logger == nil {
		return zap.NewNop()
	}
	return t.Logger
}

func (t *SignedTransport) Open(ctx context.Context, bindAddr netip.AddrPort) (Socket, error) {
	raw, err := t.Inner.OpenRaw(ctx, bindAddr)
	if err != nil {
		return nil, fmt.Errorf("open inner transport: %w", err)
	}
	signedRaw := &signedRawSocket{
		inner:  raw,
		priv:   t.PrivateKey,
		pub:    t.PublicKey,
		allow:  t.AllowList,
		logger: t.logger(),
	}
	return newPlainSocket(signedRaw, t.logger()), nil
}

// signedRawSocket is itself a RawSocket: it signs/verifies, but still hands
// back (still wire-encoded) message bytes, leaving wire.Decode to
// plainSocket one layer up.
type signedRawSocket struct {
	inner  RawSocket
	priv   ed25519.PrivateKey
	pub    ed25519.PublicKey
	allow  map[string]struct{}
	logger *zap.Logger
}

func (s *signedRawSocket) SendTo(ctx context.Context, peer netip.AddrPort, payload []byte) {
	sig := ed25519.Sign(s.priv, payload)

	frame := make([]byte, 0, frameHdr+len(payload))
	frame = append(frame, signedProtocolVersion)
	frame = append(frame, sig...)
	frame = append(frame, s.pub...)
	frame = append(frame, payload...)

	s.inner.SendTo(ctx, peer, frame)
}

func (s *signedRawSocket) RecvFrom(ctx context.Context) (netip.AddrPort, []byte, error) {
	for {
		peer, frame, err := s.inner.RecvFrom(ctx)
		if err != nil {
			return netip.AddrPort{}, nil, err
		}
		if len(frame) < frameHdr {
			s.logger.Debug("dropping undersized signed frame", zap.Stringer("peer", peer), zap.Int("len", len(frame)))
			continue
		}
		if frame[0] != signedProtocolVersion {
			s.logger.Debug("dropping signed frame with unknown protocol version", zap.Stringer("peer", peer), zap.Uint8("version", frame[0]))
			continue
		}
		sig := frame[1 : 1+sigLen]
		pub := ed25519.PublicKey(append([]byte(nil), frame[1+sigLen:frameHdr]...))
		payload := frame[frameHdr:]

		if s.allow != nil {
			if _, ok := s.allow[string(pub)]; !ok {
				s.logger.Debug("dropping signed frame from untrusted pubkey", zap.Stringer("peer", peer))
				continue
			}
		}
		if !ed25519.Verify(pub, payload, sig) {
			s.logger.Debug("dropping signed frame with invalid signature", zap.Stringer("peer", peer))
			continue
		}
		return peer, payload, nil
	}
}

func (s *signedRawSocket) LocalAddr() netip.AddrPort { return s.inner.LocalAddr() }

func (s *signedRawSocket) Close() error { return s.inner.Close() }
