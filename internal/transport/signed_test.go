package transport

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/shardmesh/chitchat/internal/state"
	"github.com/shardmesh/chitchat/internal/wire"
)

func TestSignedTransportRoundTrip(t *testing.T) {
	ctx := context.Background()
	inner := NewChannelTransport(1 << 16)

	pubA, privA, err := GenerateKey()
	if err != nil {
		t.Fatalf("generate key A: %v", err)
	}
	pubB, privB, err := GenerateKey()
	if err != nil {
		t.Fatalf("generate key B: %v", err)
	}

	trA := NewSignedTransport(inner, privA, pubA, nil)
	trB := NewSignedTransport(inner, privB, pubB, nil)

	addrA := mustAddrPort(t, "127.0.0.1:7300")
	addrB := mustAddrPort(t, "127.0.0.1:7301")

	sockA, err := trA.Open(ctx, addrA)
	if err != nil {
		t.Fatalf("open A: %v", err)
	}
	defer sockA.Close()
	sockB, err := trB.Open(ctx, addrB)
	if err != nil {
		t.Fatalf("open B: %v", err)
	}
	defer sockB.Close()

	sockA.Send(ctx, addrB, wire.AckMsg(state.Delta{}))

	recvCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	peer, got, err := sockB.Recv(recvCtx)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if peer != addrA {
		t.Fatalf("peer = %v, want %v", peer, addrA)
	}
	if got.Tag != wire.TagAck {
		t.Fatalf("unexpected tag: %v", got.Tag)
	}
}

func TestSignedTransportRejectsUntrustedPubkey(t *testing.T) {
	ctx := context.Background()
	inner := NewChannelTransport(1 << 16)

	pubA, privA, _ := GenerateKey()
	pubB, privB, _ := GenerateKey()
	pubTrusted, _, _ := GenerateKey()

	trA := NewSignedTransport(inner, privA, pubA, nil)
	trB := NewSignedTransport(inner, privB, pubB, nil)
	trB.AllowList = map[string]struct{}{string(pubTrusted): {}}

	addrA := mustAddrPort(t, "127.0.0.1:7400")
	addrB := mustAddrPort(t, "127.0.0.1:7401")

	sockA, _ := trA.Open(ctx, addrA)
	defer sockA.Close()
	sockB, _ := trB.Open(ctx, addrB)
	defer sockB.Close()

	sockA.Send(ctx, addrB, wire.AckMsg(state.Delta{}))

	recvCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	if _, _, err := sockB.Recv(recvCtx); err == nil {
		t.Fatalf("expected no message from a pubkey not on the allow-list")
	}
}

func TestSignedTransportRejectsTamperedPayload(t *testing.T) {
	ctx := context.Background()
	inner := NewChannelTransport(1 << 16)

	pubA, privA, _ := GenerateKey()

	addrA := mustAddrPort(t, "127.0.0.1:7500")
	addrB := mustAddrPort(t, "127.0.0.1:7501")

	rawA, err := inner.OpenRaw(ctx, addrA)
	if err != nil {
		t.Fatalf("open raw A: %v", err)
	}
	defer rawA.Close()
	rawB, err := inner.OpenRaw(ctx, addrB)
	if err != nil {
		t.Fatalf("open raw B: %v", err)
	}
	defer rawB.Close()

	signerA := &signedRawSocket{inner: rawA, priv: privA, pub: pubA, logger: zap.NewNop()}
	payload := wire.Encode(wire.AckMsg(state.Delta{}))
	signerA.SendTo(ctx, addrB, payload)

	recvCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, tamperable, err := rawB.RecvFrom(recvCtx)
	if err != nil {
		t.Fatalf("recv raw frame: %v", err)
	}
	tamperable[len(tamperable)-1] ^= 0xff // flip the last payload byte post-signature

	rawA2, err := inner.OpenRaw(ctx, mustAddrPort(t, "127.0.0.1:7502"))
	if err != nil {
		t.Fatalf("open raw A2: %v", err)
	}
	defer rawA2.Close()
	rawA2.SendTo(ctx, addrB, tamperable)

	receiverB := &signedRawSocket{inner: rawB, logger: zap.NewNop()}
	shortCtx, cancel2 := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel2()
	if _, _, err := receiverB.RecvFrom(shortCtx); err == nil {
		t.Fatalf("expected a tampered frame to fail signature verification")
	}
}
