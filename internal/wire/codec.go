// Package wire implements the binary on-the-wire encoding of protocol
// messages described in spec.md §6: a one-byte message tag, varint-prefixed
// counts and strings, and fixed-width integers for versions and
// heartbeats. Encoding itself does not check an MTU; DeltaSizer lets
// state.ClusterState.BuildDelta bound a delta's encoded size up front so
// the protocol engine can keep a single datagram within its MTU.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"

	"github.com/cespare/xxhash/v2"

	"github.com/shardmesh/chitchat/internal/state"
)

// Tag identifies the protocol message variant, the first byte on the wire.
type Tag byte

const (
	TagSyn       Tag = 0x00
	TagSynAck    Tag = 0x01
	TagAck       Tag = 0x02
	TagBadCluster Tag = 0x03
)

var ErrTruncated = errors.New("wire: truncated message")
var ErrUnknownTag = errors.New("wire: unknown message tag")

// encoder is an append-only byte buffer with varint/fixed-width helpers.
type encoder struct {
	buf []byte
}

func (e *encoder) byte(b byte)       { e.buf = append(e.buf, b) }
func (e *encoder) bytes(b []byte)    { e.buf = append(e.buf, b...) }
func (e *encoder) uvarint(v uint64)  { e.buf = binary.AppendUvarint(e.buf, v) }
func (e *encoder) u64(v uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	e.buf = append(e.buf, tmp[:]...)
}
func (e *encoder) str(s string) {
	e.uvarint(uint64(len(s)))
	e.buf = append(e.buf, s...)
}

// decoder reads sequentially from a byte slice, erroring on underrun.
type decoder struct {
	buf []byte
	pos int
}

func (d *decoder) remaining() int { return len(d.buf) - d.pos }

func (d *decoder) byte() (byte, error) {
	if d.remaining() < 1 {
		return 0, ErrTruncated
	}
	b := d.buf[d.pos]
	d.pos++
	return b, nil
}

func (d *decoder) bytesN(n int) ([]byte, error) {
	if d.remaining() < n {
		return nil, ErrTruncated
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

func (d *decoder) uvarint() (uint64, error) {
	v, n := binary.Uvarint(d.buf[d.pos:])
	if n <= 0 {
		return 0, ErrTruncated
	}
	d.pos += n
	return v, nil
}

func (d *decoder) u64() (uint64, error) {
	b, err := d.bytesN(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (d *decoder) str() (string, error) {
	n, err := d.uvarint()
	if err != nil {
		return "", err
	}
	b, err := d.bytesN(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

const addrWireSize = 1 + 16 + 2 // version tag + 16-byte address + port

func encodeNodeID(e *encoder, id state.NodeID) {
	e.str(id.NodeID)
	e.u64(id.GenerationID)
	addr := id.AdvertiseAddr
	a16 := addr.Addr().As16()
	tag := byte(6)
	if addr.Addr().Is4() || addr.Addr().Is4In6() {
		tag = 4
	}
	e.byte(tag)
	e.bytes(a16[:])
	var portBuf [2]byte
	binary.BigEndian.PutUint16(portBuf[:], addr.Port())
	e.bytes(portBuf[:])
}

func decodeNodeID(d *decoder) (state.NodeID, error) {
	nodeID, err := d.str()
	if err != nil {
		return state.NodeID{}, err
	}
	gen, err := d.u64()
	if err != nil {
		return state.NodeID{}, err
	}
	tag, err := d.byte()
	if err != nil {
		return state.NodeID{}, err
	}
	raw, err := d.bytesN(16)
	if err != nil {
		return state.NodeID{}, err
	}
	portBuf, err := d.bytesN(2)
	if err != nil {
		return state.NodeID{}, err
	}
	port := binary.BigEndian.Uint16(portBuf)

	var addr16 [16]byte
	copy(addr16[:], raw)
	a := netip.AddrFrom16(addr16)
	if tag == 4 {
		a = a.Unmap()
	}
	return state.NodeID{
		NodeID:        nodeID,
		GenerationID:  gen,
		AdvertiseAddr: netip.AddrPortFrom(a, port),
	}, nil
}

func nodeIDSize(id state.NodeID) int {
	return uvarintSize(uint64(len(id.NodeID))) + len(id.NodeID) + 8 + addrWireSize
}

func uvarintSize(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

func statusByte(s state.Status) byte {
	switch s {
	case state.StatusSet:
		return 0
	case state.StatusMarkedForDeletion:
		return 1
	case state.StatusRemoved:
		return 2
	default:
		return 0
	}
}

func statusFromByte(b byte) (state.Status, error) {
	switch b {
	case 0:
		return state.StatusSet, nil
	case 1:
		return state.StatusMarkedForDeletion, nil
	case 2:
		return state.StatusRemoved, nil
	default:
		return 0, fmt.Errorf("wire: unknown status byte %d", b)
	}
}

// Fingerprint returns a short, non-cryptographic hash of an encoded
// message's payload, for tagging a log line or metric label without
// printing a full delta (grounded on the teacher's xxhash.Sum64 use over
// config payloads in internal/cluster/dp/client.go). The protocol engine's
// own log lines and metrics do not call it.
func Fingerprint(b []byte) uint64 {
	return xxhash.Sum64(b)
}
