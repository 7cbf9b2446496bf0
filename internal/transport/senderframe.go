package transport

import (
	"encoding/binary"
	"fmt"
	"net/netip"
)

// senderFrameAddrSize is the fixed encoding used to prefix a QUIC stream
// payload with the logical sender address (spec.md §4.4: "stream payload is
// sender_socket_addr_encoded || message_bytes so the logical sender address
// is decoupled from the NAT-observed one"). One version byte plus a 16-byte
// address plus a 2-byte port, same layout as the NodeID address encoding in
// internal/wire.
const senderFrameAddrSize = 1 + 16 + 2

func encodeSenderFrame(sender netip.AddrPort, messageBytes []byte) []byte {
	frame := make([]byte, 0, senderFrameAddrSize+len(messageBytes))

	addr := sender.Addr()
	versionTag := byte(6)
	if addr.Is4() || addr.Is4In6() {
		versionTag = 4
	}
	frame = append(frame, versionTag)
	as16 := addr.As16()
	frame = append(frame, as16[:]...)

	var portBuf [2]byte
	binary.BigEndian.PutUint16(portBuf[:], sender.Port())
	frame = append(frame, portBuf[:]...)

	frame = append(frame, messageBytes...)
	return frame
}

func decodeSenderFrame(raw []byte) (netip.AddrPort, []byte, error) {
	if len(raw) < senderFrameAddrSize {
		return netip.AddrPort{}, nil, fmt.Errorf("transport: sender frame too short (%d bytes)", len(raw))
	}
	versionTag := raw[0]
	var addrBytes [16]byte
	copy(addrBytes[:], raw[1:17])
	addr := netip.AddrFrom16(addrBytes)
	if versionTag == 4 {
		addr = addr.Unmap()
	}
	port := binary.BigEndian.Uint16(raw[17:19])
	return netip.AddrPortFrom(addr, port), raw[19:], nil
}
