package wire

import "github.com/shardmesh/chitchat/internal/state"

const (
	flagAbsent  byte = 0
	flagPresent byte = 1
)

func encodeKeyedValue(e *encoder, kv state.KeyedValue) {
	e.str(kv.Key)
	e.str(kv.Value.Value)
	e.u64(kv.Value.Version)
	e.byte(statusByte(kv.Value.Status))
	e.u64(kv.Value.StatusChangeVersion)
}

func decodeKeyedValue(d *decoder) (state.KeyedValue, error) {
	key, err := d.str()
	if err != nil {
		return state.KeyedValue{}, err
	}
	val, err := d.str()
	if err != nil {
		return state.KeyedValue{}, err
	}
	ver, err := d.u64()
	if err != nil {
		return state.KeyedValue{}, err
	}
	statB, err := d.byte()
	if err != nil {
		return state.KeyedValue{}, err
	}
	status, err := statusFromByte(statB)
	if err != nil {
		return state.KeyedValue{}, err
	}
	changeVer, err := d.u64()
	if err != nil {
		return state.KeyedValue{}, err
	}
	return state.KeyedValue{
		Key: key,
		Value: state.VersionedValue{
			Value:               val,
			Version:             ver,
			Status:              status,
			StatusChangeVersion: changeVer,
		},
	}, nil
}

func keyedValueSize(kv state.KeyedValue) int {
	return uvarintSize(uint64(len(kv.Key))) + len(kv.Key) +
		uvarintSize(uint64(len(kv.Value.Value))) + len(kv.Value.Value) +
		8 + 1 + 8
}

func encodeNodeDelta(e *encoder, nd state.NodeDelta) {
	encodeNodeID(e, nd.NodeID)
	if nd.HasLastGCVersion {
		e.byte(flagPresent)
		e.u64(nd.LastGCVersion)
	} else {
		e.byte(flagAbsent)
	}
	if nd.HasMaxVersionKnown {
		e.byte(flagPresent)
		e.u64(nd.MaxVersionKnown)
	} else {
		e.byte(flagAbsent)
	}
	e.uvarint(uint64(len(nd.Values)))
	for _, kv := range nd.Values {
		encodeKeyedValue(e, kv)
	}
}

func decodeNodeDelta(d *decoder) (state.NodeDelta, error) {
	id, err := decodeNodeID(d)
	if err != nil {
		return state.NodeDelta{}, err
	}
	nd := state.NodeDelta{NodeID: id}

	flag, err := d.byte()
	if err != nil {
		return state.NodeDelta{}, err
	}
	if flag == flagPresent {
		v, err := d.u64()
		if err != nil {
			return state.NodeDelta{}, err
		}
		nd.LastGCVersion, nd.HasLastGCVersion = v, true
	}

	flag, err = d.byte()
	if err != nil {
		return state.NodeDelta{}, err
	}
	if flag == flagPresent {
		v, err := d.u64()
		if err != nil {
			return state.NodeDelta{}, err
		}
		nd.MaxVersionKnown, nd.HasMaxVersionKnown = v, true
	}

	n, err := d.uvarint()
	if err != nil {
		return state.NodeDelta{}, err
	}
	nd.Values = make([]state.KeyedValue, 0, n)
	for i := uint64(0); i < n; i++ {
		kv, err := decodeKeyedValue(d)
		if err != nil {
			return state.NodeDelta{}, err
		}
		nd.Values = append(nd.Values, kv)
	}
	return nd, nil
}

func nodeDeltaSize(nd state.NodeDelta) int {
	size := nodeIDSize(nd.NodeID) + 1 + 1 + uvarintSize(uint64(len(nd.Values)))
	if nd.HasLastGCVersion {
		size += 8
	}
	if nd.HasMaxVersionKnown {
		size += 8
	}
	for _, kv := range nd.Values {
		size += keyedValueSize(kv)
	}
	return size
}

func encodeDelta(e *encoder, d state.Delta) {
	e.uvarint(uint64(len(d.Nodes)))
	for _, nd := range d.Nodes {
		encodeNodeDelta(e, nd)
	}
}

func decodeDelta(d *decoder) (state.Delta, error) {
	n, err := d.uvarint()
	if err != nil {
		return state.Delta{}, err
	}
	out := state.Delta{Nodes: make([]state.NodeDelta, 0, n)}
	for i := uint64(0); i < n; i++ {
		nd, err := decodeNodeDelta(d)
		if err != nil {
			return state.Delta{}, err
		}
		out.Nodes = append(out.Nodes, nd)
	}
	return out, nil
}

// EncodeDelta serializes a Delta standalone.
func EncodeDelta(delta state.Delta) []byte {
	e := &encoder{}
	encodeDelta(e, delta)
	return e.buf
}

// DecodeDelta is the inverse of EncodeDelta.
func DecodeDelta(b []byte) (state.Delta, error) {
	d := &decoder{buf: b}
	return decodeDelta(d)
}
