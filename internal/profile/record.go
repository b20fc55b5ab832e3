package profile

import "bytes"

// Record is the versioned opaque metadata associated with an identity.
type Record struct {
	Version int32
	Payload []byte
}

// NewRecord copies payload so the caller may keep using its buffer.
func NewRecord(version int32, payload []byte) Record {
	return Record{Version: version, Payload: bytes.Clone(payload)}
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	return NewRecord(r.Version, r.Payload)
}

func (r Record) Equal(other Record) bool {
	return r.Version == other.Version && bytes.Equal(r.Payload, other.Payload)
}
