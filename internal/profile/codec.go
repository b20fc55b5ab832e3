package profile

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/dreamware/profilesync/internal/cluster"
)

const (
	identitySize = 8
	versionSize  = 4
	lengthSize   = 4
	headerSize   = identitySize + versionSize + lengthSize
)

// Encode writes identity, version and the length-prefixed payload.
func Encode(id cluster.Identity, rec Record) []byte {
	if uint64(len(rec.Payload)) > math.MaxUint32 {
		panic("profile: payload exceeds 4GiB")
	}
	buf := make([]byte, 0, headerSize+len(rec.Payload))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(id))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(rec.Version))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(rec.Payload)))
	return append(buf, rec.Payload...)
}

// Decode is the inverse of Encode. The returned payload does not alias data.
func Decode(data []byte) (cluster.Identity, Record, error) {
	r := reader{buf: data}

	id, err := r.uint64("identity")
	if err != nil {
		return 0, Record{}, err
	}
	version, err := r.uint32("version")
	if err != nil {
		return 0, Record{}, err
	}
	length, err := r.uint32("payload length")
	if err != nil {
		return 0, Record{}, err
	}
	payload, err := r.bytes("payload", int(length))
	if err != nil {
		return 0, Record{}, err
	}

	return cluster.Identity(id), NewRecord(int32(version), payload), nil
}

type reader struct {
	buf []byte
	off int
}

func (r *reader) need(field string, n int) error {
	if n < 0 || len(r.buf)-r.off < n {
		return fmt.Errorf("%w: %s needs %d bytes, %d left", ErrMalformedMessage, field, n, len(r.buf)-r.off)
	}
	return nil
}

func (r *reader) uint64(field string) (uint64, error) {
	if err := r.need(field, 8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v, nil
}

func (r *reader) uint32(field string) (uint32, error) {
	if err := r.need(field, 4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

func (r *reader) bytes(field string, n int) ([]byte, error) {
	if err := r.need(field, n); err != nil {
		return nil, err
	}
	v := r.buf[r.off : r.off+n]
	r.off += n
	return v, nil
}
