package communication

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameSize bounds the payload of a single frame.
const MaxFrameSize = 1 << 22

// IntToBytes encodes n as a 4-byte big-endian length prefix.
func IntToBytes(n int) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(n))
	return buf
}

// BytesToInt decodes a 4-byte big-endian length prefix.
func BytesToInt(b []byte) int {
	return int(binary.BigEndian.Uint32(b))
}

// writeFrame writes payload prefixed by its size in a single write.
func writeFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("communication: frame of %d bytes exceeds %d", len(payload), MaxFrameSize)
	}
	_, err := w.Write(append(IntToBytes(len(payload)), payload...))
	return err
}

// readFrame reads one size-prefixed payload.
func readFrame(r io.Reader) ([]byte, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}
	size := BytesToInt(prefix[:])
	if size > MaxFrameSize {
		return nil, fmt.Errorf("communication: frame of %d bytes exceeds %d", size, MaxFrameSize)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
