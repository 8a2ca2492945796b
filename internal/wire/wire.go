package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// Flag tells readers how the payload is stored.
type Flag byte

const (
	FlagRaw  Flag = 0
	FlagZstd Flag = 1
)

const (
	version   byte = 1
	HeaderLen      = 4 + 1 + 1 + 4
)

var (
	ErrCorrupt = errors.New("cqcache: corrupt entry")
	magic4     = [...]byte{'C', 'Q', 'C', 'Z'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Encode frames payload:
//
//	magic(4) | ver(1) | flag(1) | plen(u32 be) | payload(plen)
func Encode(flag Flag, payload []byte) []byte {
	out := make([]byte, HeaderLen+len(payload))
	copy(out, magic4[:])
	out[4] = version
	out[5] = byte(flag)
	binary.BigEndian.PutUint32(out[6:HeaderLen], uint32(len(payload)))
	copy(out[HeaderLen:], payload)
	return out
}

// Decode validates the frame and returns the flag and a sub-slice of b holding the payload.
func Decode(b []byte) (Flag, []byte, error) {
	if len(b) < HeaderLen || !hasMagic(b) || b[4] != version {
		return 0, nil, ErrCorrupt
	}
	flag := Flag(b[5])
	if flag != FlagRaw && flag != FlagZstd {
		return 0, nil, ErrCorrupt
	}
	plen := binary.BigEndian.Uint32(b[6:HeaderLen])
	if uint64(plen) != uint64(len(b)-HeaderLen) { // truncated or trailing junk
		return 0, nil, ErrCorrupt
	}
	return flag, b[HeaderLen:], nil
}
