package connection

import (
	"encoding/binary"
	"errors"
	"time"
)

const timestampSize = 8

var ErrShortMessage = errors.New("connection: incomplete frame: not enough data for timestamp")

// PutTimestamped frames one JPEG for the wire: the capture time as big
// endian Unix microseconds followed by the image bytes.
func PutTimestamped(ts time.Time, jpeg []byte) []byte {
	b := make([]byte, timestampSize+len(jpeg))
	binary.BigEndian.PutUint64(b, uint64(ts.UnixMicro()))
	copy(b[timestampSize:], jpeg)
	return b
}

// SplitTimestamped decodes one message written by PutTimestamped. The
// returned image aliases b.
func SplitTimestamped(b []byte) (time.Time, []byte, error) {
	if len(b) <= timestampSize {
		return time.Time{}, nil, ErrShortMessage
	}
	ts := time.UnixMicro(int64(binary.BigEndian.Uint64(b[:timestampSize])))
	return ts, b[timestampSize:], nil
}
