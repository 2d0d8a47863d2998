package codec

import (
	"errors"
	"fmt"
)

// Limit wraps another codec and bounds payload sizes in both directions.
// A retained value larger than MaxEncode is refused instead of stored, and a
// payload larger than MaxDecode (e.g. written by another process sharing a
// Redis provider) is rejected before Inner sees it. Zero disables a bound.
type Limit[V any] struct {
	// Inner is the underlying codec being wrapped. It must be set.
	Inner Codec[V]
	// MaxEncode is the maximum permitted encoded length in bytes.
	MaxEncode int
	// MaxDecode is the maximum permitted length (in bytes) of the incoming
	// payload for Decode. If payload length exceeds MaxDecode, Decode returns
	// an error without invoking Inner.
	MaxDecode int
}

// ErrTooLarge is wrapped by Limit when a payload exceeds a bound.
var ErrTooLarge = errors.New("codec: payload too large")

func (c Limit[V]) Encode(v V) ([]byte, error) {
	b, err := c.Inner.Encode(v)
	if err != nil {
		return nil, err
	}
	if c.MaxEncode > 0 && len(b) > c.MaxEncode {
		return nil, fmt.Errorf("%w: encoded %d > %d", ErrTooLarge, len(b), c.MaxEncode)
	}
	return b, nil
}

func (c Limit[V]) Decode(b []byte) (V, error) {
	if c.MaxDecode > 0 && len(b) > c.MaxDecode {
		var zero V
		return zero, fmt.Errorf("%w: %d > %d", ErrTooLarge, len(b), c.MaxDecode)
	}
	return c.Inner.Decode(b)
}
