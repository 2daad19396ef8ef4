package codec

import (
	"fmt"
	"io"

	"github.com/storefront/adminsync/pkg/constants"
)

type Encoder interface {
	Encode(v any) error
}

type Decoder interface {
	Decode(v any) error
}

type Marshaler interface {
	Marshal(v any) ([]byte, error)
	NewEncoder(w io.Writer) Encoder
}

type Unmarshaler interface {
	Unmarshal(data []byte, dst any) error
	NewDecoder(r io.Reader) Decoder
}

// Codec marshals and unmarshals one wire encoding.
type Codec interface {
	Marshaler
	Unmarshaler
	// Name is the websocket subprotocol negotiated for this encoding.
	Name() string
	// Binary reports whether frames are sent as binary messages.
	Binary() bool
}

// ByName returns the codec registered under the given subprotocol name.
func ByName(name string) (Codec, error) {
	switch name {
	case "", JSONName:
		return NewJSON(), nil
	case CBORName:
		return NewCBOR(), nil
	default:
		return nil, fmt.Errorf("%w: %q", constants.ErrUnknownEncoder, name)
	}
}
