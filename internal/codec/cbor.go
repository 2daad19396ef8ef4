package codec

import (
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

const CBORName = "cbor"

// CBOR decodes nested maps as map[string]any so frames look the same as
// their JSON counterparts.
type CBOR struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

var _ Codec = (*CBOR)(nil)

func NewCBOR() *CBOR {
	enc, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic("BUG: invalid cbor encoding options: " + err.Error())
	}
	dec, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("BUG: invalid cbor decoding options: " + err.Error())
	}
	return &CBOR{enc: enc, dec: dec}
}

func (c *CBOR) Name() string { return CBORName }

func (c *CBOR) Binary() bool { return true }

func (c *CBOR) Marshal(v any) ([]byte, error) {
	return c.enc.Marshal(v)
}

func (c *CBOR) NewEncoder(w io.Writer) Encoder {
	return c.enc.NewEncoder(w)
}

func (c *CBOR) Unmarshal(data []byte, dst any) error {
	return c.dec.Unmarshal(data, dst)
}

func (c *CBOR) NewDecoder(r io.Reader) Decoder {
	return c.dec.NewDecoder(r)
}
