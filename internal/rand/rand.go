package rand

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/storefront/adminsync/pkg/constants"
)

const (
	charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789" // base62
)

var charsetLen = len(charset)

var defaultSource = newSource()

func newSource() *source {
	seed := make([]byte, 16)

	if _, err := cryptorand.Read(seed); err != nil {
		panic("unreachable")
	}

	return &source{
		//nolint:gosec // no security required
		rng: rand.New(rand.NewPCG(
			binary.LittleEndian.Uint64(seed[:8]),
			binary.LittleEndian.Uint64(seed[8:]),
		)),
	}
}

type source struct {
	mut sync.Mutex
	rng *rand.Rand
}

func (s *source) base62Str(length int) string {
	buf := make([]byte, length)

	s.mut.Lock()
	for i := range buf {
		buf[i] = charset[s.rng.IntN(charsetLen)]
	}
	s.mut.Unlock()

	return string(buf)
}

// Generator produces unique string identifiers.
type Generator func() string

// NewProvisionalID returns a locally unique id in the provisional namespace.
// Server assigned ids never carry the prefix, so the two cannot collide.
func NewProvisionalID() string {
	return constants.ProvisionalIDPrefix + defaultSource.base62Str(constants.ProvisionalIDLength)
}

// IsProvisional reports whether id was produced by NewProvisionalID.
func IsProvisional(id string) bool {
	return strings.HasPrefix(id, constants.ProvisionalIDPrefix)
}
