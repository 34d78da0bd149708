package domain

import (
	"crypto/rand"
	"math/big"
	"strings"

	"github.com/rs/zerolog/log"
)

// Pin is the human-shareable room code, distinct from the room id.
// Digits are grouped in blocks of 4 for reading aloud.
type Pin string

const (
	pinBlocks    = 3
	pinBlockSize = 4
)

// NewPin returns a code like "4821-0937-5614".
func NewPin() Pin {
	blocks := make([]string, pinBlocks)
	for i := range blocks {
		var b strings.Builder
		for range pinBlockSize {
			b.WriteByte('0' + byte(randomDigit()))
		}
		blocks[i] = b.String()
	}
	return Pin(strings.Join(blocks, "-"))
}

func randomDigit() int {
	n, err := rand.Int(rand.Reader, big.NewInt(10))
	if err != nil {
		log.Panic().Err(err).Str("module", "domain").Msg("crypto rand unavailable")
	}
	return int(n.Int64())
}
