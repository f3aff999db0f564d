package session

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// Join codes are short enough to read out loud and type. The alphabet skips
// characters that are easy to confuse on a projector (0/O, 1/I/L).
const (
	joinCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	joinCodeLength   = 6
)

func newJoinCode() (string, error) {
	code := make([]byte, joinCodeLength)
	max := big.NewInt(int64(len(joinCodeAlphabet)))

	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate join code: %w", err)
		}
		code[i] = joinCodeAlphabet[n.Int64()]
	}

	return string(code), nil
}
