package userauth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
	"strings"
)

// Default lengths for generated secrets
const (
	DefaultOTPLength    = 6
	DefaultSuffixLength = 3
)

// SecretGenerator produces unpredictable verification secrets.
// Source defaults to crypto/rand.Reader; tests may swap in a fixed reader.
type SecretGenerator struct {
	Source io.Reader
}

// NewSecretGenerator returns a generator backed by crypto/rand
func NewSecretGenerator() *SecretGenerator {
	return &SecretGenerator{Source: rand.Reader}
}

func (g *SecretGenerator) source() io.Reader {
	if g == nil || g.Source == nil {
		return rand.Reader
	}
	return g.Source
}

// RandomDigits returns n uniformly random decimal digits
func (g *SecretGenerator) RandomDigits(n int) (string, error) {
	if n <= 0 {
		n = DefaultOTPLength
	}
	ten := big.NewInt(10)
	var sb strings.Builder
	sb.Grow(n)
	for i := 0; i < n; i++ {
		d, err := rand.Int(g.source(), ten)
		if err != nil {
			return "", fmt.Errorf("failed to generate digits: %w", err)
		}
		sb.WriteByte(byte('0' + d.Int64()))
	}
	return sb.String(), nil
}

// RandomSuffix returns a short numeric suffix used to disambiguate usernames
func (g *SecretGenerator) RandomSuffix() (string, error) {
	return g.RandomDigits(DefaultSuffixLength)
}

// RandomToken returns nbytes of randomness hex encoded
func (g *SecretGenerator) RandomToken(nbytes int) (string, error) {
	if nbytes <= 0 {
		nbytes = 32
	}
	b := make([]byte, nbytes)
	if _, err := io.ReadFull(g.source(), b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
