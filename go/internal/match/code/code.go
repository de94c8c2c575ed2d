// Package code generates the short codes viewers use to find a match.
package code

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

const (
	// Alphabet leaves out I, O, 0 and 1, which are easy to misread.
	Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	Length   = 4

	DefaultMaxAttempts = 20
)

// ErrExhausted is returned when every attempt produced a code already in use
var ErrExhausted = errors.New("no free match code")

// ExistsFunc reports whether a canonical code is already taken.
type ExistsFunc func(ctx context.Context, code string) (bool, error)

// Generator draws random codes until it finds a free one.
type Generator struct {
	exists      ExistsFunc
	maxAttempts int
	random      func(n int) (int, error)
}

// NewGenerator creates a generator that checks candidates with exists.
func NewGenerator(exists ExistsFunc) *Generator {
	return &Generator{
		exists:      exists,
		maxAttempts: DefaultMaxAttempts,
		random:      cryptoIntn,
	}
}

// Next returns a code that exists did not report as taken.
func (g *Generator) Next(ctx context.Context) (string, error) {
	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		c, err := g.candidate()
		if err != nil {
			return "", err
		}
		taken, err := g.exists(ctx, c)
		if err != nil {
			return "", fmt.Errorf("check code %s: %w", c, err)
		}
		if !taken {
			return c, nil
		}
	}
	return "", fmt.Errorf("after %d attempts: %w", g.maxAttempts, ErrExhausted)
}

func (g *Generator) candidate() (string, error) {
	var b strings.Builder
	b.Grow(Length)
	for i := 0; i < Length; i++ {
		n, err := g.random(len(Alphabet))
		if err != nil {
			return "", fmt.Errorf("random code: %w", err)
		}
		b.WriteByte(Alphabet[n])
	}
	return b.String(), nil
}

func cryptoIntn(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}

// Canonical normalizes user input to the stored form.
func Canonical(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Valid reports whether code, once canonical, could have been generated.
func Valid(code string) bool {
	c := Canonical(code)
	if len(c) != Length {
		return false
	}
	for i := 0; i < len(c); i++ {
		if strings.IndexByte(Alphabet, c[i]) < 0 {
			return false
		}
	}
	return true
}
