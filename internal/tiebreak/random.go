package tiebreak

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// Source picks an index in [0, n).
type Source interface {
	Intn(n int) (int, error)
}

// CryptoSource draws from crypto/rand. It is unbiased for any n.
type CryptoSource struct{}

func (CryptoSource) Intn(n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("invalid range %d", n)
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}

// SourceFunc adapts a plain function.
type SourceFunc func(n int) (int, error)

func (f SourceFunc) Intn(n int) (int, error) { return f(n) }
