package security

import (
	"crypto/rand"
	"math/big"
	"strconv"

	"golang.org/x/crypto/bcrypt"
)

const (
	closeCodeMin  = 100000
	closeCodeSpan = 900000
)

// NewCloseCode returns a uniformly random six digit code in [100000, 999999].
func NewCloseCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(closeCodeSpan))
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(n.Int64()+closeCodeMin, 10), nil
}

// HashCloseCode stores codes the way passwords are stored.
func HashCloseCode(code string, cost int) ([]byte, error) {
	if cost < bcrypt.MinCost {
		cost = bcrypt.DefaultCost
	}
	return bcrypt.GenerateFromPassword([]byte(code), cost)
}

// CloseCodeMatches reports whether code hashes to hash.
func CloseCodeMatches(hash []byte, code string) bool {
	if len(hash) == 0 || code == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(code)) == nil
}

// IsCloseCodeShape reports whether s is exactly six ASCII digits.
func IsCloseCodeShape(s string) bool {
	if len(s) != 6 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
