package utils

import (
	"crypto/rand"
	"encoding/hex"
	"math/big"
)

const (
	// AccessCodePrefix marks every estate access code.
	AccessCodePrefix = "MUSA"
	// AccessCodeRandomLength is the number of random symbols after the prefix.
	AccessCodeRandomLength = 6
	accessCodeAlphabet     = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// GenerateAccessCode returns the prefix followed by six symbols drawn
// uniformly from a 36-symbol alphabet, e.g. "MUSA7K2P1Q".
func GenerateAccessCode() (string, error) {
	buf := make([]byte, AccessCodeRandomLength)
	max := big.NewInt(int64(len(accessCodeAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = accessCodeAlphabet[n.Int64()]
	}
	return AccessCodePrefix + string(buf), nil
}

// GenerateToken returns n random bytes hex encoded.
func GenerateToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
