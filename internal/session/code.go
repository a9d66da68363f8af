package session

import (
	"crypto/rand"
	"math/big"
)

const codeLength = 5

// GenerateCode returns a random fixed-width numeric room code. Uniqueness is
// the store's job; CreateRoom retries on ErrCodeTaken.
func GenerateCode() (string, error) {
	const charset = "0123456789"

	code := make([]byte, codeLength)
	for i := 0; i < codeLength; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}
