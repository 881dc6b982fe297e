package hub

import (
	"crypto/rand"
	"math/big"
)

const codeCharset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// GenerateCode returns a six character room code without look-alike characters.
func GenerateCode() (string, error) {
	code := make([]byte, 6)
	for i := range code {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeCharset))))
		if err != nil {
			return "", err
		}
		code[i] = codeCharset[num.Int64()]
	}
	return string(code), nil
}
