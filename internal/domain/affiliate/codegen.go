package affiliate

import (
	"crypto/rand"
	"fmt"
)

const (
	codeAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	// CodeLength gives 62^8 possible codes.
	CodeLength = 8
	// largest multiple of 62 that fits in a byte; higher bytes are rejected to avoid modulo bias
	codeByteLimit = 248
)

// CodeGenerator produces candidate link codes.
type CodeGenerator func() (string, error)

// RandomCode draws an 8 character base62 code from crypto/rand.
func RandomCode() (string, error) {
	out := make([]byte, 0, CodeLength)
	buf := make([]byte, CodeLength*2)
	for len(out) < CodeLength {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		for _, b := range buf {
			if b >= codeByteLimit {
				continue
			}
			out = append(out, codeAlphabet[int(b)%len(codeAlphabet)])
			if len(out) == CodeLength {
				break
			}
		}
	}
	return string(out), nil
}
