// Package random supplies hex-encoded random strings for cookie and CSRF
// key defaults.
package random

import (
	"crypto/rand"
	"encoding/hex"
)

func String(n int) string {
	bytes := make([]byte, n)

	_, err := rand.Read(bytes)
	if err != nil {
		panic(err)
	}

	return hex.EncodeToString(bytes)
}
