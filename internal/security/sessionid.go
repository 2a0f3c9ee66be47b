package security

import (
	"crypto/rand"
	"math/big"
)

const (
	sessionIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	// SessionIDLength is comfortably above the 33 characters the agent runtime requires
	SessionIDLength = 36
)

var alphabetSize = big.NewInt(int64(len(sessionIDAlphabet)))

// NewSessionID returns a random session token drawn from a fixed alphabet.
// It panics only if the system CSPRNG is unavailable.
func NewSessionID() string {
	b := make([]byte, SessionIDLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			panic("security: crypto/rand unavailable: " + err.Error())
		}
		b[i] = sessionIDAlphabet[n.Int64()]
	}
	return string(b)
}
