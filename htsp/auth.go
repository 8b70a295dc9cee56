package htsp

import "crypto/sha1"

// credentials is the identity attached to every request once
// Authenticate has succeeded.
type credentials struct {
	username string
	digest   []byte
}

// digestFor computes the HTSP challenge response: a SHA-1 over the
// plaintext password followed by the raw server challenge bytes. The
// hash is fixed by the protocol.
func digestFor(password string, challenge []byte) []byte {
	h := sha1.New()
	h.Write([]byte(password))
	h.Write(challenge)
	return h.Sum(nil)
}
