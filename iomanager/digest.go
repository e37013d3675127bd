package iomanager

import (
	"crypto/sha1"
	"encoding/hex"

	"github.com/pkg/errors"
)

// DigestSize is the length in bytes of a Digest.
const DigestSize = sha1.Size

// Digest is the 160-bit content-address key used throughout the cache: the
// SHA-1 of a request's original key string. Equality is bytewise.
type Digest [DigestSize]byte

// Sum hashes key and returns its Digest.
func Sum(key []byte) Digest {
	return Digest(sha1.Sum(key))
}

const hexDigits = "0123456789ABCDEF"

// ParseHex parses a 40-character uppercase hex string into a Digest. Lower
// case, short, long or non-hex input is rejected — this is the NOHASH entry
// point and a malformed key must surface as InvalidArgument to the caller.
func ParseHex(s string) (Digest, error) {
	var d Digest
	if len(s) != DigestSize*2 {
		return d, errors.Errorf("digest: %q is not %d hex characters", s, DigestSize*2)
	}
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'A' && c <= 'F')) {
			return d, errors.Errorf("digest: %q contains non-uppercase-hex characters", s)
		}
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return d, errors.Wrapf(err, "digest: decoding %q", s)
	}
	copy(d[:], b)
	return d, nil
}

// String renders the digest as the uppercase hex form used for entry
// filenames and NOHASH round-tripping.
func (d Digest) String() string {
	buf := make([]byte, 0, DigestSize*2)
	for _, b := range d {
		buf = append(buf, hexDigits[b>>4], hexDigits[b&0x0f])
	}
	return string(buf)
}
