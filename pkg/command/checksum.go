package command

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"strings"
)

// Algorithm names a digest algorithm.
type Algorithm string

const (
	// MD5 is the default: it matches the ETag of single part S3 uploads.
	MD5    Algorithm = "MD5"
	SHA256 Algorithm = "SHA-256"
)

var (
	ErrUnsupportedAlgorithm = errors.New("unsupported checksum algorithm")
	ErrChecksumMismatch     = errors.New("checksum mismatch")
	ErrSizeMismatch         = errors.New("size mismatch")
)

// Checksum is an (algorithm, hex value) pair.
type Checksum struct {
	Algorithm Algorithm `json:"algorithm" mapstructure:"algorithm"`
	Value     string    `json:"value" mapstructure:"value"`
}

// ParseAlgorithm accepts the usual spellings of the supported algorithms.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch strings.ToUpper(strings.ReplaceAll(s, "_", "-")) {
	case "", "MD5":
		return MD5, nil
	case "SHA256", "SHA-256":
		return SHA256, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, s)
	}
}

// NewHasher returns a fresh hash for the algorithm.
func NewHasher(a Algorithm) (hash.Hash, error) {
	algo, err := ParseAlgorithm(string(a))
	if err != nil {
		return nil, err
	}
	if algo == SHA256 {
		return sha256.New(), nil
	}
	return md5.New(), nil
}

// Sum finalizes h into a Checksum.
func Sum(a Algorithm, h hash.Hash) Checksum {
	return Checksum{Algorithm: a, Value: hex.EncodeToString(h.Sum(nil))}
}

// IsZero reports whether no checksum value is set.
func (c Checksum) IsZero() bool {
	return c.Value == ""
}

// Equal compares algorithms and hex values case-insensitively.
func (c Checksum) Equal(o Checksum) bool {
	a, errA := ParseAlgorithm(string(c.Algorithm))
	b, errB := ParseAlgorithm(string(o.Algorithm))
	if errA != nil || errB != nil || a != b {
		return false
	}
	return strings.EqualFold(c.Value, o.Value)
}

func (c Checksum) String() string {
	return fmt.Sprintf("%s:%s", c.Algorithm, c.Value)
}
