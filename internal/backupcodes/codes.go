// Package backupcodes generates recovery codes and the salted hashes that are
// the only form in which they are ever stored.
package backupcodes

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"math/big"
	"strings"
)

// Alphabet drops 0/O and 1/I so codes survive being read aloud or retyped.
const Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// SaltSize is the per-set salt length in bytes.
const SaltSize = 16

// Set is a freshly generated code set. Codes holds the plaintext for one-time
// display; Hashes and Salt are what gets persisted.
type Set struct {
	Codes  []string
	Salt   []byte
	Hashes [][32]byte
}

// RandomIndex returns a uniform index in [0, max).
type RandomIndex func(max int) (int, error)

// Generate builds count distinct codes of length characters for userID.
func Generate(userID string, count, length int, randomIndex RandomIndex) (Set, error) {
	if count <= 0 {
		return Set{}, errors.New("backup code count must be > 0")
	}
	if length < 8 {
		return Set{}, errors.New("backup code length must be >= 8")
	}
	if randomIndex == nil {
		randomIndex = cryptoRandomIndex
	}

	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return Set{}, err
	}

	set := Set{
		Codes:  make([]string, 0, count),
		Salt:   salt,
		Hashes: make([][32]byte, 0, count),
	}
	seen := make(map[string]struct{}, count)

	for attempts := 0; len(set.Codes) < count; attempts++ {
		if attempts > count*8 {
			return Set{}, errors.New("backup code generation exhausted retries")
		}
		raw, err := newCode(length, randomIndex)
		if err != nil {
			return Set{}, err
		}
		if _, dup := seen[raw]; dup {
			continue
		}
		seen[raw] = struct{}{}
		set.Codes = append(set.Codes, Format(raw))
		set.Hashes = append(set.Hashes, Hash(salt, userID, raw))
	}

	return set, nil
}

// Format splits a raw code into two dash-separated halves.
func Format(code string) string {
	n := len(code)
	if n < 8 {
		return code
	}
	mid := n / 2
	return code[:mid] + "-" + code[mid:]
}

// Canonicalize undoes Format and any user-side spacing or casing.
func Canonicalize(code string) string {
	s := strings.ToUpper(strings.TrimSpace(code))
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, " ", "")
	return s
}

// Hash binds a canonical code to its set salt and owner.
func Hash(salt []byte, userID, canonical string) [32]byte {
	data := make([]byte, 0, len(salt)+len(userID)+1+len(canonical))
	data = append(data, salt...)
	data = append(data, userID...)
	data = append(data, 0)
	data = append(data, canonical...)
	return sha256.Sum256(data)
}

func newCode(length int, randomIndex RandomIndex) (string, error) {
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := randomIndex(len(Alphabet))
		if err != nil {
			return "", err
		}
		b.WriteByte(Alphabet[n])
	}
	return b.String(), nil
}

func cryptoRandomIndex(max int) (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, err
	}
	return int(n.Int64()), nil
}
