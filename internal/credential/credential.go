// Package credential derives and verifies non-reversible verifiers for
// upstream API keys. Plaintext keys exist only for the duration of a
// derivation call; everything at rest is an argon2id verifier plus its salt.
package credential

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

var (
	ErrCredentialFormat     = errors.New("credential format invalid")
	ErrCredentialDerivation = errors.New("credential derivation failed")
)

const (
	saltLength     = 16
	verifierLength = 32
)

// Record is the at-rest form of one upstream credential. Verifier and Salt
// are base64 (raw, std alphabet) encoded. A Record never contains plaintext.
type Record struct {
	Verifier string
	Salt     string
}

// Params are the argon2id cost parameters. Derivation is intentionally slow;
// tests lower these to keep suites fast.
type Params struct {
	Time    uint32
	Memory  uint32
	Threads uint8
}

func DefaultParams() Params {
	return Params{Time: 1, Memory: 64 * 1024, Threads: 4}
}

// Unit performs derivations on a bounded pool so that a burst of key checks
// can't occupy every serving goroutine with memory-hard work.
type Unit struct {
	params Params
	sem    chan struct{}
}

func NewUnit(params Params, maxConcurrent int) *Unit {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Unit{
		params: params,
		sem:    make(chan struct{}, maxConcurrent),
	}
}

// Encrypt derives a verifier for the given plaintext key under a fresh
// random salt. The plaintext is not retained and must never be logged.
func (u *Unit) Encrypt(
	plaintextKey string,
) (
	Record,
	error,
) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return Record{}, fmt.Errorf("%w: couldn't generate salt: %v", ErrCredentialDerivation, err)
	}

	verifier, err := u.derive([]byte(plaintextKey), salt)
	if err != nil {
		return Record{}, err
	}

	return Record{
		Verifier: base64.RawStdEncoding.EncodeToString(verifier),
		Salt:     base64.RawStdEncoding.EncodeToString(salt),
	}, nil
}

// Verify re-derives a verifier from the candidate key and the record's salt
// and compares it to the stored verifier in constant time. Any format or
// derivation failure is an error, which callers must treat as deny.
func (u *Unit) Verify(
	candidateKey string,
	record Record,
) (
	bool,
	error,
) {
	salt, err := base64.RawStdEncoding.DecodeString(record.Salt)
	if err != nil {
		return false, fmt.Errorf("%w: bad salt encoding: %v", ErrCredentialFormat, err)
	}
	if len(salt) != saltLength {
		return false, fmt.Errorf("%w: salt is %d bytes, want %d", ErrCredentialFormat, len(salt), saltLength)
	}

	stored, err := base64.RawStdEncoding.DecodeString(record.Verifier)
	if err != nil {
		return false, fmt.Errorf("%w: bad verifier encoding: %v", ErrCredentialFormat, err)
	}
	if len(stored) != verifierLength {
		return false, fmt.Errorf("%w: verifier is %d bytes, want %d", ErrCredentialFormat, len(stored), verifierLength)
	}

	derived, err := u.derive([]byte(candidateKey), salt)
	if err != nil {
		return false, err
	}

	return subtle.ConstantTimeCompare(derived, stored) == 1, nil
}

func (u *Unit) derive(
	key []byte,
	salt []byte,
) (
	[]byte,
	error,
) {
	if u.params.Time == 0 || u.params.Memory == 0 || u.params.Threads == 0 {
		return nil, fmt.Errorf("%w: argon2 parameters must be non-zero", ErrCredentialDerivation)
	}

	u.sem <- struct{}{}
	defer func() { <-u.sem }()

	return argon2.IDKey(key, salt, u.params.Time, u.params.Memory, u.params.Threads, verifierLength), nil
}
