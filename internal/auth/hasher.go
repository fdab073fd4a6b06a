// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parlor Contributors

package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Supported hashing algorithms.
const (
	AlgorithmBcrypt   = "bcrypt"
	AlgorithmArgon2id = "argon2id"
)

// ErrEmptyPassword is returned when attempting to hash an empty password.
var ErrEmptyPassword = oops.Code(CodeEmptyPassword).Errorf("password cannot be empty")

// Hasher hashes passwords and verifies candidates against stored hashes.
type Hasher interface {
	// Hash produces a salted hash of the password.
	Hash(password string) (string, error)

	// Verify reports whether password matches hash. The algorithm is taken
	// from the hash itself, so accounts hashed under a previous setting keep
	// working. It returns (false, nil) on mismatch and an
	// AUTH_HASH_COMPARISON error when hash cannot be parsed.
	Verify(password, hash string) (bool, error)
}

// VerifyStored checks password against a bcrypt ($2a$, $2b$, $2y$) or
// argon2id PHC hash.
func VerifyStored(password, hash string) (bool, error) {
	switch {
	case strings.HasPrefix(hash, "$"+AlgorithmArgon2id+"$"):
		return verifyArgon2id(password, hash)
	case strings.HasPrefix(hash, "$2"):
		return verifyBcrypt(password, hash)
	default:
		return false, oops.Code(CodeHashComparison).Errorf("unrecognized password hash format")
	}
}

// NewHasher returns the Hasher for algorithm. bcryptCost is ignored for
// argon2id; zero selects bcrypt.DefaultCost.
func NewHasher(algorithm string, bcryptCost int) (Hasher, error) {
	switch algorithm {
	case "", AlgorithmBcrypt:
		return NewBcryptHasher(bcryptCost)
	case AlgorithmArgon2id:
		return NewArgon2idHasher(), nil
	default:
		return nil, oops.Code(CodeUnknownAlgorithm).
			With("algorithm", algorithm).
			Errorf("unknown password hashing algorithm %q", algorithm)
	}
}

// BcryptHasher implements Hasher with bcrypt. It reads the $2a$/$2b$/$2y$
// hashes written by other bcrypt implementations.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher creates a BcryptHasher with the given work factor.
func NewBcryptHasher(cost int) (*BcryptHasher, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, oops.Code(CodeInvalidCost).
			With("cost", cost).
			Errorf("bcrypt cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	return &BcryptHasher{cost: cost}, nil
}

// Hash produces a bcrypt hash of the password.
func (h *BcryptHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	out, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", oops.Code(CodeHashFailed).With("algorithm", AlgorithmBcrypt).Wrap(err)
	}
	return string(out), nil
}

// Verify compares password with hash using VerifyStored.
func (h *BcryptHasher) Verify(password, hash string) (bool, error) {
	return VerifyStored(password, hash)
}

func verifyBcrypt(password, hash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, oops.Code(CodeHashComparison).With("algorithm", AlgorithmBcrypt).Wrap(err)
	}
}

// OWASP-recommended argon2id parameters.
const (
	argon2Time    = 1
	argon2Memory  = 64 * 1024
	argon2Threads = 4
	argon2SaltLen = 16
	argon2KeyLen  = 32

	// argon2MaxMemory caps the m= parameter (KiB) accepted from a stored hash.
	argon2MaxMemory = 1 << 21
	// argon2MaxTime caps the t= parameter accepted from a stored hash.
	argon2MaxTime = 64
)

// Argon2idHasher implements Hasher with argon2id, encoding hashes in PHC
// string format.
type Argon2idHasher struct{}

// NewArgon2idHasher creates an Argon2idHasher.
func NewArgon2idHasher() *Argon2idHasher {
	return &Argon2idHasher{}
}

// Hash produces $argon2id$v=19$m=65536,t=1,p=4$<salt>$<key>.
func (h *Argon2idHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", oops.Code(CodeHashFailed).With("algorithm", AlgorithmArgon2id).Wrap(err)
	}
	key := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argon2Memory, argon2Time, argon2Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify compares password with hash using VerifyStored.
func (h *Argon2idHasher) Verify(password, hash string) (bool, error) {
	return VerifyStored(password, hash)
}

// verifyArgon2id recomputes the key with the parameters embedded in hash.
func verifyArgon2id(password, hash string) (bool, error) {
	p, err := parseArgon2id(hash)
	if err != nil {
		return false, oops.Code(CodeHashComparison).With("algorithm", AlgorithmArgon2id).Wrap(err)
	}
	key := argon2.IDKey([]byte(password), p.salt, p.time, p.memory, p.threads, uint32(len(p.key)))
	return subtle.ConstantTimeCompare(key, p.key) == 1, nil
}

type argon2idParams struct {
	memory  uint32
	time    uint32
	threads uint8
	salt    []byte
	key     []byte
}

func parseArgon2id(encoded string) (argon2idParams, error) {
	var p argon2idParams

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 {
		return p, oops.Errorf("invalid hash format")
	}
	if parts[1] != AlgorithmArgon2id {
		return p, oops.Errorf("unsupported hash algorithm: %s", parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return p, oops.Wrapf(err, "parse version")
	}
	if version != argon2.Version {
		return p, oops.Errorf("unsupported argon2 version %d", version)
	}

	var threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &threads); err != nil {
		return p, oops.Wrapf(err, "parse parameters")
	}
	if threads == 0 || threads > 255 {
		return p, oops.Errorf("threads value %d out of range", threads)
	}
	p.threads = uint8(threads)
	if p.time == 0 || p.time > argon2MaxTime {
		return p, oops.Errorf("time value %d out of range", p.time)
	}
	if p.memory < 8*threads || p.memory > argon2MaxMemory {
		return p, oops.Errorf("memory value %d out of range", p.memory)
	}

	var err error
	if p.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return p, oops.Wrapf(err, "decode salt")
	}
	if p.key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil {
		return p, oops.Wrapf(err, "decode key")
	}
	if len(p.key) == 0 || len(p.key) > 1<<10 {
		return p, oops.Errorf("invalid key length: %d", len(p.key))
	}
	return p, nil
}
