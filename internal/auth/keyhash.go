// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"
)

// Error codes for key hashing and checks.
const (
	CodeEmptyKey    = "AUTH_EMPTY_KEY"
	CodeInvalidHash = "AUTH_INVALID_HASH"
	CodeSaltFailed  = "AUTH_SALT_FAILED"
	CodeKeyRejected = "AUTH_KEY_REJECTED"
)

// OWASP-recommended argon2id parameters.
const (
	argon2Time    = 1         // iterations
	argon2Memory  = 64 * 1024 // 64 MB
	argon2Threads = 4         // parallelism
	argon2SaltLen = 16        // salt length in bytes
	argon2KeyLen  = 32        // output length in bytes
)

const hashPrefix = "$argon2id$"

// params is a decoded PHC string.
type params struct {
	memory  uint32
	time    uint32
	threads uint8
	salt    []byte
	hash    []byte
}

// HashKey produces an argon2id PHC string for key:
// $argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>
func HashKey(key string) (string, error) {
	if key == "" {
		return "", oops.Code(CodeEmptyKey).Errorf("key cannot be empty")
	}

	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", oops.Code(CodeSaltFailed).Wrap(err)
	}
	hash := argon2.IDKey([]byte(key), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)

	return fmt.Sprintf(
		"%sv=%d$m=%d,t=%d,p=%d$%s$%s",
		hashPrefix,
		argon2.Version,
		argon2Memory,
		argon2Time,
		argon2Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// ValidateHash reports whether encoded is an argon2id hash VerifyKey can
// read.
func ValidateHash(encoded string) error {
	_, err := parseHash(encoded)
	return err
}

// VerifyKey checks key against encoded. It returns (false, nil) on a
// mismatch and an error only when encoded is unreadable.
func VerifyKey(key, encoded string) (bool, error) {
	p, err := parseHash(encoded)
	if err != nil {
		return false, err
	}
	if key == "" {
		return false, nil
	}
	computed := argon2.IDKey([]byte(key), p.salt, p.time, p.memory, p.threads, uint32(len(p.hash))) //nolint:gosec // length bounded by parseHash
	return subtle.ConstantTimeCompare(computed, p.hash) == 1, nil
}

func parseHash(encoded string) (params, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 {
		return params{}, oops.Code(CodeInvalidHash).Errorf("invalid hash format")
	}
	if parts[1] != "argon2id" {
		return params{}, oops.Code(CodeInvalidHash).Errorf("unsupported hash algorithm: %s", parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return params{}, oops.Code(CodeInvalidHash).Wrap(err)
	}
	if version != argon2.Version {
		return params{}, oops.Code(CodeInvalidHash).Errorf("unsupported argon2 version %d", version)
	}

	var memory, time, threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return params{}, oops.Code(CodeInvalidHash).Wrap(err)
	}
	if threads == 0 || threads > 255 {
		return params{}, oops.Code(CodeInvalidHash).Errorf("threads value %d out of range", threads)
	}
	if memory == 0 || time == 0 {
		return params{}, oops.Code(CodeInvalidHash).Errorf("memory and time must be positive")
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return params{}, oops.Code(CodeInvalidHash).Wrap(err)
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return params{}, oops.Code(CodeInvalidHash).Wrap(err)
	}
	if len(hash) == 0 || len(hash) > 1024 {
		return params{}, oops.Code(CodeInvalidHash).Errorf("invalid hash key length: %d", len(hash))
	}

	return params{
		memory:  memory,
		time:    time,
		threads: uint8(threads),
		salt:    salt,
		hash:    hash,
	}, nil
}
