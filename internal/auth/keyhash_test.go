// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/storyengine/internal/auth"
	"github.com/holomush/storyengine/pkg/errutil"
)

func TestHashKey(t *testing.T) {
	t.Run("produces an argon2id hash", func(t *testing.T) {
		hash, err := auth.HashKey("lantern")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=65536,t=1,p=4$"))
		require.NoError(t, auth.ValidateHash(hash))
	})

	t.Run("salts every hash", func(t *testing.T) {
		h1, err := auth.HashKey("lantern")
		require.NoError(t, err)
		h2, err := auth.HashKey("lantern")
		require.NoError(t, err)
		assert.NotEqual(t, h1, h2)
	})

	t.Run("rejects empty key", func(t *testing.T) {
		_, err := auth.HashKey("")
		errutil.AssertErrorCode(t, err, auth.CodeEmptyKey)
	})
}

func TestVerifyKey(t *testing.T) {
	hash, err := auth.HashKey("lantern")
	require.NoError(t, err)

	ok, err := auth.VerifyKey("lantern", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = auth.VerifyKey("torch", hash)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = auth.VerifyKey("", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestValidateHash_Invalid(t *testing.T) {
	tests := []struct {
		name string
		hash string
	}{
		{"not a hash", "not-a-valid-hash"},
		{"wrong algorithm", "$argon2i$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA"},
		{"bad version", "$argon2id$vXX$m=65536,t=1,p=4$c2FsdA$aGFzaA"},
		{"unknown version", "$argon2id$v=16$m=65536,t=1,p=4$c2FsdA$aGFzaA"},
		{"bad parameters", "$argon2id$v=19$invalid$c2FsdA$aGFzaA"},
		{"zero memory", "$argon2id$v=19$m=0,t=1,p=4$c2FsdA$aGFzaA"},
		{"bad salt", "$argon2id$v=19$m=65536,t=1,p=4$!!!invalid!!!$aGFzaA"},
		{"bad hash", "$argon2id$v=19$m=65536,t=1,p=4$c2FsdA$!!!invalid!!!"},
		{"empty hash", "$argon2id$v=19$m=65536,t=1,p=4$c2FsdA$"},
		{"threads overflow", "$argon2id$v=19$m=65536,t=1,p=256$c2FsdA$aGFzaA"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errutil.AssertErrorCode(t, auth.ValidateHash(tt.hash), auth.CodeInvalidHash)
			_, err := auth.VerifyKey("lantern", tt.hash)
			errutil.AssertErrorCode(t, err, auth.CodeInvalidHash)
		})
	}
}

func TestCheckDMKey(t *testing.T) {
	hash, err := auth.HashKey("lantern")
	require.NoError(t, err)

	require.NoError(t, auth.CheckDMKey("saltmarsh", "", ""), "worlds without a hash admit every DM")
	require.NoError(t, auth.CheckDMKey("saltmarsh", "lantern", hash))
	errutil.AssertErrorCode(t, auth.CheckDMKey("saltmarsh", "torch", hash), auth.CodeKeyRejected)
	errutil.AssertErrorCode(t, auth.CheckDMKey("saltmarsh", "", hash), auth.CodeKeyRejected)
	errutil.AssertErrorCode(t, auth.CheckDMKey("saltmarsh", "lantern", "garbage"), auth.CodeInvalidHash)
}
