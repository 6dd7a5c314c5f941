// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import "github.com/samber/oops"

// CheckDMKey admits a DM connection presenting key. A world without a key
// hash admits every DM.
func CheckDMKey(worldID, key, hash string) error {
	if hash == "" {
		return nil
	}
	ok, err := VerifyKey(key, hash)
	if err != nil {
		return oops.With("world_id", worldID).Wrap(err)
	}
	if !ok {
		return oops.Code(CodeKeyRejected).With("world_id", worldID).Errorf("DM key rejected")
	}
	return nil
}
