// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package auth guards the DM role. A world may carry an argon2id hash of
// its DM key; a connection asking for the DM role must present the key.
package auth
