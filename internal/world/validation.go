// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package world

import (
	"fmt"
	"unicode"
	"unicode/utf8"
)

// Validation limits for map entries.
const (
	MaxIDLength          = 64
	MaxNameLength        = 100
	MaxDescriptionLength = 4000
)

// ValidationError represents an invalid map entry.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateID checks a map entry id: letters, digits, '-', '_' or '.', at
// most MaxIDLength bytes.
func ValidateID(field, id string) error {
	if id == "" {
		return &ValidationError{Field: field, Message: "cannot be empty"}
	}
	if len(id) > MaxIDLength {
		return &ValidationError{Field: field, Message: fmt.Sprintf("exceeds maximum length of %d", MaxIDLength)}
	}
	for _, r := range id {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' && r != '.' {
			return &ValidationError{Field: field, Message: fmt.Sprintf("contains %q", r)}
		}
	}
	return nil
}

// ValidateName checks that a name is non-empty, valid UTF-8, free of control
// characters and within MaxNameLength.
func ValidateName(field, name string) error {
	if name == "" {
		return &ValidationError{Field: field, Message: "cannot be empty"}
	}
	if !utf8.ValidString(name) {
		return &ValidationError{Field: field, Message: "must be valid UTF-8"}
	}
	if len(name) > MaxNameLength {
		return &ValidationError{Field: field, Message: fmt.Sprintf("exceeds maximum length of %d", MaxNameLength)}
	}
	if hasControlChars(name) {
		return &ValidationError{Field: field, Message: "cannot contain control characters"}
	}
	return nil
}

// ValidateDescription checks a description. Descriptions may be empty and
// may contain newlines and tabs.
func ValidateDescription(field, desc string) error {
	if desc == "" {
		return nil
	}
	if !utf8.ValidString(desc) {
		return &ValidationError{Field: field, Message: "must be valid UTF-8"}
	}
	if len(desc) > MaxDescriptionLength {
		return &ValidationError{Field: field, Message: fmt.Sprintf("exceeds maximum length of %d", MaxDescriptionLength)}
	}
	if hasControlCharsExceptWhitespace(desc) {
		return &ValidationError{Field: field, Message: "cannot contain control characters (except newline/tab)"}
	}
	return nil
}

func hasControlChars(s string) bool {
	for _, r := range s {
		if unicode.IsControl(r) {
			return true
		}
	}
	return false
}

func hasControlCharsExceptWhitespace(s string) bool {
	for _, r := range s {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return true
		}
	}
	return false
}
