// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package command

import (
	"github.com/gobwas/glob"
	"github.com/samber/oops"

	"github.com/holomush/storyengine/internal/protocol"
)

// CodeInvalidPattern marks a message type pattern that does not compile.
const CodeInvalidPattern = "INVALID_MESSAGE_PATTERN"

// MessagePatterns matches message types against glob patterns such as
// "list_*". The zero value matches nothing.
type MessagePatterns struct {
	patterns []string
	globs    []glob.Glob
}

// CompileMessagePatterns compiles every pattern or returns the first that
// fails.
func CompileMessagePatterns(patterns []string) (MessagePatterns, error) {
	mp := MessagePatterns{
		patterns: make([]string, 0, len(patterns)),
		globs:    make([]glob.Glob, 0, len(patterns)),
	}
	for i, p := range patterns {
		if p == "" {
			return MessagePatterns{}, oops.Code(CodeInvalidPattern).With("index", i).Errorf("empty message pattern")
		}
		g, err := glob.Compile(p)
		if err != nil {
			return MessagePatterns{}, oops.Code(CodeInvalidPattern).With("pattern", p).Wrap(err)
		}
		mp.patterns = append(mp.patterns, p)
		mp.globs = append(mp.globs, g)
	}
	return mp, nil
}

// Match reports whether any pattern matches t.
func (mp MessagePatterns) Match(t protocol.MessageType) bool {
	for _, g := range mp.globs {
		if g.Match(string(t)) {
			return true
		}
	}
	return false
}

// Patterns returns the source patterns.
func (mp MessagePatterns) Patterns() []string {
	return append([]string(nil), mp.patterns...)
}
