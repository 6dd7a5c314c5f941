// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package challenge

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"

	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

// Catalog supplies challenges and the rule system of each world.
type Catalog interface {
	Challenge(ctx context.Context, worldID, challengeID string) (Challenge, error)
	RuleSystem(ctx context.Context, worldID string) (RuleSystem, error)
	// SetDisabled enables or disables a challenge.
	SetDisabled(ctx context.Context, worldID, challengeID string, disabled bool) error
}

// catalogFile is the YAML layout read by LoadCatalog.
type catalogFile struct {
	RuleSystems map[string]RuleSystem `yaml:"rule_systems"`
	Worlds      map[string]struct {
		RuleSystem string      `yaml:"rule_system"`
		Challenges []Challenge `yaml:"challenges"`
	} `yaml:"worlds"`
}

// MemoryCatalog is a Catalog held in memory, usually loaded from YAML.
type MemoryCatalog struct {
	mu         sync.RWMutex
	systems    map[string]RuleSystem
	challenges map[string]map[string]Challenge
}

// NewMemoryCatalog creates an empty catalog. Worlds without a rule system
// use GenericD20.
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		systems:    make(map[string]RuleSystem),
		challenges: make(map[string]map[string]Challenge),
	}
}

// LoadCatalog reads rule systems and per-world challenges from YAML.
func LoadCatalog(r io.Reader) (*MemoryCatalog, error) {
	var f catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, oops.Code(CodeCatalogInvalid).Wrap(err)
	}

	c := NewMemoryCatalog()
	for worldID, w := range f.Worlds {
		if w.RuleSystem != "" {
			rs, ok := f.RuleSystems[w.RuleSystem]
			if !ok {
				return nil, oops.Code(CodeCatalogInvalid).
					With("world_id", worldID).
					Errorf("unknown rule system %q", w.RuleSystem)
			}
			if rs.Name == "" {
				rs.Name = w.RuleSystem
			}
			if rs.Script != "" {
				if err := CompileScript(rs.Script); err != nil {
					return nil, oops.Code(CodeCatalogInvalid).
						With("rule_system", w.RuleSystem).
						Wrap(err)
				}
			}
			c.SetRuleSystem(worldID, rs)
		}
		for _, ch := range w.Challenges {
			ch.WorldID = worldID
			if err := validateChallenge(ch); err != nil {
				return nil, oops.Code(CodeCatalogInvalid).With("world_id", worldID).Wrap(err)
			}
			c.Put(ch)
		}
	}
	return c, nil
}

func validateChallenge(ch Challenge) error {
	if ch.ID == "" || ch.Name == "" {
		return ErrValidation("challenge needs an id and a name")
	}
	for _, o := range []*Outcome{&ch.Outcomes.Success, &ch.Outcomes.Failure, ch.Outcomes.Partial,
		ch.Outcomes.CriticalSuccess, ch.Outcomes.CriticalFailure} {
		if o == nil {
			continue
		}
		for _, t := range o.Triggers {
			if err := t.Validate(); err != nil {
				return oops.With("challenge_id", ch.ID).Wrap(err)
			}
		}
	}
	return nil
}

// SetRuleSystem assigns a world's rule system.
func (c *MemoryCatalog) SetRuleSystem(worldID string, rs RuleSystem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.systems[worldID] = rs.withDefaults()
}

// Put adds or replaces a challenge.
func (c *MemoryCatalog) Put(ch Challenge) {
	c.mu.Lock()
	defer c.mu.Unlock()
	world, ok := c.challenges[ch.WorldID]
	if !ok {
		world = make(map[string]Challenge)
		c.challenges[ch.WorldID] = world
	}
	world[ch.ID] = ch
}

// Challenge implements Catalog.
func (c *MemoryCatalog) Challenge(_ context.Context, worldID, challengeID string) (Challenge, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ch, ok := c.challenges[worldID][challengeID]
	if !ok {
		return Challenge{}, ErrChallengeNotFound(worldID, challengeID)
	}
	return ch, nil
}

// Challenges lists a world's challenges by id.
func (c *MemoryCatalog) Challenges(worldID string) []Challenge {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Challenge, 0, len(c.challenges[worldID]))
	for _, ch := range c.challenges[worldID] {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RuleSystem implements Catalog.
func (c *MemoryCatalog) RuleSystem(_ context.Context, worldID string) (RuleSystem, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if rs, ok := c.systems[worldID]; ok {
		return rs, nil
	}
	return GenericD20(), nil
}

// SetDisabled implements Catalog.
func (c *MemoryCatalog) SetDisabled(_ context.Context, worldID, challengeID string, disabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.challenges[worldID][challengeID]
	if !ok {
		return ErrChallengeNotFound(worldID, challengeID)
	}
	ch.Disabled = disabled
	c.challenges[worldID][challengeID] = ch
	return nil
}

var _ Catalog = (*MemoryCatalog)(nil)
