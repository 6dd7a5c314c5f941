// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package world holds the world map: locations split into regions, the
// connections between regions, the NPCs tied to each region and where every
// player character stands. Maps are loaded from YAML and kept in memory.
package world

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"

	"github.com/samber/oops"
	"gopkg.in/yaml.v3"

	"github.com/holomush/storyengine/internal/auth"
	"github.com/holomush/storyengine/internal/game"
	"github.com/holomush/storyengine/internal/movement"
	"github.com/holomush/storyengine/internal/staging"
)

// Info describes a world.
type Info struct {
	ID      string
	Name    string
	Setting string
	// DMKeyHash is an argon2id hash of the key DM connections must present.
	// Empty admits every DM.
	DMKeyHash string
}

// Scene is a named scene the DM can transition to.
type Scene struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// NPC is a non-player character the model can speak as.
type NPC struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// Event is a narrative event the DM can steer towards.
type Event struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Active      bool   `yaml:"active"`
}

type mapFile struct {
	Worlds map[string]worldFile `yaml:"worlds"`
}

type worldFile struct {
	Name        string           `yaml:"name"`
	Setting     string           `yaml:"setting"`
	DMKeyHash   string           `yaml:"dm_key_hash"`
	Scenes      []Scene          `yaml:"scenes"`
	Locations   []locationFile   `yaml:"locations"`
	Connections []connectionFile `yaml:"connections"`
	NPCs        []NPC            `yaml:"npcs"`
	Characters  []characterFile  `yaml:"characters"`
	Events      []Event          `yaml:"events"`
}

type locationFile struct {
	ID            string       `yaml:"id"`
	Name          string       `yaml:"name"`
	Description   string       `yaml:"description"`
	DefaultRegion string       `yaml:"default_region"`
	Regions       []regionFile `yaml:"regions"`
}

type regionFile struct {
	ID          string          `yaml:"id"`
	Name        string          `yaml:"name"`
	Description string          `yaml:"description"`
	SpawnPoint  bool            `yaml:"spawn_point"`
	NPCs        []candidateFile `yaml:"npcs"`
}

type candidateFile struct {
	NPC         string `yaml:"npc"`
	Relation    string `yaml:"relation"`
	Shift       string `yaml:"shift"`
	Frequency   string `yaml:"frequency"`
	TimeOfDay   string `yaml:"time_of_day"`
	AvoidReason string `yaml:"avoid_reason"`
	DefaultMood string `yaml:"default_mood"`
}

type connectionFile struct {
	From            string `yaml:"from"`
	To              string `yaml:"to"`
	Bidirectional   bool   `yaml:"bidirectional"`
	Locked          bool   `yaml:"locked"`
	LockDescription string `yaml:"lock_description"`
}

type characterFile struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	UserID   string `yaml:"user_id"`
	Location string `yaml:"location"`
	Region   string `yaml:"region"`
}

type worldData struct {
	info        Info
	scenes      map[string]Scene
	locations   map[string]movement.Location
	regions     map[string]movement.Region
	regionOrder map[string][]string
	connections map[string][]movement.Connection
	npcs        map[string]NPC
	candidates  map[string][]staging.Candidate
	pcs         map[string]movement.PlayerCharacter
	events      map[string]Event
	eventOrder  []string
}

// Map is an in-memory world map safe for concurrent use.
type Map struct {
	mu     sync.RWMutex
	worlds map[string]*worldData
}

var (
	_ movement.Graph    = (*Map)(nil)
	_ staging.Directory = (*Map)(nil)
)

// NewMap creates an empty map.
func NewMap() *Map {
	return &Map{worlds: make(map[string]*worldData)}
}

// LoadMap reads worlds from YAML. Unknown fields are rejected.
func LoadMap(r io.Reader) (*Map, error) {
	var f mapFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, oops.Code(CodeMapInvalid).Wrap(err)
	}

	m := NewMap()
	for id, wf := range f.Worlds {
		w, err := buildWorld(id, wf)
		if err != nil {
			return nil, oops.Code(CodeMapInvalid).With("world_id", id).Wrap(err)
		}
		m.worlds[id] = w
	}
	return m, nil
}

func buildWorld(id string, f worldFile) (*worldData, error) {
	w := &worldData{
		info:        Info{ID: id, Name: f.Name, Setting: f.Setting, DMKeyHash: f.DMKeyHash},
		scenes:      make(map[string]Scene),
		locations:   make(map[string]movement.Location),
		regions:     make(map[string]movement.Region),
		regionOrder: make(map[string][]string),
		connections: make(map[string][]movement.Connection),
		npcs:        make(map[string]NPC),
		candidates:  make(map[string][]staging.Candidate),
		pcs:         make(map[string]movement.PlayerCharacter),
		events:      make(map[string]Event),
	}
	if err := ValidateID("world.id", id); err != nil {
		return nil, err
	}
	if w.info.Name == "" {
		w.info.Name = id
	}
	if err := ValidateName("world.name", w.info.Name); err != nil {
		return nil, err
	}
	if f.DMKeyHash != "" {
		if err := auth.ValidateHash(f.DMKeyHash); err != nil {
			return nil, oops.With("field", "dm_key_hash").Wrap(err)
		}
	}

	for _, s := range f.Scenes {
		if err := ValidateID("scene.id", s.ID); err != nil {
			return nil, err
		}
		if err := ValidateName("scene.name", s.Name); err != nil {
			return nil, oops.With("scene_id", s.ID).Wrap(err)
		}
		w.scenes[s.ID] = s
	}
	for _, n := range f.NPCs {
		if err := ValidateID("npc.id", n.ID); err != nil {
			return nil, err
		}
		if err := ValidateName("npc.name", n.Name); err != nil {
			return nil, oops.With("npc_id", n.ID).Wrap(err)
		}
		if err := ValidateDescription("npc.description", n.Description); err != nil {
			return nil, oops.With("npc_id", n.ID).Wrap(err)
		}
		w.npcs[n.ID] = n
	}
	for _, e := range f.Events {
		if err := ValidateID("event.id", e.ID); err != nil {
			return nil, err
		}
		if err := ValidateName("event.name", e.Name); err != nil {
			return nil, oops.With("event_id", e.ID).Wrap(err)
		}
		w.events[e.ID] = e
		w.eventOrder = append(w.eventOrder, e.ID)
	}

	for _, lf := range f.Locations {
		if err := w.addLocation(lf); err != nil {
			return nil, oops.With("location_id", lf.ID).Wrap(err)
		}
	}
	for _, cf := range f.Connections {
		if err := w.addConnection(cf); err != nil {
			return nil, err
		}
	}
	for _, cf := range f.Characters {
		if err := w.addCharacter(cf); err != nil {
			return nil, oops.With("pc_id", cf.ID).Wrap(err)
		}
	}
	return w, nil
}

func (w *worldData) addLocation(lf locationFile) error {
	if err := ValidateID("location.id", lf.ID); err != nil {
		return err
	}
	if err := ValidateName("location.name", lf.Name); err != nil {
		return err
	}
	if err := ValidateDescription("location.description", lf.Description); err != nil {
		return err
	}
	loc := movement.Location{ID: lf.ID, Name: lf.Name, Description: lf.Description, DefaultRegionID: lf.DefaultRegion}
	for _, rf := range lf.Regions {
		if err := ValidateID("region.id", rf.ID); err != nil {
			return err
		}
		if _, dup := w.regions[rf.ID]; dup {
			return &ValidationError{Field: "region.id", Message: "duplicate region " + rf.ID}
		}
		if err := ValidateName("region.name", rf.Name); err != nil {
			return err
		}
		w.regions[rf.ID] = movement.Region{
			ID:          rf.ID,
			LocationID:  lf.ID,
			Name:        rf.Name,
			Description: rf.Description,
			SpawnPoint:  rf.SpawnPoint,
		}
		w.regionOrder[lf.ID] = append(w.regionOrder[lf.ID], rf.ID)
		for _, cf := range rf.NPCs {
			c, err := w.candidate(cf)
			if err != nil {
				return oops.With("region_id", rf.ID).Wrap(err)
			}
			w.candidates[rf.ID] = append(w.candidates[rf.ID], c)
		}
	}
	if loc.DefaultRegionID != "" {
		if r, ok := w.regions[loc.DefaultRegionID]; !ok || r.LocationID != loc.ID {
			return &ValidationError{Field: "location.default_region", Message: "must be a region of the location"}
		}
	}
	w.locations[loc.ID] = loc
	return nil
}

func (w *worldData) candidate(cf candidateFile) (staging.Candidate, error) {
	npc, ok := w.npcs[cf.NPC]
	if !ok {
		return staging.Candidate{}, &ValidationError{Field: "region.npcs.npc", Message: "unknown npc " + cf.NPC}
	}
	c := staging.Candidate{
		CharacterID: npc.ID,
		Name:        npc.Name,
		Relation:    staging.Relation(cf.Relation),
		Shift:       staging.Shift(cf.Shift),
		Frequency:   staging.Frequency(cf.Frequency),
		TimeOfDay:   game.TimeOfDay(cf.TimeOfDay),
		AvoidReason: cf.AvoidReason,
		DefaultMood: cf.DefaultMood,
	}
	switch c.Relation {
	case staging.RelationHome, staging.RelationWorksAt, staging.RelationFrequents, staging.RelationAvoids:
	default:
		return staging.Candidate{}, &ValidationError{Field: "region.npcs.relation", Message: "unknown relation " + cf.Relation}
	}
	return c, nil
}

func (w *worldData) addConnection(cf connectionFile) error {
	for _, id := range []string{cf.From, cf.To} {
		if _, ok := w.regions[id]; !ok {
			return &ValidationError{Field: "connection", Message: "unknown region " + id}
		}
	}
	if cf.From == cf.To {
		return &ValidationError{Field: "connection", Message: "cannot connect a region to itself"}
	}
	c := movement.Connection{
		FromRegionID:    cf.From,
		ToRegionID:      cf.To,
		Locked:          cf.Locked,
		LockDescription: cf.LockDescription,
	}
	w.connections[c.FromRegionID] = append(w.connections[c.FromRegionID], c)
	if cf.Bidirectional {
		c.FromRegionID, c.ToRegionID = c.ToRegionID, c.FromRegionID
		w.connections[c.FromRegionID] = append(w.connections[c.FromRegionID], c)
	}
	return nil
}

func (w *worldData) addCharacter(cf characterFile) error {
	if err := ValidateID("character.id", cf.ID); err != nil {
		return err
	}
	if err := ValidateName("character.name", cf.Name); err != nil {
		return err
	}
	if cf.Location != "" {
		if _, ok := w.locations[cf.Location]; !ok {
			return &ValidationError{Field: "character.location", Message: "unknown location " + cf.Location}
		}
	}
	if cf.Region != "" {
		r, ok := w.regions[cf.Region]
		if !ok || r.LocationID != cf.Location {
			return &ValidationError{Field: "character.region", Message: "must be a region of the character's location"}
		}
	}
	w.pcs[cf.ID] = movement.PlayerCharacter{
		ID:         cf.ID,
		Name:       cf.Name,
		UserID:     cf.UserID,
		LocationID: cf.Location,
		RegionID:   cf.Region,
	}
	return nil
}

// Worlds lists world ids in order.
func (m *Map) Worlds() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.worlds))
	for id := range m.worlds {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// World returns a world's description.
func (m *Map) World(worldID string) (Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.worlds[worldID]
	if !ok {
		return Info{}, ErrWorldNotFound(worldID)
	}
	return w.info, nil
}

// read runs fn under the read lock. Unknown worlds report
// movement.ErrNotFound.
func (m *Map) read(worldID string, fn func(w *worldData) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.worlds[worldID]
	if !ok {
		return movement.ErrNotFound
	}
	return fn(w)
}

func (m *Map) write(worldID string, fn func(w *worldData) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.worlds[worldID]
	if !ok {
		return movement.ErrNotFound
	}
	return fn(w)
}

// PlayerCharacter implements movement.Graph.
func (m *Map) PlayerCharacter(_ context.Context, worldID, pcID string) (movement.PlayerCharacter, error) {
	var pc movement.PlayerCharacter
	err := m.read(worldID, func(w *worldData) error {
		var ok bool
		if pc, ok = w.pcs[pcID]; !ok {
			return movement.ErrNotFound
		}
		return nil
	})
	return pc, err
}

// Location implements movement.Graph.
func (m *Map) Location(_ context.Context, worldID, locationID string) (movement.Location, error) {
	var loc movement.Location
	err := m.read(worldID, func(w *worldData) error {
		var ok bool
		if loc, ok = w.locations[locationID]; !ok {
			return movement.ErrNotFound
		}
		return nil
	})
	return loc, err
}

// Region implements movement.Graph.
func (m *Map) Region(_ context.Context, worldID, regionID string) (movement.Region, error) {
	var r movement.Region
	err := m.read(worldID, func(w *worldData) error {
		var ok bool
		if r, ok = w.regions[regionID]; !ok {
			return movement.ErrNotFound
		}
		return nil
	})
	return r, err
}

// Regions implements movement.Graph. Regions keep their file order.
func (m *Map) Regions(_ context.Context, worldID, locationID string) ([]movement.Region, error) {
	var out []movement.Region
	err := m.read(worldID, func(w *worldData) error {
		if _, ok := w.locations[locationID]; !ok {
			return movement.ErrNotFound
		}
		for _, id := range w.regionOrder[locationID] {
			out = append(out, w.regions[id])
		}
		return nil
	})
	return out, err
}

// Connections implements movement.Graph.
func (m *Map) Connections(_ context.Context, worldID, regionID string) ([]movement.Connection, error) {
	var out []movement.Connection
	err := m.read(worldID, func(w *worldData) error {
		out = append(out, w.connections[regionID]...)
		return nil
	})
	return out, err
}

// UpdatePosition implements movement.Graph.
func (m *Map) UpdatePosition(_ context.Context, worldID, pcID, locationID, regionID string) error {
	return m.write(worldID, func(w *worldData) error {
		pc, ok := w.pcs[pcID]
		if !ok {
			return movement.ErrNotFound
		}
		pc.LocationID, pc.RegionID = locationID, regionID
		w.pcs[pcID] = pc
		return nil
	})
}

// SetConversationLock pins a character in place while it talks to an NPC.
func (m *Map) SetConversationLock(worldID, pcID string, locked bool) error {
	return m.write(worldID, func(w *worldData) error {
		pc, ok := w.pcs[pcID]
		if !ok {
			return movement.ErrNotFound
		}
		pc.InConversation = locked
		w.pcs[pcID] = pc
		return nil
	})
}

// SetConnectionLock locks or unlocks the connection from one region to
// another. The reverse direction is unchanged.
func (m *Map) SetConnectionLock(worldID, from, to string, locked bool, description string) error {
	return m.write(worldID, func(w *worldData) error {
		conns := w.connections[from]
		for i := range conns {
			if conns[i].ToRegionID == to {
				conns[i].Locked = locked
				conns[i].LockDescription = description
				return nil
			}
		}
		return movement.ErrNotFound
	})
}

// CandidatesForRegion implements staging.Directory.
func (m *Map) CandidatesForRegion(_ context.Context, worldID, regionID string) ([]staging.Candidate, error) {
	var out []staging.Candidate
	err := m.read(worldID, func(w *worldData) error {
		out = append(out, w.candidates[regionID]...)
		return nil
	})
	return out, err
}

// NPC returns an NPC by id.
func (m *Map) NPC(worldID, npcID string) (NPC, error) {
	var n NPC
	err := m.read(worldID, func(w *worldData) error {
		var ok bool
		if n, ok = w.npcs[npcID]; !ok {
			return oops.Code(CodeNPCNotFound).With("npc_id", npcID).Wrap(movement.ErrNotFound)
		}
		return nil
	})
	return n, err
}

// Scene returns a scene by id.
func (m *Map) Scene(worldID, sceneID string) (Scene, bool) {
	var s Scene
	var ok bool
	_ = m.read(worldID, func(w *worldData) error { //nolint:errcheck // unknown world reports !ok
		s, ok = w.scenes[sceneID]
		return nil
	})
	return s, ok
}

// ActiveEvents lists a world's active narrative events in file order.
func (m *Map) ActiveEvents(worldID string) []Event {
	var out []Event
	_ = m.read(worldID, func(w *worldData) error { //nolint:errcheck // unknown world has no events
		for _, id := range w.eventOrder {
			if e := w.events[id]; e.Active {
				out = append(out, e)
			}
		}
		return nil
	})
	return out
}

// SetEventActive turns a narrative event on or off.
func (m *Map) SetEventActive(worldID, eventID string, active bool) error {
	return m.write(worldID, func(w *worldData) error {
		e, ok := w.events[eventID]
		if !ok {
			return movement.ErrNotFound
		}
		e.Active = active
		w.events[eventID] = e
		return nil
	})
}
