package hub

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Attributes holds the raw attribute values of an entity. Values are decoded on access.
type Attributes map[string]json.RawMessage

// Float reads a numeric attribute. Numeric strings are accepted, null and absent values are not.
func (a Attributes) Float(name string) (float64, bool) {
	raw, ok := a[name]
	if !ok || isNull(raw) {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return parseFloat(s)
	}
	return 0, false
}

// String reads a string attribute.
func (a Attributes) String(name string) (string, bool) {
	raw, ok := a[name]
	if !ok || isNull(raw) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func parseFloat(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Entity is one addressable unit of hub state, e.g. climate.room_101_bedroom.
type Entity struct {
	ID          string     `json:"entity_id"`
	State       string     `json:"state"`
	Attributes  Attributes `json:"attributes"`
	LastUpdated time.Time  `json:"last_updated"`
}

// Domain returns the part of the id before the first dot.
func (e Entity) Domain() string {
	domain, _, _ := strings.Cut(e.ID, ".")
	return domain
}

// NumericState parses the state as a number. "unavailable" and "unknown" yield false.
func (e Entity) NumericState() (float64, bool) {
	return parseFloat(e.State)
}

// Snapshot is a full read of all entities at one instant.
type Snapshot struct {
	Entities  []Entity
	FetchedAt time.Time

	index map[string]int
}

func NewSnapshot(entities []Entity, fetchedAt time.Time) *Snapshot {
	s := &Snapshot{Entities: entities, FetchedAt: fetchedAt}
	s.buildIndex()
	return s
}

func (s *Snapshot) buildIndex() {
	s.index = make(map[string]int, len(s.Entities))
	for i, e := range s.Entities {
		if _, dup := s.index[e.ID]; !dup {
			s.index[e.ID] = i
		}
	}
}

// Lookup finds an entity by its exact id.
func (s *Snapshot) Lookup(id string) (Entity, bool) {
	if s == nil {
		return Entity{}, false
	}
	i, ok := s.index[id]
	if !ok {
		return Entity{}, false
	}
	return s.Entities[i], true
}

type snapshotJSON struct {
	Entities  []Entity  `json:"entities"`
	FetchedAt time.Time `json:"fetched_at"`
}

func (s *Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(snapshotJSON{Entities: s.Entities, FetchedAt: s.FetchedAt})
}

func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var payload snapshotJSON
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}
	s.Entities = payload.Entities
	s.FetchedAt = payload.FetchedAt
	s.buildIndex()
	return nil
}
