// Package memory implements Alpha's weighted concept store: a layered,
// persistent map from concept name to weight, provenance and excerpts. It is
// the primary substrate used to bias prompt composition.
package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Layer orders concepts by permanence. Higher layers carry higher priors
// and may never be downgraded.
type Layer string

const (
	LayerImmutableCore          Layer = "immutable_core"
	LayerPhilosophicalConstants Layer = "philosophical_constants"
	LayerHistoricalMarkers      Layer = "historical_markers"
	LayerDynamicConcepts        Layer = "dynamic_concepts"
	LayerSessionContext         Layer = "session_context"
)

const (
	// MaxWeight caps every concept weight.
	MaxWeight = 10.0
	// BaselineWeight is assigned to freshly mined dynamic concepts.
	BaselineWeight = 1.0
	// ImmutableCoreWeight is the starting weight of identity concepts.
	ImmutableCoreWeight = 8.0
	// reinforceFactor is applied per relevant use.
	reinforceFactor = 1.05
	// studyBoost is added when a topic is studied to completion.
	studyBoost = 2.0
	// relevantLimit bounds Relevant results.
	relevantLimit = 5
)

// Prior returns the layer's weighting prior.
func (l Layer) Prior() float64 {
	switch l {
	case LayerImmutableCore:
		return 10
	case LayerPhilosophicalConstants:
		return 5
	case LayerHistoricalMarkers:
		return 3
	case LayerDynamicConcepts:
		return 1
	case LayerSessionContext:
		return 0.5
	default:
		return 1
	}
}

// rank orders layers for the no-downgrade invariant.
func (l Layer) rank() int {
	switch l {
	case LayerImmutableCore:
		return 5
	case LayerPhilosophicalConstants:
		return 4
	case LayerHistoricalMarkers:
		return 3
	case LayerDynamicConcepts:
		return 2
	case LayerSessionContext:
		return 1
	default:
		return 0
	}
}

// ContextRef is one short excerpt attached to a concept.
type ContextRef struct {
	Excerpt   string    `json:"excerpt"`
	Origin    string    `json:"origin"`
	Timestamp time.Time `json:"ts"`
}

// Concept is one weighted memory record.
type Concept struct {
	Name        string       `json:"name"`
	Weight      float64      `json:"weight"`
	Layer       Layer        `json:"layer"`
	Contexts    []ContextRef `json:"contexts,omitempty"`
	Sources     []string     `json:"sources,omitempty"`
	FirstSeen   time.Time    `json:"first_seen"`
	LastUpdated time.Time    `json:"last_updated"`
}

// Scored is a (name, weight) pair returned by Relevant.
type Scored struct {
	Name   string
	Weight float64
}

// Stats summarizes the store for status reporting.
type Stats struct {
	Total       int           `json:"total"`
	ByLayer     map[Layer]int `json:"by_layer"`
	LastPersist time.Time     `json:"last_persist"`
}

// Store is the weighted memory map. One writer at a time; readers receive
// copies.
type Store struct {
	mu          sync.RWMutex
	path        string
	concepts    map[string]*Concept
	lastPersist time.Time
}

// Open loads the memory dump from path, coercing legacy records where a
// concept was stored as a bare number instead of an object.
func Open(path string) (*Store, error) {
	s := &Store{path: path, concepts: make(map[string]*Concept)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read memory dump: %w", err)
	}

	var dump struct {
		Metadata map[string]any             `json:"metadata"`
		Concepts map[string]json.RawMessage `json:"concepts"`
	}
	if err := json.Unmarshal(data, &dump); err != nil {
		return nil, fmt.Errorf("parse memory dump: %w", err)
	}

	now := time.Now()
	for name, raw := range dump.Concepts {
		c, err := coerceConcept(name, raw, now)
		if err != nil {
			log.Warn().Str("concept", name).Err(err).Msg("skipping unreadable concept")
			continue
		}
		s.concepts[normalize(name)] = c
	}
	log.Info().Int("concepts", len(s.concepts)).Msg("weighted memory loaded")
	return s, nil
}

// coerceConcept migrates both record shapes: a full object, or a legacy
// bare weight number.
func coerceConcept(name string, raw json.RawMessage, now time.Time) (*Concept, error) {
	var c Concept
	if err := json.Unmarshal(raw, &c); err == nil && c.Layer != "" {
		c.Name = normalize(name)
		clampWeight(&c)
		return &c, nil
	}
	var w float64
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("neither object nor number")
	}
	c = Concept{
		Name:        normalize(name),
		Weight:      w,
		Layer:       LayerDynamicConcepts,
		FirstSeen:   now,
		LastUpdated: now,
	}
	clampWeight(&c)
	return &c, nil
}

func clampWeight(c *Concept) {
	if c.Weight > MaxWeight {
		c.Weight = MaxWeight
	}
	if c.Weight < 0 {
		c.Weight = 0
	}
}

func normalize(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}

// Relevant finds concepts whose name (underscores read as spaces) occurs in
// the message. Immutable-core hits score at weight × 1.5. The top 5 by
// effective weight are returned, strongest first.
func (s *Store) Relevant(message, speaker string) []Scored {
	msg := strings.ToLower(message)

	s.mu.RLock()
	var hits []Scored
	for _, c := range s.concepts {
		needle := strings.ReplaceAll(c.Name, "_", " ")
		if needle == "" || !strings.Contains(msg, needle) {
			continue
		}
		w := c.Weight
		if c.Layer == LayerImmutableCore {
			w *= 1.5
		}
		hits = append(hits, Scored{Name: c.Name, Weight: w})
	}
	s.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Weight != hits[j].Weight {
			return hits[i].Weight > hits[j].Weight
		}
		return hits[i].Name < hits[j].Name
	})
	if len(hits) > relevantLimit {
		hits = hits[:relevantLimit]
	}
	return hits
}

// Reinforce multiplies each named concept's weight by 1.05, capped at 10.
func (s *Store) Reinforce(names []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, name := range names {
		c, ok := s.concepts[normalize(name)]
		if !ok {
			continue
		}
		c.Weight *= reinforceFactor
		if c.Weight > MaxWeight {
			c.Weight = MaxWeight
		}
		c.LastUpdated = now
	}
}

// BoostTopic adds 2.0 (capped at 10) to every concept overlapping the topic
// string in either direction. Called after a successful topic study.
func (s *Store) BoostTopic(topic string) {
	t := strings.ToLower(strings.TrimSpace(topic))
	if t == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, c := range s.concepts {
		spaced := strings.ReplaceAll(c.Name, "_", " ")
		if !strings.Contains(t, spaced) && !strings.Contains(spaced, t) {
			continue
		}
		c.Weight += studyBoost
		if c.Weight > MaxWeight {
			c.Weight = MaxWeight
		}
		c.LastUpdated = now
	}
}

// Upsert creates or updates a concept. An existing concept's layer is only
// raised, never downgraded, and its weight never drops.
func (s *Store) Upsert(name string, layer Layer, weight float64, excerpt, origin, source string) {
	key := normalize(name)
	if key == "" {
		return
	}
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.concepts[key]
	if !ok {
		c = &Concept{
			Name:      key,
			Weight:    weight,
			Layer:     layer,
			FirstSeen: now,
		}
		s.concepts[key] = c
	} else {
		if layer.rank() > c.Layer.rank() {
			c.Layer = layer
		}
		if weight > c.Weight {
			c.Weight = weight
		}
	}
	clampWeight(c)
	c.LastUpdated = now

	if excerpt != "" {
		c.Contexts = append(c.Contexts, ContextRef{Excerpt: excerpt, Origin: origin, Timestamp: now})
	}
	if source != "" && !contains(c.Sources, source) {
		c.Sources = append(c.Sources, source)
	}
}

// Weight reports a concept's current weight.
func (s *Store) Weight(name string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.concepts[normalize(name)]
	if !ok {
		return 0, false
	}
	return c.Weight, true
}

// Layer reports a concept's current layer.
func (s *Store) Layer(name string) (Layer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.concepts[normalize(name)]
	if !ok {
		return "", false
	}
	return c.Layer, true
}

// Stats summarizes the store.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{
		Total:       len(s.concepts),
		ByLayer:     make(map[Layer]int),
		LastPersist: s.lastPersist,
	}
	for _, c := range s.concepts {
		st.ByLayer[c.Layer]++
	}
	return st
}

// Snapshot returns copies of all concepts, for tests and status output.
func (s *Store) Snapshot() []Concept {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Concept, 0, len(s.concepts))
	for _, c := range s.concepts {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Persist writes the dump back to disk with the weighted_memory marker and
// a last-persist timestamp, via temp-file rename.
func (s *Store) Persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	dump := struct {
		Metadata map[string]any      `json:"metadata"`
		Concepts map[string]*Concept `json:"concepts"`
	}{
		Metadata: map[string]any{
			"weighted_memory": true,
			"persisted_at":    now.Format(time.RFC3339),
		},
		Concepts: s.concepts,
	}

	data, err := json.MarshalIndent(&dump, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal memory dump: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write memory dump: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}
	s.lastPersist = now
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
