// Package corestate implements Alpha's persistent core: a small store of
// monotonic counters, recent internal thoughts and the knowledge-update log,
// shared by every cycle. Each mutation atomically rewrites the backing file.
package corestate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	maxThoughts         = 50
	maxKnowledgeUpdates = 20
	maxThoughtLen       = 200
)

// Thought is one internal reflection record.
type Thought struct {
	Timestamp time.Time `json:"ts"`
	Content   string    `json:"content"`
	Source    string    `json:"source"`
}

// KnowledgeUpdate records one written knowledge artifact.
type KnowledgeUpdate struct {
	Timestamp time.Time `json:"ts"`
	Topic     string    `json:"topic"`
	Filename  string    `json:"filename"`
	Source    string    `json:"source"`
}

// Counters is a snapshot of the monotonic counters.
type Counters struct {
	GoalsStudied         int `json:"goals_studied"`
	MemoryConsolidations int `json:"memory_consolidations"`
	InternetStudies      int `json:"internet_studies"`
}

type state struct {
	Counters         Counters          `json:"counters"`
	InternalThoughts []Thought         `json:"internal_thoughts"`
	KnowledgeUpdates []KnowledgeUpdate `json:"knowledge_updates"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// Store guards the persistent core with a single mutex. The critical
// section is small: mutate, serialize, replace file.
type Store struct {
	mu    sync.Mutex
	path  string
	state state
}

// Open loads core_state.json from path, starting empty when absent.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read core state: %w", err)
	}
	if err := json.Unmarshal(data, &s.state); err != nil {
		return nil, fmt.Errorf("parse core state: %w", err)
	}
	return s, nil
}

// AddThought appends an internal thought, truncating content to 200 chars
// and capping the queue at 50 entries.
func (s *Store) AddThought(content, source string) {
	runes := []rune(content)
	if len(runes) > maxThoughtLen {
		content = string(runes[:maxThoughtLen])
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.InternalThoughts = append(s.state.InternalThoughts, Thought{
		Timestamp: time.Now(),
		Content:   content,
		Source:    source,
	})
	if n := len(s.state.InternalThoughts); n > maxThoughts {
		s.state.InternalThoughts = s.state.InternalThoughts[n-maxThoughts:]
	}
	s.persistLocked()
}

// AddKnowledgeUpdate appends to the knowledge-update log, capped at 20.
func (s *Store) AddKnowledgeUpdate(topic, filename, source string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.KnowledgeUpdates = append(s.state.KnowledgeUpdates, KnowledgeUpdate{
		Timestamp: time.Now(),
		Topic:     topic,
		Filename:  filename,
		Source:    source,
	})
	if n := len(s.state.KnowledgeUpdates); n > maxKnowledgeUpdates {
		s.state.KnowledgeUpdates = s.state.KnowledgeUpdates[n-maxKnowledgeUpdates:]
	}
	s.persistLocked()
}

// IncGoalsStudied bumps the goal counter.
func (s *Store) IncGoalsStudied() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Counters.GoalsStudied++
	s.persistLocked()
}

// IncMemoryConsolidations bumps the consolidation counter.
func (s *Store) IncMemoryConsolidations() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Counters.MemoryConsolidations++
	s.persistLocked()
}

// IncInternetStudies bumps the research counter.
func (s *Store) IncInternetStudies() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Counters.InternetStudies++
	s.persistLocked()
}

// Counters returns a snapshot of the counters.
func (s *Store) Counters() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Counters
}

// RecentThoughts returns a copy of the last n thoughts, oldest first.
func (s *Store) RecentThoughts(n int) []Thought {
	s.mu.Lock()
	defer s.mu.Unlock()
	thoughts := s.state.InternalThoughts
	if n <= 0 || n > len(thoughts) {
		n = len(thoughts)
	}
	out := make([]Thought, n)
	copy(out, thoughts[len(thoughts)-n:])
	return out
}

// RecentKnowledgeUpdates returns a copy of the last n update records.
func (s *Store) RecentKnowledgeUpdates(n int) []KnowledgeUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	updates := s.state.KnowledgeUpdates
	if n <= 0 || n > len(updates) {
		n = len(updates)
	}
	out := make([]KnowledgeUpdate, n)
	copy(out, updates[len(updates)-n:])
	return out
}

// Flush forces a persist. Mutations already persist themselves; Flush exists
// for shutdown symmetry.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLockedErr()
}

func (s *Store) persistLocked() {
	if err := s.persistLockedErr(); err != nil {
		log.Error().Err(err).Msg("persist core state")
	}
}

// persistLockedErr serializes the state and atomically replaces the backing
// file via temp-file rename.
func (s *Store) persistLockedErr() error {
	s.state.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(&s.state, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
