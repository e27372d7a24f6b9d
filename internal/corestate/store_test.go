package corestate

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThoughtQueueBounds(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "core_state.json"))
	require.NoError(t, err)

	for i := 0; i < 60; i++ {
		s.AddThought(fmt.Sprintf("мысль %d", i), "reflection")
	}
	thoughts := s.RecentThoughts(0)
	require.Len(t, thoughts, 50)
	assert.Equal(t, "мысль 10", thoughts[0].Content)
	assert.Equal(t, "мысль 59", thoughts[49].Content)

	last3 := s.RecentThoughts(3)
	require.Len(t, last3, 3)
	assert.Equal(t, "мысль 57", last3[0].Content)
}

func TestThoughtContentTruncatedTo200Runes(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "core_state.json"))
	require.NoError(t, err)

	long := strings.Repeat("ж", 300)
	s.AddThought(long, "reflection")
	thoughts := s.RecentThoughts(1)
	require.Len(t, thoughts, 1)
	assert.Equal(t, 200, len([]rune(thoughts[0].Content)))
}

func TestKnowledgeUpdateQueueBounds(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "core_state.json"))
	require.NoError(t, err)

	for i := 0; i < 25; i++ {
		s.AddKnowledgeUpdate(fmt.Sprintf("тема %d", i), "file.md", "goal")
	}
	updates := s.RecentKnowledgeUpdates(0)
	require.Len(t, updates, 20)
	assert.Equal(t, "тема 5", updates[0].Topic)
}

func TestCountersSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "core_state.json")

	s, err := Open(path)
	require.NoError(t, err)
	s.IncGoalsStudied()
	s.IncGoalsStudied()
	s.IncMemoryConsolidations()
	s.IncInternetStudies()
	require.NoError(t, s.Flush())

	s2, err := Open(path)
	require.NoError(t, err)
	c := s2.Counters()
	assert.Equal(t, 2, c.GoalsStudied)
	assert.Equal(t, 1, c.MemoryConsolidations)
	assert.Equal(t, 1, c.InternetStudies)
}
