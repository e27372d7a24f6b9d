package memory

import "strings"

// MineSeed describes one concept harvested from the persona or emotional
// context at boot.
type MineSeed struct {
	Name    string
	Layer   Layer
	Excerpt string
	Source  string
}

// Mine seeds the store from boot-time material. Immutable-core seeds start
// at 8.0; other layers start at their prior (never above baseline for
// dynamic concepts).
func (s *Store) Mine(seeds []MineSeed) int {
	added := 0
	for _, seed := range seeds {
		name := normalize(seed.Name)
		if name == "" {
			continue
		}
		weight := BaselineWeight
		if seed.Layer == LayerImmutableCore {
			weight = ImmutableCoreWeight
		} else if p := seed.Layer.Prior(); p > weight {
			weight = p
		}
		s.mu.RLock()
		_, exists := s.concepts[name]
		s.mu.RUnlock()
		if !exists {
			added++
		}
		s.Upsert(seed.Name, seed.Layer, weight, seed.Excerpt, "mining", seed.Source)
	}
	return added
}

// SeedsFromStrings builds mining seeds from a flat list of phrases. Phrases
// longer than a few words are trimmed to their head so concept names stay
// matchable against chat messages.
func SeedsFromStrings(phrases []string, layer Layer, source string) []MineSeed {
	seeds := make([]MineSeed, 0, len(phrases))
	for _, p := range phrases {
		name := p
		if words := strings.Fields(p); len(words) > 3 {
			name = strings.Join(words[:3], " ")
		}
		seeds = append(seeds, MineSeed{Name: name, Layer: layer, Excerpt: p, Source: source})
	}
	return seeds
}
