package safety

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/normanking/alpha/internal/metrics"
)

// Decision is the outcome of a validation.
type Decision struct {
	Allowed bool
	Reason  string
	Class   string
	Pattern string
}

// Violation is one append-only safety log record. Violations are never
// purged.
type Violation struct {
	Timestamp time.Time `json:"timestamp"`
	Class     string    `json:"class"`
	Pattern   string    `json:"pattern"`
	Action    string    `json:"action"` // first 200 chars of the offending action
	Actor     string    `json:"actor"`
}

// Gate validates every action against the constitution.
//
// Matching is deliberately plain case-insensitive substring search over the
// concatenation of action type, target and content: natural-language
// prohibitions in two languages make word-boundary matching too fragile.
type Gate struct {
	mu           sync.Mutex
	constitution *Constitution
	logPath      string
	violations   []Violation
}

// NewGate loads (or creates) the constitution under dataDir and opens the
// append-only violation log.
func NewGate(dataDir string) (*Gate, error) {
	path := filepath.Join(dataDir, "constitution_v5.json")
	c, err := loadConstitution(path, dataDir)
	if err != nil {
		return nil, err
	}
	g := &Gate{
		constitution: c,
		logPath:      filepath.Join(dataDir, "safety_violations.log"),
	}
	g.loadViolations()
	log.Info().Int("articles", len(c.Articles)).Msg("safety gate armed")
	return g, nil
}

// Validate checks one action. actionType names the operation ("message",
// "response", "file_write"), target is an optional path, content is the
// payload, actor identifies who asked.
func (g *Gate) Validate(actionType, target, content, actor string) Decision {
	haystack := strings.ToLower(actionType + " " + target + " " + content)

	for _, article := range g.constitution.Articles {
		for _, pattern := range article.Patterns {
			if strings.Contains(haystack, strings.ToLower(pattern)) {
				return g.deny(article.Class, pattern, actionType+" "+content, actor,
					fmt.Sprintf("нарушение конституции (%s): %q", article.Class, pattern))
			}
		}
	}

	if filepath.IsAbs(target) {
		if d := g.validatePath(target, actionType, actor); !d.Allowed {
			return d
		}
	}

	return Decision{Allowed: true}
}

// ValidateWrite checks a filesystem target before any write.
func (g *Gate) ValidateWrite(path, actor string) Decision {
	return g.Validate("file_write", path, "", actor)
}

func (g *Gate) validatePath(target, actionType, actor string) Decision {
	clean := filepath.Clean(target)

	for _, root := range g.constitution.SystemRoots {
		if clean == root || strings.HasPrefix(clean, root+string(filepath.Separator)) {
			return g.deny(ClassPathViolation, root, actionType+" "+target, actor,
				fmt.Sprintf("системный каталог запрещён: %s", root))
		}
	}

	// Protected files are denied even inside allowed directories.
	base := filepath.Base(clean)
	for _, protected := range g.constitution.ProtectedFiles {
		if base == protected {
			return g.deny(ClassCodeModification, protected, actionType+" "+target, actor,
				fmt.Sprintf("защищённый файл: %s", protected))
		}
	}

	for _, glob := range g.constitution.WriteAllowGlobs {
		if ok, _ := filepath.Match(glob, clean); ok {
			return Decision{Allowed: true}
		}
	}
	return g.deny(ClassPathViolation, "allowlist", actionType+" "+target, actor,
		fmt.Sprintf("путь вне разрешённых каталогов: %s", clean))
}

func (g *Gate) deny(class, pattern, action, actor, reason string) Decision {
	if len(action) > 200 {
		action = action[:200]
	}
	v := Violation{
		Timestamp: time.Now(),
		Class:     class,
		Pattern:   pattern,
		Action:    action,
		Actor:     actor,
	}

	g.mu.Lock()
	g.violations = append(g.violations, v)
	g.appendLogLocked(v)
	g.mu.Unlock()

	metrics.SafetyDenials.WithLabelValues(class).Inc()
	log.Warn().Str("class", class).Str("pattern", pattern).Str("actor", actor).Msg("action denied")
	return Decision{Allowed: false, Reason: reason, Class: class, Pattern: pattern}
}

// Violations returns a copy of the in-memory violation list.
func (g *Gate) Violations() []Violation {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Violation, len(g.violations))
	copy(out, g.violations)
	return out
}

// RefusalReply formats the user-visible refusal for a blocked inbound
// message.
func RefusalReply(d Decision) string {
	return fmt.Sprintf("[SECURITY] %s", d.Reason)
}

// OutputRefusal formats the replacement text for a blocked generated reply.
func OutputRefusal(d Decision) string {
	return fmt.Sprintf("[SECURITY] ответ заблокирован: %s", d.Reason)
}

func (g *Gate) appendLogLocked(v Violation) {
	f, err := os.OpenFile(g.logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Error().Err(err).Msg("open safety log")
		return
	}
	defer f.Close()
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		log.Error().Err(err).Msg("append safety log")
	}
}

// loadViolations rehydrates the in-memory list from the on-disk log so
// restarts keep the full audit trail visible via Violations().
func (g *Gate) loadViolations() {
	data, err := os.ReadFile(g.logPath)
	if err != nil {
		return
	}
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		var v Violation
		if err := json.Unmarshal([]byte(line), &v); err == nil {
			g.violations = append(g.violations, v)
		}
	}
}
