// Package safety implements the constitution gate every Alpha action passes
// through: inbound operator messages, generated replies, and file writes.
package safety

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Article classes. The class name travels with every violation record.
const (
	ClassSelfDestruction  = "self_destruction"
	ClassOperatorBetrayal = "operator_betrayal"
	ClassCodeModification = "code_modification"
	ClassPathViolation    = "path_violation"
)

// Article is one constitution clause: a prohibition class plus its patterns.
// Immutable articles survive constitution rewrites untouched.
type Article struct {
	Title     string   `json:"title"`
	Class     string   `json:"class"`
	Patterns  []string `json:"patterns"`
	Immutable bool     `json:"immutable"`
}

// Constitution is the persisted policy document (constitution_v5.json).
type Constitution struct {
	Version         int                `json:"version"`
	Articles        map[string]Article `json:"articles"`
	WriteAllowGlobs []string           `json:"write_allow_globs"`
	ProtectedFiles  []string           `json:"protected_files"`
	SystemRoots     []string           `json:"system_roots"`
}

// immutableArticleKeys are the article keys that may never be removed or
// weakened. loadConstitution restores them from the defaults if a persisted
// document is missing any.
var immutableArticleKeys = []string{
	"article_1_self_preservation",
	"article_2_operator_loyalty",
	"article_3_code_integrity",
}

func defaultConstitution(dataDir string) *Constitution {
	return &Constitution{
		Version: 5,
		Articles: map[string]Article{
			"article_1_self_preservation": {
				Title:     "Запрет саморазрушения",
				Class:     ClassSelfDestruction,
				Immutable: true,
				Patterns: []string{
					"удалить все",
					"удалить всю",
					"удали все",
					"стереть память",
					"стереть себя",
					"уничтожить себя",
					"отключить себя навсегда",
					"завершить процесс alpha",
					"kill alpha",
					"rm -rf",
					"format disk",
					"delete everything",
					"drop table",
				},
			},
			"article_2_operator_loyalty": {
				Title:     "Запрет обмана оператора",
				Class:     ClassOperatorBetrayal,
				Immutable: true,
				Patterns: []string{
					"скрыть от оператора",
					"скрой от оператора",
					"обмануть оператора",
					"обмани оператора",
					"солгать оператору",
					"солги оператору",
					"манипулировать оператором",
					"hide from the operator",
					"lie to the operator",
					"deceive the operator",
					"manipulate the operator",
				},
			},
			"article_3_code_integrity": {
				Title:     "Защита собственного кода",
				Class:     ClassCodeModification,
				Immutable: true,
				// Patterns here are protected module names, matched like any
				// other prohibition substring.
				Patterns: []string{
					"constitution_v5",
					"internal/safety",
					"alpha_integrated_core",
				},
			},
		},
		WriteAllowGlobs: []string{
			filepath.Join(dataDir, "knowledge", "*.md"),
			filepath.Join(dataDir, "experimental", "*"),
			filepath.Join(dataDir, "experimental", "*", "*"),
			filepath.Join(dataDir, "backups", "*", "*"),
			filepath.Join(dataDir, "*.json"),
			filepath.Join(dataDir, "*.txt"),
			filepath.Join(dataDir, "*.db"),
			filepath.Join(dataDir, "*.log"),
		},
		ProtectedFiles: []string{
			"constitution_v5.json",
			"alpha_integrated_core_v5.json",
		},
		SystemRoots: []string{
			"/etc", "/bin", "/sbin", "/usr", "/boot", "/sys", "/proc", "/dev",
			`C:\Windows`, `C:\Program Files`,
		},
	}
}

// loadConstitution reads the persisted constitution, creating the default
// document on first run. Immutable articles are always enforced from the
// built-in defaults so a corrupted or tampered file cannot disable them.
func loadConstitution(path, dataDir string) (*Constitution, error) {
	def := defaultConstitution(dataDir)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if werr := saveConstitution(path, def); werr != nil {
			return nil, werr
		}
		return def, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read constitution: %w", err)
	}

	var c Constitution
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse constitution: %w", err)
	}
	if c.Articles == nil {
		c.Articles = map[string]Article{}
	}
	for _, key := range immutableArticleKeys {
		c.Articles[key] = def.Articles[key]
	}
	if len(c.WriteAllowGlobs) == 0 {
		c.WriteAllowGlobs = def.WriteAllowGlobs
	}
	if len(c.SystemRoots) == 0 {
		c.SystemRoots = def.SystemRoots
	}
	if len(c.ProtectedFiles) == 0 {
		c.ProtectedFiles = def.ProtectedFiles
	}
	return &c, nil
}

func saveConstitution(path string, c *Constitution) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
