package runtime

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// backupMetadata describes one timestamped backup folder.
type backupMetadata struct {
	CreatedAt string   `json:"created_at"`
	Reason    string   `json:"reason"`
	Files     []string `json:"files"`
}

// backupExperimental copies the experimental directory into a timestamped
// subfolder of the backup root with a metadata.json manifest.
func backupExperimental(experimentalDir, backupRoot, reason string) (string, error) {
	entries, err := os.ReadDir(experimentalDir)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", nil
	}

	stamp := time.Now().Format("20060102_150405")
	dest := filepath.Join(backupRoot, stamp)
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", err
	}

	meta := backupMetadata{
		CreatedAt: time.Now().Format(time.RFC3339),
		Reason:    reason,
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := copyFile(
			filepath.Join(experimentalDir, entry.Name()),
			filepath.Join(dest, entry.Name()),
		); err != nil {
			return "", fmt.Errorf("backup %s: %w", entry.Name(), err)
		}
		meta.Files = append(meta.Files, entry.Name())
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dest, "metadata.json"), data, 0o644); err != nil {
		return "", err
	}
	return dest, nil
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
