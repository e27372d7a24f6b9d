package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// EmptyDigestMarker is what the consolidator writes when a run produced
// nothing new. The composer skips the digest section when it sees it.
const EmptyDigestMarker = "нет новых данных"

// Digest holds the prompt-injection digest text and keeps it fresh by
// watching the file for rewrites.
type Digest struct {
	mu      sync.Mutex
	path    string
	text    string
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewDigest loads the digest file. A missing file is an empty digest.
func NewDigest(path string) *Digest {
	d := &Digest{path: path}
	d.Reload()
	return d
}

// Reload re-reads the digest file.
func (d *Digest) Reload() {
	data, err := os.ReadFile(d.path)
	d.mu.Lock()
	defer d.mu.Unlock()
	if err != nil {
		d.text = ""
		return
	}
	d.text = strings.TrimSpace(string(data))
}

// Text returns the current digest, or "" when it is empty or carries the
// no-new-data marker.
func (d *Digest) Text() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.text == "" || strings.Contains(strings.ToLower(d.text), EmptyDigestMarker) {
		return ""
	}
	return d.text
}

// Watch starts a filesystem watch on the digest's directory so consolidator
// rewrites show up without an explicit reload. Call Close to stop.
func (d *Digest) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(d.path)); err != nil {
		watcher.Close()
		return err
	}
	done := make(chan struct{})
	d.mu.Lock()
	d.watcher = watcher
	d.done = done
	d.mu.Unlock()

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != d.path {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					d.Reload()
					log.Debug().Str("path", d.path).Msg("digest reloaded")
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("digest watch error")
			case <-done:
				return
			}
		}
	}()
	return nil
}

// Close stops the watch goroutine. Safe to call more than once.
func (d *Digest) Close() {
	d.mu.Lock()
	done, watcher := d.done, d.watcher
	d.done, d.watcher = nil, nil
	d.mu.Unlock()

	if done != nil {
		close(done)
	}
	if watcher != nil {
		watcher.Close()
	}
}
