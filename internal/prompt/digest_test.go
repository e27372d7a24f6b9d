package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDigestWatchPicksUpRewrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "consolidation_summary.txt")
	require.NoError(t, os.WriteFile(path, []byte("старая сводка"), 0o644))

	d := NewDigest(path)
	require.NoError(t, d.Watch())
	defer d.Close()
	assert.Equal(t, "старая сводка", d.Text())

	require.NoError(t, os.WriteFile(path, []byte("новая сводка"), 0o644))
	assert.Eventually(t, func() bool { return d.Text() == "новая сводка" },
		2*time.Second, 10*time.Millisecond)
}

func TestDigestCloseIdempotentUnderConcurrentRewrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "consolidation_summary.txt")
	require.NoError(t, os.WriteFile(path, []byte("сводка"), 0o644))

	d := NewDigest(path)
	require.NoError(t, d.Watch())

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
				os.WriteFile(path, []byte(fmt.Sprintf("сводка %d", i)), 0o644)
			}
		}
	}()

	d.Close()
	d.Close()
	close(stop)
	wg.Wait()
}
