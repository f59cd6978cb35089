package utilities

import (
	"bytes"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestIDGenerator_UniqueAcrossGoroutines(t *testing.T) {
	gen := NewIDGenerator(7)

	const workers, perWorker = 8, 500
	var mu sync.Mutex
	seen := make(map[string]struct{}, workers*perWorker)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				id := gen.Next()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*perWorker)
}

func TestIDGenerator_InvalidNodeFallsBack(t *testing.T) {
	gen := NewIDGenerator(99999)
	assert.NotEmpty(t, gen.Next())
}

func TestNewKSUIDAndUUID(t *testing.T) {
	assert.Len(t, NewKSUID(), 27)
	assert.Len(t, NewUUID(), 36)
	assert.NotEqual(t, NewKSUID(), NewKSUID())
}

func TestNew_WritesJSONAtLevel(t *testing.T) {
	var buf bytes.Buffer
	lg := New(Config{Level: "warn"}, &buf)

	lg.Info("dropped")
	lg.Warn("kept", zap.String("k", "v"))
	require.NoError(t, lg.Sync())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "kept", entry["msg"])
	assert.Equal(t, "v", entry["k"])
}

func TestLevelFromString(t *testing.T) {
	cases := map[string]string{
		"debug":   "debug",
		"warning": "warn",
		"error":   "error",
		"bogus":   "info",
	}
	for in, want := range cases {
		assert.Equal(t, want, levelFromString(in).String(), in)
	}
}
