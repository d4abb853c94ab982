package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	require.NoError(t, c.Adjust())
	require.NoError(t, c.Validate())
	require.Equal(t, StrategyRandom, c.Strategy)
	require.Equal(t, time.Duration(0), c.Timeout)
}

func TestParse(t *testing.T) {
	c, err := Parse(`
strategy = "pct"
max-iterations = 50
seed = 7
priority-change-points = 2
timeout = "1m30s"
fail-fast = false
`)
	require.NoError(t, err)
	require.Equal(t, StrategyPCT, c.Strategy)
	require.Equal(t, 50, c.MaxIterations)
	require.Equal(t, int64(7), c.Seed)
	require.Equal(t, 2, c.PriorityChangePoints)
	require.Equal(t, 90*time.Second, c.Timeout)
	require.False(t, c.FailFast)
	// Values that are not set keep their defaults
	require.Equal(t, defaultMaxSteps, c.MaxSteps)
}

func TestParseRejectsUnknownItems(t *testing.T) {
	_, err := Parse(`max-runs = 10`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "max-runs")
}

func TestValidate(t *testing.T) {
	_, err := Parse(`strategy = "bfs"`)
	require.Error(t, err)

	_, err = Parse(`strategy = "replay"`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "replay-trace-file")

	_, err = Parse(`
strategy = "replay"
replay-trace-file = "bug.trace"
`)
	require.NoError(t, err)

	_, err = Parse(`max-iterations = -1`)
	require.Error(t, err)

	_, err = Parse(`timeout = "soon"`)
	require.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sct.toml")
	require.NoError(t, os.WriteFile(path, []byte("strategy = \"dfs\"\nparallelism = 4\n"), 0o644))
	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, StrategyDFS, c.Strategy)
	require.Equal(t, 4, c.Parallelism)

	out, err := c.Toml()
	require.NoError(t, err)
	require.Contains(t, out, `strategy = "dfs"`)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}
