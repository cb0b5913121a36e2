package session

import (
	"context"
	"path/filepath"
	"testing"

	"promptsynth/internal/config"
	"promptsynth/internal/genome"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Evolution.Seed = 42
	cfg.Evaluator.Mode = "mock"
	cfg.Storage.DatabasePath = filepath.Join(dir, "runs.db")
	cfg.Storage.SnapshotPath = filepath.Join(dir, "fallback.json")
	return cfg
}

func newTestSession(t *testing.T) *Session {
	t.Helper()
	s, err := New(context.Background(), testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNew(t *testing.T) {
	s := newTestSession(t)

	assert.NotEmpty(t, s.RunID)
	assert.Equal(t, int64(42), s.Seed)
	assert.Len(t, s.Population, 5)
	assert.Equal(t, 0, s.Engine.Generation())
}

func TestNew_UnknownEvaluator(t *testing.T) {
	cfg := testConfig(t)
	cfg.Evaluator.Mode = "oracle"
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestSession_Step(t *testing.T) {
	s := newTestSession(t)

	rec, err := s.Step(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, rec.Generation)
	assert.True(t, rec.Mode.Valid())
	assert.GreaterOrEqual(t, rec.BestFitness, rec.AvgFitness)
	assert.Len(t, s.Population, 5)
	assert.Len(t, s.Scores, 5)
	assert.Len(t, s.AvgHistory, 1)
	assert.Len(t, s.ModeHistory, 1)

	// Generation metrics land in the store
	history, err := s.Store.FitnessHistory(s.RunID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, rec.Mode, history[0].Mode)

	best, score, err := s.Best()
	require.NoError(t, err)
	assert.NotNil(t, best)
	assert.InDelta(t, rec.BestFitness, score, 1e-9)
}

func TestSession_PhasePolicies(t *testing.T) {
	s := newTestSession(t)

	s.Cfg.Evolution.Phase = "darwin"
	assert.Equal(t, genome.ModeDarwin, s.NextMode())

	s.Cfg.Evolution.Phase = "kropotkin"
	assert.Equal(t, genome.ModeKropotkin, s.NextMode())

	s.Cfg.Evolution.Phase = "alternate"
	assert.Equal(t, genome.ModeDarwin, s.NextMode())
	_, err := s.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, genome.ModeKropotkin, s.NextMode())
}

func TestSession_StepKeepsBredModes(t *testing.T) {
	cfg := testConfig(t)
	cfg.Evolution.Phase = "darwin"
	s, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	for _, g := range s.Population {
		g.Mode = genome.ModeKropotkin
	}
	_, err = s.Step(context.Background())
	require.NoError(t, err)

	// Survivors keep the mode they were bred under; only this generation's
	// children carry darwin.
	kropotkin := 0
	for _, g := range s.Population {
		if g.Mode == genome.ModeKropotkin {
			kropotkin++
		}
	}
	assert.Greater(t, kropotkin, 0)
	assert.Less(t, kropotkin, len(s.Population))
}

func TestSession_FrameIsolatedFromLiveState(t *testing.T) {
	s := newTestSession(t)
	_, err := s.Step(context.Background())
	require.NoError(t, err)

	frame := s.Frame()
	assert.Equal(t, 1, frame.Generation)
	assert.Equal(t, s.Seed, frame.Seed)
	require.Len(t, frame.Population, 5)
	require.Len(t, frame.Scores, 5)
	require.Len(t, frame.AvgHistory, 1)

	// Mutating the live run must not show through the snapshot
	want := frame.Population[0].Fragments[0]
	s.Population[0].Fragments[0] = want + 1000
	s.Scores[0] = -1
	s.AvgHistory = append(s.AvgHistory, 99)

	assert.Equal(t, want, frame.Population[0].Fragments[0])
	assert.NotEqual(t, -1.0, frame.Scores[0])
	assert.Len(t, frame.AvgHistory, 1)
}

func TestSession_FrameSurvivesFurtherSteps(t *testing.T) {
	s := newTestSession(t)
	_, err := s.Step(context.Background())
	require.NoError(t, err)

	frame := s.Frame()
	keys := make([]string, len(frame.Population))
	for i, g := range frame.Population {
		keys[i] = g.Key()
	}

	for i := 0; i < 3; i++ {
		_, err := s.Step(context.Background())
		require.NoError(t, err)
	}

	for i, g := range frame.Population {
		assert.Equal(t, keys[i], g.Key())
	}
}

func TestSession_DeterministicRuns(t *testing.T) {
	keys := func() []string {
		s, err := New(context.Background(), testConfig(t))
		require.NoError(t, err)
		defer s.Close()
		for i := 0; i < 3; i++ {
			_, err := s.Step(context.Background())
			require.NoError(t, err)
		}
		out := make([]string, len(s.Population))
		for i, g := range s.Population {
			out[i] = g.Key()
		}
		return out
	}

	assert.Equal(t, keys(), keys())
}

func TestSession_Reset(t *testing.T) {
	s := newTestSession(t)
	_, err := s.Step(context.Background())
	require.NoError(t, err)

	oldRun := s.RunID
	require.NoError(t, s.Reset())

	assert.NotEqual(t, oldRun, s.RunID)
	assert.Equal(t, 0, s.Engine.Generation())
	assert.Empty(t, s.AvgHistory)
	assert.Len(t, s.Population, 5)
}

func TestSession_SnapshotRoundTrip(t *testing.T) {
	s := newTestSession(t)
	s.Cfg.Evolution.Phase = "kropotkin" // populate the commons
	_, err := s.Step(context.Background())
	require.NoError(t, err)
	_, err = s.Step(context.Background())
	require.NoError(t, err)

	path, err := s.SaveSnapshot()
	require.NoError(t, err)

	savedKeys := make([]string, len(s.Population))
	for i, g := range s.Population {
		savedKeys[i] = g.Key()
	}
	savedCommons := s.Engine.Commons()

	require.NoError(t, s.Reset())
	require.NoError(t, s.RestoreSnapshot(path))

	assert.Len(t, s.AvgHistory, 2)
	assert.Equal(t, savedCommons, s.Engine.Commons())
	for i, g := range s.Population {
		assert.Equal(t, savedKeys[i], g.Key())
	}
}

func TestSession_RestoreSnapshot_RejectsForeignPool(t *testing.T) {
	s := newTestSession(t)
	_, err := s.Step(context.Background())
	require.NoError(t, err)

	path, err := s.SaveSnapshot()
	require.NoError(t, err)

	// Shrink the pool so the snapshot's indices no longer fit
	s.Pool.Fragments = s.Pool.Fragments[:1]
	err = s.RestoreSnapshot(path)
	assert.Error(t, err)
}
