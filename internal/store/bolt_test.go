package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/deskpilot/api/schemas"
)

func openTestBolt(t *testing.T) *Bolt {
	t.Helper()
	b, err := OpenBolt(filepath.Join(t.TempDir(), "nested", "history.db"), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestBolt_RoundTrip(t *testing.T) {
	ctx := context.Background()
	b := openTestBolt(t)
	id := uuid.NewString()
	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, b.BeginRun(ctx, schemas.Run{ID: id, Task: "open the calculator", StartedAt: started}))
	require.NoError(t, b.AppendAction(ctx, id, 0, 0, schemas.ActionRecord{
		ActionType: "key_press", Parameters: map[string]any{"key": "cmd"},
	}))
	require.NoError(t, b.AppendAction(ctx, id, 0, 1, schemas.ActionRecord{
		ActionType: "type", Parameters: map[string]any{"text": "calculator"},
	}))
	require.NoError(t, b.AppendStep(ctx, id, 0, schemas.StepRecord{
		Description: "launch calculator", Status: schemas.StepStatusSuccess, Result: "opened",
	}))
	require.NoError(t, b.AppendStep(ctx, id, 1, schemas.StepRecord{
		Description: "compute", Status: schemas.StepStatusError, Result: "attempts exceeded",
	}))
	finished := started.Add(2 * time.Minute)
	require.NoError(t, b.FinishRun(ctx, id, schemas.RunStatusFailure, "gave up", finished))

	detail, err := b.GetRun(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, schemas.RunStatusFailure, detail.Run.Status)
	assert.Equal(t, "gave up", detail.Run.Message)
	assert.True(t, finished.Equal(detail.Run.FinishedAt))
	assert.True(t, started.Equal(detail.Run.StartedAt))

	require.Len(t, detail.Steps, 2)
	assert.Equal(t, 0, detail.Steps[0].Sequence)
	assert.Equal(t, "launch calculator", detail.Steps[0].Record.Description)
	assert.Equal(t, schemas.StepStatusError, detail.Steps[1].Record.Status)

	require.Len(t, detail.Actions, 2)
	assert.Equal(t, "key_press", detail.Actions[0].Record.ActionType)
	assert.Equal(t, "calculator", detail.Actions[1].Record.Parameters["text"])
}

func TestBolt_BeginRunDefaultsToRunning(t *testing.T) {
	ctx := context.Background()
	b := openTestBolt(t)
	require.NoError(t, b.BeginRun(ctx, schemas.Run{ID: "r1", Task: "t", StartedAt: time.Now()}))

	detail, err := b.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, schemas.RunStatusRunning, detail.Run.Status)
	assert.Empty(t, detail.Steps)

	assert.Error(t, b.BeginRun(ctx, schemas.Run{Task: "no id"}))
}

func TestBolt_RecordsDoNotLeakAcrossRuns(t *testing.T) {
	ctx := context.Background()
	b := openTestBolt(t)
	now := time.Now()
	require.NoError(t, b.BeginRun(ctx, schemas.Run{ID: "run-1", StartedAt: now}))
	require.NoError(t, b.BeginRun(ctx, schemas.Run{ID: "run-10", StartedAt: now}))
	require.NoError(t, b.AppendStep(ctx, "run-1", 0, schemas.StepRecord{Description: "a"}))
	require.NoError(t, b.AppendStep(ctx, "run-10", 0, schemas.StepRecord{Description: "b"}))

	detail, err := b.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, detail.Steps, 1)
	assert.Equal(t, "a", detail.Steps[0].Record.Description)
}

func TestBolt_StepsOrderedNumerically(t *testing.T) {
	ctx := context.Background()
	b := openTestBolt(t)
	require.NoError(t, b.BeginRun(ctx, schemas.Run{ID: "r", StartedAt: time.Now()}))
	for _, seq := range []int{10, 2, 0} {
		require.NoError(t, b.AppendStep(ctx, "r", seq, schemas.StepRecord{}))
	}

	detail, err := b.GetRun(ctx, "r")
	require.NoError(t, err)
	var seqs []int
	for _, s := range detail.Steps {
		seqs = append(seqs, s.Sequence)
	}
	assert.Equal(t, []int{0, 2, 10}, seqs)
}

func TestBolt_ListRunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	b := openTestBolt(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, b.BeginRun(ctx, schemas.Run{ID: id, StartedAt: base.Add(time.Duration(i) * time.Hour)}))
	}

	runs, err := b.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "a", runs[2].ID)

	runs, err = b.ListRuns(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestBolt_UnknownRun(t *testing.T) {
	ctx := context.Background()
	b := openTestBolt(t)

	_, err := b.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.ErrorIs(t, b.FinishRun(ctx, "missing", schemas.RunStatusSuccess, "", time.Now()), ErrRunNotFound)
}

func TestBolt_CancelledContext(t *testing.T) {
	b := openTestBolt(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, b.BeginRun(ctx, schemas.Run{ID: "x"}), context.Canceled)
	_, err := b.ListRuns(ctx, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBolt_ReopenKeepsHistory(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")

	b, err := OpenBolt(path, nil)
	require.NoError(t, err)
	require.NoError(t, b.BeginRun(ctx, schemas.Run{ID: "persisted", StartedAt: time.Now()}))
	require.NoError(t, b.Close())

	b, err = OpenBolt(path, nil)
	require.NoError(t, err)
	defer b.Close()
	runs, err := b.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "persisted", runs[0].ID)
}
