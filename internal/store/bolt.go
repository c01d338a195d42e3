package store

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/api/schemas"
)

var (
	bucketRuns    = []byte("runs")
	bucketSteps   = []byte("steps")
	bucketActions = []byte("actions")
)

// Bolt is a single-file journal for local use.
//
// Steps are keyed "<run>/<seq>" and actions "<run>/<step>/<seq>" with
// zero-padded numbers, so a prefix scan returns a run's records in order.
type Bolt struct {
	db     *bolt.DB
	logger *zap.Logger
}

var _ Store = (*Bolt)(nil)

// OpenBolt opens or creates the journal at path.
func OpenBolt(path string, logger *zap.Logger) (*Bolt, error) {
	if path == "" {
		return nil, fmt.Errorf("bolt journal requires a path")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketRuns, bucketSteps, bucketActions} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init buckets: %w", err)
	}

	logger.Named("journal").Debug("Bolt journal opened.", zap.String("path", path))
	return &Bolt{db: db, logger: logger.Named("journal")}, nil
}

func stepKey(runID string, seq int) []byte {
	return []byte(fmt.Sprintf("%s/%08d", runID, seq))
}

func actionKey(runID string, step, seq int) []byte {
	return []byte(fmt.Sprintf("%s/%08d/%08d", runID, step, seq))
}

func (b *Bolt) put(ctx context.Context, bucket, key []byte, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal value: %w", err)
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put(key, data)
	})
}

func (b *Bolt) BeginRun(ctx context.Context, run schemas.Run) error {
	if run.ID == "" {
		return fmt.Errorf("run has no id")
	}
	if run.Status == "" {
		run.Status = schemas.RunStatusRunning
	}
	return b.put(ctx, bucketRuns, []byte(run.ID), run)
}

func (b *Bolt) AppendStep(ctx context.Context, runID string, seq int, rec schemas.StepRecord) error {
	return b.put(ctx, bucketSteps, stepKey(runID, seq), schemas.JournaledStep{
		RunID: runID, Sequence: seq, Record: rec,
	})
}

func (b *Bolt) AppendAction(ctx context.Context, runID string, step, seq int, rec schemas.ActionRecord) error {
	return b.put(ctx, bucketActions, actionKey(runID, step, seq), schemas.JournaledAction{
		RunID: runID, Step: step, Sequence: seq, Record: rec,
	})
}

func (b *Bolt) FinishRun(ctx context.Context, runID string, status schemas.RunStatus, message string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		runs := tx.Bucket(bucketRuns)
		data := runs.Get([]byte(runID))
		if data == nil {
			return fmt.Errorf("%s: %w", runID, ErrRunNotFound)
		}
		var run schemas.Run
		if err := json.Unmarshal(data, &run); err != nil {
			return fmt.Errorf("decode run %s: %w", runID, err)
		}
		run.Status = status
		run.Message = message
		run.FinishedAt = at
		updated, err := json.Marshal(run)
		if err != nil {
			return fmt.Errorf("marshal run: %w", err)
		}
		return runs.Put([]byte(runID), updated)
	})
}

func (b *Bolt) ListRuns(ctx context.Context, limit int) ([]schemas.Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var runs []schemas.Run
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRuns).ForEach(func(k, v []byte) error {
			var run schemas.Run
			if err := json.Unmarshal(v, &run); err != nil {
				return fmt.Errorf("decode run %s: %w", k, err)
			}
			runs = append(runs, run)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (b *Bolt) GetRun(ctx context.Context, id string) (*schemas.RunDetail, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	detail := &schemas.RunDetail{}
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketRuns).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%s: %w", id, ErrRunNotFound)
		}
		if err := json.Unmarshal(data, &detail.Run); err != nil {
			return fmt.Errorf("decode run %s: %w", id, err)
		}

		prefix := []byte(id + "/")
		if err := scanPrefix(tx.Bucket(bucketSteps), prefix, func(v []byte) error {
			var s schemas.JournaledStep
			if err := json.Unmarshal(v, &s); err != nil {
				return err
			}
			detail.Steps = append(detail.Steps, s)
			return nil
		}); err != nil {
			return fmt.Errorf("decode steps: %w", err)
		}
		if err := scanPrefix(tx.Bucket(bucketActions), prefix, func(v []byte) error {
			var a schemas.JournaledAction
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			detail.Actions = append(detail.Actions, a)
			return nil
		}); err != nil {
			return fmt.Errorf("decode actions: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return detail, nil
}

func scanPrefix(bucket *bolt.Bucket, prefix []byte, fn func(v []byte) error) error {
	c := bucket.Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		if err := fn(v); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bolt) Close() error {
	return b.db.Close()
}
