package screen

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// CleanDirs removes every .png file directly inside each of dirs. Missing
// directories are ignored. It returns the number of files removed.
func CleanDirs(ctx context.Context, logger *zap.Logger, dirs ...string) (int, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var removed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for _, dir := range dirs {
		g.Go(func() error {
			n, err := cleanDir(gctx, dir)
			removed.Add(int64(n))
			if err != nil {
				return fmt.Errorf("cleaning %s: %w", dir, err)
			}
			if n > 0 {
				logger.Info("Removed old screenshots.", zap.String("dir", dir), zap.Int("count", n))
			}
			return nil
		})
	}
	err := g.Wait()
	return int(removed.Load()), err
}

func cleanDir(ctx context.Context, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".png") {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return n, err
		}
		n++
	}
	return n, nil
}
