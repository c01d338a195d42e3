package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/hpcloud/tail"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/deskpilot/internal/config"
	"github.com/xkilldash9x/deskpilot/internal/observability"
)

type logsOptions struct {
	follow bool
	lines  int
	level  string
	// poll makes follow mode stat the file instead of using inotify.
	poll bool
}

func newLogsCmd() *cobra.Command {
	opts := logsOptions{}
	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the application log file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromContext(cmd.Context())
			if err != nil {
				return err
			}
			return showLogs(cmd.Context(), logPath(cfg), opts, cmd.OutOrStdout())
		},
	}
	logsCmd.Flags().BoolVarP(&opts.follow, "follow", "f", false, "Keep printing new lines as they are written")
	logsCmd.Flags().IntVarP(&opts.lines, "lines", "n", 50, "Number of existing lines to show (0 for all)")
	logsCmd.Flags().StringVar(&opts.level, "level", "", "Only show entries at or above this level")
	logsCmd.Flags().BoolVar(&opts.poll, "poll", false, "Poll for changes instead of using file system events")
	return logsCmd
}

// logPath prefers the file the running logger actually opened.
func logPath(cfg *config.Config) string {
	if p := observability.LogFile(); p != "" {
		return p
	}
	return cfg.Logger().LogFile
}

func showLogs(ctx context.Context, path string, opts logsOptions, out io.Writer) error {
	if path == "" {
		return errors.New("file logging is disabled (logger.log_file is empty)")
	}
	filter, err := newLevelFilter(opts.level)
	if err != nil {
		return err
	}

	existing, err := lastLines(path, opts.lines)
	if err != nil {
		return err
	}
	for _, line := range existing {
		if filter.keep(line) {
			fmt.Fprintln(out, line)
		}
	}
	if !opts.follow {
		return nil
	}

	t, err := tail.TailFile(path, tail.Config{
		Follow:   true,
		ReOpen:   true,
		Poll:     opts.poll,
		Location: &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd},
		Logger:   tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to follow log file: %w", err)
	}
	defer func() {
		_ = t.Stop()
		t.Cleanup()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-t.Lines:
			if !ok {
				return t.Err()
			}
			if line.Err != nil {
				return fmt.Errorf("reading log file: %w", line.Err)
			}
			if filter.keep(line.Text) {
				fmt.Fprintln(out, line.Text)
			}
		}
	}
}

// lastLines returns the final n lines of the file, or all of them when n is
// not positive.
func lastLines(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("no log file at %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if n > 0 && len(lines) > n {
			lines = lines[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read log file: %w", err)
	}
	return lines, nil
}

// levelFilter keeps JSON entries at or above a level. Lines that are not JSON
// entries are always kept.
type levelFilter struct {
	enabled bool
	min     zapcore.Level
}

func newLevelFilter(level string) (levelFilter, error) {
	if level == "" {
		return levelFilter{}, nil
	}
	lvl, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		return levelFilter{}, fmt.Errorf("invalid --level: %w", err)
	}
	return levelFilter{enabled: true, min: lvl}, nil
}

func (f levelFilter) keep(line string) bool {
	if !f.enabled {
		return true
	}
	var entry struct {
		Level string `json:"level"`
	}
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.UnmarshalFromString(line, &entry); err != nil || entry.Level == "" {
		return true
	}
	lvl, err := zapcore.ParseLevel(strings.ToLower(entry.Level))
	if err != nil {
		return true
	}
	return lvl >= f.min
}
