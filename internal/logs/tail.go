package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

const defaultPollInterval = 250 * time.Millisecond

// Tailer reads one log file incrementally.
type Tailer struct {
	path string
	poll time.Duration
}

// NewTailer returns a Tailer for path.
func NewTailer(path string) *Tailer {
	return &Tailer{path: path, poll: defaultPollInterval}
}

// WithPollInterval changes how often Follow checks for new lines.
func (t *Tailer) WithPollInterval(d time.Duration) *Tailer {
	if d > 0 {
		t.poll = d
	}
	return t
}

// Last returns up to n trailing lines and the offset just past them. A
// missing file yields no lines and offset 0.
func (t *Tailer) Last(n int) ([]string, int64, error) {
	lines, offset, err := t.From(0)
	if err != nil {
		return nil, 0, err
	}
	if n <= 0 {
		return nil, offset, nil
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, offset, nil
}

// From returns the complete lines written after offset and the offset just
// past the last one.
func (t *Tailer) From(offset int64) ([]string, int64, error) {
	file, err := os.Open(t.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, offset, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, offset, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return nil, offset, fmt.Errorf("log path %q is a directory", t.path)
	}
	if offset < 0 || offset > info.Size() {
		offset = 0
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, offset, fmt.Errorf("seek log file: %w", err)
	}

	reader := bufio.NewReaderSize(file, 64*1024)
	var lines []string
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return lines, offset, fmt.Errorf("read log file: %w", err)
		}
		offset += int64(len(line))
		lines = append(lines, strings.TrimRight(line, "\r\n"))
	}
	return lines, offset, nil
}

// Follow calls emit for every line written after offset until ctx ends.
func (t *Tailer) Follow(ctx context.Context, offset int64, emit func(string)) error {
	ticker := time.NewTicker(t.poll)
	defer ticker.Stop()
	for {
		lines, next, err := t.From(offset)
		if err != nil {
			return err
		}
		for _, line := range lines {
			emit(line)
		}
		offset = next

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
