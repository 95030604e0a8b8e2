// Package warmup waits for generated instances to finish prefill by polling
// their debug logs, the same check warm-up.sh performs.
package warmup

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cachekit/ck/internal/fs"
)

// ErrNoLogs is returned when a poller has nothing to watch.
var ErrNoLogs = errors.New("no instance logs to watch")

// DefaultInterval matches the sleep of warm-up.sh.
const DefaultInterval = 10 * time.Second

// Status is the outcome of one poll.
type Status struct {
	Time  time.Time
	Ready int
	Total int
}

// Done reports whether every instance is warm.
func (s Status) Done() bool {
	return s.Ready >= s.Total
}

// Poller counts instance logs that contain a marker line.
type Poller struct {
	FS     fs.FS
	Logs   []string
	Marker string

	// Interval defaults to DefaultInterval.
	Interval time.Duration

	// Now defaults to time.Now.
	Now func() time.Time
}

// Ready returns how many logs contain the marker. Logs that do not exist
// yet count as not ready. Each log is streamed and reading stops at the
// first match.
func (p *Poller) Ready() (int, error) {
	ready := 0

	for _, path := range p.Logs {
		ok, err := p.logReady(path)
		if err != nil {
			return ready, err
		}

		if ok {
			ready++
		}
	}

	return ready, nil
}

func (p *Poller) logReady(path string) (bool, error) {
	f, err := p.FS.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}

		return false, fmt.Errorf("open log %s: %w", path, err)
	}
	defer f.Close()

	ok, err := containsMarker(f, []byte(p.Marker))
	if err != nil {
		return false, fmt.Errorf("read log %s: %w", path, err)
	}

	return ok, nil
}

// scanChunk is how much of a log is searched per read.
const scanChunk = 64 << 10

// containsMarker reports whether r contains marker. Consecutive chunks
// overlap by len(marker)-1 bytes so a marker split across reads is found.
func containsMarker(r io.Reader, marker []byte) (bool, error) {
	if len(marker) == 0 {
		return true, nil
	}

	br := bufio.NewReaderSize(r, scanChunk)
	keep := len(marker) - 1
	buf := make([]byte, 0, scanChunk+keep)
	chunk := make([]byte, scanChunk)

	for {
		n, err := br.Read(chunk)
		buf = append(buf, chunk[:n]...)

		if bytes.Contains(buf, marker) {
			return true, nil
		}

		if len(buf) > keep {
			buf = append(buf[:0], buf[len(buf)-keep:]...)
		}

		if errors.Is(err, io.EOF) {
			return false, nil
		}

		if err != nil {
			return false, err
		}
	}
}

// Wait polls until every log contains the marker or ctx is done. report is
// called after each poll. There is no internal timeout; callers bound the
// wait through ctx.
func (p *Poller) Wait(ctx context.Context, report func(Status)) (Status, error) {
	if len(p.Logs) == 0 {
		return Status{}, ErrNoLogs
	}

	now := p.Now
	if now == nil {
		now = time.Now
	}

	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		ready, err := p.Ready()
		if err != nil {
			return Status{}, err
		}

		st := Status{Time: now(), Ready: ready, Total: len(p.Logs)}
		if report != nil {
			report(st)
		}

		if st.Done() {
			return st, nil
		}

		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-ticker.C:
		}
	}
}
