package share

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// ErrSpoolLocked is returned when another process is watching the inbox
var ErrSpoolLocked = errors.New("inbox is being watched by another process")

const (
	acceptedDir = ".accepted"
	lockFile    = ".lock"
)

// Spool is a Source backed by an inbox directory. Every top-level entry is
// one share: a directory is a multi-file share, a .url or .txt file carries
// shared text, and any other file is shared as-is. Acknowledging an entry
// moves it to .accepted/<unix-ms>-<name> so it is not delivered again and a
// later share may reuse the name.
type Spool struct {
	dir  string
	lock *flock.Flock

	mu       sync.Mutex
	pending  *spoolEntry
	err      error
	reported string
}

type spoolEntry struct {
	name  string
	dest  string
	event Event
}

// NewSpool creates the inbox directory if needed
func NewSpool(dir string) (*Spool, error) {
	if err := os.MkdirAll(filepath.Join(dir, acceptedDir), 0755); err != nil {
		return nil, fmt.Errorf("creating inbox directory: %w", err)
	}
	return &Spool{
		dir:  dir,
		lock: flock.New(filepath.Join(dir, lockFile)),
	}, nil
}

// Dir returns the inbox directory
func (s *Spool) Dir() string {
	return s.dir
}

// Lock claims the inbox for this process
func (s *Spool) Lock() error {
	ok, err := s.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring inbox lock: %w", err)
	}
	if !ok {
		return ErrSpoolLocked
	}
	return nil
}

// Unlock releases the inbox
func (s *Spool) Unlock() error {
	return s.lock.Unlock()
}

// HasEvent rescans the inbox and reports whether a share is waiting
func (s *Spool) HasEvent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending, s.err = s.scan()
	return s.pending != nil
}

// Payload returns the event found by the last HasEvent
func (s *Spool) Payload() Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return Event{}
	}
	return s.pending.event
}

// Error returns the error from the last scan. A persisting error is
// returned once.
func (s *Spool) Error() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.reported = ""
		return nil
	}
	if s.err.Error() == s.reported {
		return nil
	}
	s.reported = s.err.Error()
	return s.err
}

// Acknowledge moves the pending entry out of the inbox
func (s *Spool) Acknowledge() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return nil
	}
	entry := s.pending
	s.pending = nil
	if err := os.Rename(filepath.Join(s.dir, entry.name), entry.dest); err != nil {
		return fmt.Errorf("accepting %s: %w", entry.name, err)
	}
	return nil
}

// scan returns the oldest entry. File paths in the event point to where the
// entry lives once acknowledged.
func (s *Spool) scan() (*spoolEntry, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading inbox: %w", err)
	}

	type candidate struct {
		entry   os.DirEntry
		modTime time.Time
	}
	var candidates []candidate
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{entry: e, modTime: info.ModTime()})
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].modTime.Equal(candidates[j].modTime) {
			return candidates[i].entry.Name() < candidates[j].entry.Name()
		}
		return candidates[i].modTime.Before(candidates[j].modTime)
	})

	c := candidates[0]
	name := c.entry.Name()
	event := Event{CapturedAt: c.modTime}
	accepted := s.acceptedPath(name, c.modTime)

	switch {
	case c.entry.IsDir():
		files, err := os.ReadDir(filepath.Join(s.dir, name))
		if err != nil {
			return nil, fmt.Errorf("reading share %s: %w", name, err)
		}
		for _, f := range files {
			if f.IsDir() || strings.HasPrefix(f.Name(), ".") {
				continue
			}
			event.Files = append(event.Files, File{
				Path:     filepath.Join(accepted, f.Name()),
				FileName: f.Name(),
			})
		}
	case isTextNote(name):
		text, err := readNote(filepath.Join(s.dir, name))
		if err != nil {
			return nil, fmt.Errorf("reading share %s: %w", name, err)
		}
		if isWebURL(text) {
			event.WebURL = text
		} else {
			event.Text = text
		}
	default:
		event.Files = []File{{Path: accepted, FileName: name}}
	}

	return &spoolEntry{name: name, dest: accepted, event: event}, nil
}

// acceptedPath picks a free destination under .accepted. It is stable across
// scans of the same inbox so the event key does not change.
func (s *Spool) acceptedPath(name string, modTime time.Time) string {
	base := fmt.Sprintf("%d-%s", modTime.UnixMilli(), name)
	path := filepath.Join(s.dir, acceptedDir, base)
	for n := 2; ; n++ {
		if _, err := os.Lstat(path); err != nil {
			return path
		}
		path = filepath.Join(s.dir, acceptedDir, fmt.Sprintf("%s-%d", base, n))
	}
}

func isTextNote(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".url" || ext == ".txt"
}

// readNote returns the shared text. Internet shortcut files contribute their
// URL= line.
func readNote(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if rest, ok := strings.CutPrefix(line, "URL="); ok {
			return strings.TrimSpace(rest), nil
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return strings.TrimSpace(strings.Join(lines, "\n")), nil
}

// Watch polls src every interval and delivers what it finds until ctx ends.
// It returns once the share in flight has finished.
func Watch(ctx context.Context, src Source, d *Dispatcher, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var wg sync.WaitGroup
	for {
		if done := d.Deliver(ctx, src); done != nil {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := <-done; err != nil {
					slog.Warn("Shared content was not uploaded", "error", err)
				}
			}()
		}

		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// StaticSource delivers a single event, as given on the command line
type StaticSource struct {
	mu    sync.Mutex
	event *Event
}

// NewStaticSource builds an event from arguments: a lone http(s) URL is a
// URL share, anything else a file share.
func NewStaticSource(args []string, now time.Time) (*StaticSource, error) {
	event := Event{CapturedAt: now}
	if len(args) == 1 && isWebURL(strings.TrimSpace(args[0])) {
		event.WebURL = strings.TrimSpace(args[0])
		return &StaticSource{event: &event}, nil
	}
	if len(args) == 1 && !fileExists(args[0]) {
		event.Text = args[0]
		return &StaticSource{event: &event}, nil
	}
	for _, arg := range args {
		abs, err := filepath.Abs(arg)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", arg, err)
		}
		event.Files = append(event.Files, File{Path: abs, FileName: filepath.Base(abs)})
	}
	return &StaticSource{event: &event}, nil
}

func (s *StaticSource) HasEvent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.event != nil
}

func (s *StaticSource) Payload() Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.event == nil {
		return Event{}
	}
	return *s.event
}

func (s *StaticSource) Error() error {
	return nil
}

func (s *StaticSource) Acknowledge() error {
	s.mu.Lock()
	s.event = nil
	s.mu.Unlock()
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
