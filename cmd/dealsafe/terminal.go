package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
)

var errNotInteractive = errors.New("no terminal to prompt on")

// terminal is the interactive surface: error alerts, confirmations and prompts
type terminal struct {
	mu          sync.Mutex
	in          *bufio.Reader
	out         io.Writer
	errOut      io.Writer
	interactive bool
}

func newTerminal(in *os.File, out, errOut io.Writer) *terminal {
	fd := in.Fd()
	return &terminal{
		in:          bufio.NewReader(in),
		out:         out,
		errOut:      errOut,
		interactive: isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd),
	}
}

// ShowError prints an alert to stderr
func (t *terminal) ShowError(title, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.errOut, "\n%s\n", title)
	if message != "" {
		fmt.Fprintf(t.errOut, "%s\n", message)
	}
}

// Confirm asks a yes/no question. Without a terminal it refuses.
func (t *terminal) Confirm(ctx context.Context, title, message string) (bool, error) {
	if !t.interactive {
		return false, errNotInteractive
	}
	answer, err := t.Prompt(ctx, fmt.Sprintf("%s\n%s [y/N]", title, message))
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// Prompt prints label and reads one trimmed line
func (t *terminal) Prompt(ctx context.Context, label string) (string, error) {
	t.mu.Lock()
	fmt.Fprintf(t.out, "%s ", label)
	t.mu.Unlock()

	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := t.in.ReadString('\n')
		if errors.Is(err, io.EOF) && line != "" {
			err = nil
		}
		ch <- result{line: strings.TrimSpace(line), err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return "", fmt.Errorf("reading input: %w", r.err)
		}
		return r.line, nil
	}
}

// Printf writes to stdout
func (t *terminal) Printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, format, args...)
}
