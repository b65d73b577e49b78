package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/zombor/dealsafe/internal/failure"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

var errReported = errors.New("reported")

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand()
	err := root.command.ParseAndRun(ctx, os.Args[1:], ff.WithEnvVarPrefix("DEALSAFE"))
	switch {
	case err == nil:
	case errors.Is(err, ff.ErrHelp):
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Command(root.command.GetSelected()))
	case errors.Is(err, errReported):
		os.Exit(1)
	case errors.Is(err, failure.ErrNotAuthenticated):
		fmt.Fprintln(os.Stderr, "error: not logged in, run `dealsafe login` first")
		os.Exit(1)
	case errors.Is(err, failure.ErrSessionExpired):
		fmt.Fprintln(os.Stderr, "error: session expired, run `dealsafe login` again")
		os.Exit(1)
	default:
		message, hint := failure.Explain(err, "Something went wrong")
		fmt.Fprintf(os.Stderr, "error: %s\n", message)
		if hint != "" {
			fmt.Fprintf(os.Stderr, "%s\n", hint)
		}
		os.Exit(1)
	}
}
