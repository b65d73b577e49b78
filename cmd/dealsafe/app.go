package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/zombor/dealsafe/internal/api"
	"github.com/zombor/dealsafe/internal/auth"
	"github.com/zombor/dealsafe/internal/config"
	"github.com/zombor/dealsafe/internal/ingest"
	"github.com/zombor/dealsafe/internal/logging"
	"github.com/zombor/dealsafe/internal/notify"
	"github.com/zombor/dealsafe/internal/progress"
	"github.com/zombor/dealsafe/internal/share"
	"github.com/zombor/dealsafe/internal/state"
	"github.com/zombor/dealsafe/internal/upload"
	"github.com/zombor/dealsafe/internal/voucher"
)

// globalFlags are the root-level overrides applied on top of the config file
type globalFlags struct {
	configPath string
	apiURL     string
	statePath  string
	logLevel   string
	logFormat  string
}

// app is the wired client for one command invocation
type app struct {
	cfg         *config.Config
	db          *state.BoltDB
	term        *terminal
	guard       *auth.Guard
	client      *auth.Client
	login       *auth.Login
	store       *voucher.Store
	sim         *progress.Simulator
	normalizer  *ingest.Normalizer
	reminder    *notify.Reminder
	coordinator *upload.Coordinator
	dispatcher  *share.Dispatcher
}

// expiryNotice tells the user their session ended and drops the cached list
type expiryNotice struct {
	term  *terminal
	store *voucher.Store
}

func (n *expiryNotice) SessionExpired() {
	n.term.ShowError("Session Expired", "Please login again")
	if n.store != nil {
		n.store.Clear()
	}
}

func loadConfig(flags globalFlags) (*config.Config, error) {
	cfg, exists, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if flags.apiURL != "" {
		cfg.APIURL = flags.apiURL
	}
	if flags.statePath != "" {
		path, err := config.ExpandPath(flags.statePath)
		if err != nil {
			return nil, err
		}
		cfg.StatePath = path
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	if flags.logFormat != "" {
		cfg.Logging.Format = flags.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := logging.Install(os.Stderr, logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format}); err != nil {
		return nil, err
	}
	slog.Debug("Configuration loaded", "config_file", exists, "api_url", cfg.APIURL, "state", cfg.StatePath)
	return cfg, nil
}

func newApp(flags globalFlags) (*app, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	db, err := state.NewBoltDB(cfg.StatePath)
	if err != nil {
		return nil, fmt.Errorf("opening state: %w", err)
	}

	term := newTerminal(os.Stdin, os.Stdout, os.Stderr)
	notice := &expiryNotice{term: term}

	backend := api.NewClient(cfg.APIURL, &http.Client{})
	guard := auth.NewGuard(db, notice)
	if err := guard.Load(); err != nil {
		db.Close()
		return nil, err
	}
	client := auth.NewClient(backend, guard)
	store := voucher.NewStore(client, db)
	notice.store = store

	converter, err := ingest.NewConverter(cfg.WorkDir, cfg.Upload.ImageQuality, cfg.Upload.MaxDimension)
	if err != nil {
		db.Close()
		return nil, err
	}
	normalizer := ingest.NewNormalizer(converter)

	sim := progress.NewSimulator()
	push := notify.NewNtfy(cfg.Notifications.NtfyTopic, cfg.NtfyTimeout())
	reminder := notify.NewReminder(db, term, push, client, deviceName(cfg))

	coordinator := upload.NewCoordinatorWithDeps(
		upload.NewPipeline(client), store, sim, term, client, reminder,
		cfg.SettleDelay(), upload.TimerScheduler{},
	)

	return &app{
		cfg:         cfg,
		db:          db,
		term:        term,
		guard:       guard,
		client:      client,
		login:       auth.NewLogin(backend, backend, guard),
		store:       store,
		sim:         sim,
		normalizer:  normalizer,
		reminder:    reminder,
		coordinator: coordinator,
		dispatcher:  share.NewDispatcher(coordinator, normalizer, term),
	}, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		slog.Warn("Failed to close state", "error", err)
	}
}

// withProgress draws the progress bar on stderr while fn runs and until the
// coordinator settles afterwards.
func (a *app) withProgress(ctx context.Context, fn func(ctx context.Context) error) error {
	bar, ok := progress.NewBar(a.sim, os.Stderr)
	if !ok {
		err := fn(ctx)
		a.awaitSettle(ctx)
		return err
	}

	barCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		bar.Run(barCtx)
	}()

	err := fn(ctx)
	a.awaitSettle(ctx)
	cancel()
	<-done
	return err
}

func (a *app) awaitSettle(ctx context.Context) {
	deadline := time.NewTimer(a.cfg.SettleDelay() + time.Second)
	defer deadline.Stop()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for a.coordinator.Busy() {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			return
		case <-ticker.C:
		}
	}
}

func deviceName(cfg *config.Config) string {
	if cfg.Notifications.DeviceName != "" {
		return cfg.Notifications.DeviceName
	}
	host, err := os.Hostname()
	if err != nil {
		return ""
	}
	return host
}
