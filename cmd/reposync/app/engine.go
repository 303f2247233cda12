package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/viper"

	"github.com/stacklok/reposync/internal/access"
	"github.com/stacklok/reposync/internal/config"
	"github.com/stacklok/reposync/internal/conflict"
	"github.com/stacklok/reposync/internal/git"
	"github.com/stacklok/reposync/internal/hostapi"
	"github.com/stacklok/reposync/internal/retry"
	"github.com/stacklok/reposync/internal/size"
	"github.com/stacklok/reposync/internal/status"
	pkgsync "github.com/stacklok/reposync/internal/sync"
	"github.com/stacklok/reposync/internal/syncerr"
	"github.com/stacklok/reposync/internal/telemetry"
	"github.com/stacklok/reposync/internal/token"
	"github.com/stacklok/reposync/internal/versions"
)

const shutdownTimeout = 5 * time.Second

// engine is everything a command needs, built from flags and the configuration file
type engine struct {
	cfg       *config.Config
	workspace string
	repo      string
	token     token.State
	refresher token.Refresher

	telemetry *telemetry.Telemetry
	host      hostapi.Client
	statuses  *status.FileSink
	sink      status.Sink

	tokens    *token.Guard
	access    *access.Verifier
	resolver  *conflict.Resolver
	sizes     *size.Guard
	retry     *retry.Coordinator
	transfer  *git.Client
	conflicts *git.Workspace
	orch      *pkgsync.Orchestrator
}

// loadConfig reads --config, or returns the defaults when it is unset
func loadConfig(v *viper.Viper) (*config.Config, error) {
	path := v.GetString(flagConfig)
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.LoadConfig(config.WithConfigPath(path))
	if err != nil {
		return nil, syncerr.InvalidInput("failed to load configuration", err)
	}
	slog.Debug("Loaded configuration", "path", path)
	return cfg, nil
}

// newEngine wires the stages. The repository is resolved from --repo or the
// git remote unless needRepo is false.
func newEngine(ctx context.Context, v *viper.Viper, needRepo bool) (*engine, error) {
	cfg, err := loadConfig(v)
	if err != nil {
		return nil, err
	}

	e := &engine{
		cfg:       cfg,
		workspace: v.GetString(flagWorkspace),
		token: token.State{
			Credential: v.GetString(flagToken),
			ExpiresAt:  v.GetString(flagTokenExpiresAt),
		},
	}
	if c := v.GetString(flagRefreshCommand); c != "" {
		e.refresher = &commandRefresher{command: c, dir: e.workspace}
	}

	if err := e.initTelemetry(ctx); err != nil {
		return nil, err
	}
	if err := e.initStages(); err != nil {
		e.Close()
		return nil, err
	}

	e.transfer = git.NewClient(e.workspace, git.WithRemote(v.GetString(flagRemote)))
	e.conflicts = git.NewWorkspace(e.workspace)

	e.repo = v.GetString(flagRepo)
	if e.repo == "" && needRepo {
		name, err := e.transfer.Repository()
		if err != nil {
			e.Close()
			return nil, syncerr.InvalidInput("no --repo given and none could be derived from the remote", err)
		}
		e.repo = name
	}
	return e, nil
}

func (e *engine) initTelemetry(ctx context.Context) error {
	tcfg := e.cfg.Telemetry
	if tcfg != nil && tcfg.ServiceVersion == "" {
		withVersion := *tcfg
		withVersion.ServiceVersion = versions.GetVersionInfo().Version
		tcfg = &withVersion
	}
	tel, err := telemetry.New(ctx, telemetry.WithTelemetryConfig(tcfg))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	e.telemetry = tel
	return nil
}

func (e *engine) initStages() error {
	httpMetrics, err := telemetry.NewHTTPMetrics(e.telemetry.MeterProvider())
	if err != nil {
		return fmt.Errorf("failed to create host API metrics: %w", err)
	}
	transport := telemetry.NewTransport(http.DefaultTransport, e.telemetry.TracerProvider(), httpMetrics)
	host, err := hostapi.NewDefaultClient(e.cfg.Host.APIURL, e.cfg.HostTimeout(), hostapi.WithTransport(transport))
	if err != nil {
		return syncerr.InvalidInput("invalid host configuration", err)
	}
	e.host = host

	dir, err := e.cfg.StatusDir()
	if err != nil {
		return err
	}
	syncMetrics, err := telemetry.NewSyncMetrics(e.telemetry.MeterProvider())
	if err != nil {
		return fmt.Errorf("failed to create sync metrics: %w", err)
	}
	e.statuses = status.NewFileSink(dir)
	e.sink = status.Multi(
		status.Safe(status.NewLogSink(slog.Default())),
		status.Safe(e.statuses),
		status.Safe(telemetry.NewMetricsSink(syncMetrics)),
	)

	limits, err := e.cfg.SizeLimits()
	if err != nil {
		return syncerr.InvalidInput("invalid size configuration", err)
	}
	e.sizes, err = size.NewGuard(
		size.WithRoot(e.workspace),
		size.WithLimits(limits),
		size.WithIgnore(e.cfg.Size.Ignore...),
	)
	if err != nil {
		return syncerr.InvalidInput("invalid size configuration", err)
	}

	e.tokens = token.NewGuard(e.host, token.WithRefreshTimeout(e.cfg.RefreshTimeout()))
	e.access = access.NewVerifier(e.host, e.sink)
	e.resolver = conflict.NewResolver()
	e.retry = retry.NewCoordinator(e.cfg.RetryPolicy(), retry.WithSink(e.sink))

	e.orch, err = pkgsync.New(pkgsync.Deps{
		Token:     e.tokens,
		Access:    e.access,
		Conflicts: e.resolver,
		Size:      e.sizes,
		Retry:     e.retry,
	},
		pkgsync.WithSink(e.sink),
		pkgsync.WithTracerProvider(e.telemetry.TracerProvider()),
		pkgsync.WithMetrics(syncMetrics),
		pkgsync.WithAccessTimeout(e.cfg.AccessTimeout()),
	)
	return err
}

// request builds an orchestrator request for the resolved repository
func (e *engine) request(files []string, conflicts conflict.Strategy, sizes size.Strategy) pkgsync.Request {
	return pkgsync.Request{
		Repo:             e.repo,
		Workspace:        e.conflicts,
		Token:            e.token,
		Refresher:        e.refresher,
		Transfer:         e.transfer,
		Files:            files,
		ConflictStrategy: conflicts,
		SizeStrategy:     sizes,
	}
}

// Close flushes telemetry
func (e *engine) Close() {
	if e.telemetry == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.telemetry.Shutdown(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		slog.Warn("Failed to flush telemetry", "error", err)
	}
}
