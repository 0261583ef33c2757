package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/willfong/adaptive-auth/internal/audit"
	"github.com/willfong/adaptive-auth/internal/auth"
	"github.com/willfong/adaptive-auth/internal/config"
	"github.com/willfong/adaptive-auth/internal/database"
	"github.com/willfong/adaptive-auth/internal/engine"
	"github.com/willfong/adaptive-auth/internal/logging"
	"github.com/willfong/adaptive-auth/internal/ui"
)

// app bundles what every engine-facing command needs.
type app struct {
	cfg     *config.Config
	ui      *ui.UI
	log     *logging.Logger
	client  *engine.Client
	metrics *auth.Metrics
	writer  *audit.Writer
	pool    *database.Pool
}

// newUI builds terminal output on the command's streams.
func newUI(cmd *cobra.Command) *ui.UI {
	u := ui.New()
	u.Out = cmd.OutOrStdout()
	u.In = cmd.InOrStdin()
	if noColor {
		u.SetNoColor(true)
	}
	return u
}

// newLogger writes diagnostics to stderr so they never mix with command output.
func newLogger() (*logging.Logger, error) {
	return logging.New(cfg.Log, os.Stderr, cfg.Verbose)
}

func newApp(cmd *cobra.Command) (*app, error) {
	log, err := newLogger()
	if err != nil {
		return nil, err
	}

	client := engine.NewClient(cfg.Engine.BaseURL).
		WithTimeout(cfg.Engine.Timeout).
		WithMaxResponseSize(cfg.Engine.MaxResponseBytes).
		WithLogger(log.Logger)

	return &app{
		cfg:     cfg,
		ui:      newUI(cmd),
		log:     log,
		client:  client,
		metrics: auth.NewMetrics(),
	}, nil
}

// openAudit starts the audit writer. Events go to the configured database,
// or to the log when no DSN is set.
func (a *app) openAudit(ctx context.Context) error {
	if !a.cfg.Audit.Enabled {
		return nil
	}

	var sink audit.Sink
	if a.cfg.Audit.DSN == "" {
		sink = audit.NewLogSink(a.log.Logger)
	} else {
		store, err := a.openStore(ctx)
		if err != nil {
			return err
		}
		sink = store
	}

	a.writer = audit.NewWriter(sink, audit.WriterConfig{
		BufferSize:    a.cfg.Audit.BufferSize,
		BatchSize:     a.cfg.Audit.BatchSize,
		FlushInterval: a.cfg.Audit.FlushInterval,
	}, a.log.Logger)
	a.writer.Start()
	return nil
}

// openStore connects to the audit database and creates the table if needed.
func (a *app) openStore(ctx context.Context) (*database.AuditStore, error) {
	pool, err := database.NewPool(a.cfg.Audit.DatabaseConfig)
	if err != nil {
		return nil, fmt.Errorf("audit database: %w", err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, a.cfg.Engine.Timeout)
	defer cancel()
	if err := pool.Connect(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit database: %w", err)
	}

	store := database.NewAuditStore(pool)
	if err := store.EnsureSchema(connectCtx); err != nil {
		pool.Close()
		return nil, err
	}
	a.pool = pool
	return store, nil
}

// controller builds a session controller wired to the app's engine client,
// metrics and audit writer.
func (a *app) controller(opts ...auth.Option) *auth.Controller {
	base := []auth.Option{
		auth.WithLogger(a.log.Logger),
		auth.WithMetrics(a.metrics),
		auth.WithThreshold(a.cfg.Engine.RiskThreshold),
		auth.WithDemoOTP(a.cfg.Demo.ShowOTP),
		auth.WithResendInterval(a.cfg.Session.ResendInterval),
	}
	if a.writer != nil {
		base = append(base, auth.WithRecorder(a.writer))
	}
	return auth.New(a.client, append(base, opts...)...)
}

// close flushes the audit trail and, in verbose mode, prints the session
// metrics.
func (a *app) close() {
	if a.writer != nil {
		if err := a.writer.Stop(config.AuditShutdownTimeout); err != nil {
			a.log.Warn("audit writer did not drain", zap.Error(err))
		}
		if a.cfg.Verbose {
			st := a.writer.Stats()
			a.ui.Println(a.ui.Muted(fmt.Sprintf("  audit: %d recorded, %d written, %d failed, %d dropped",
				st.Received, st.Written, st.Failed, st.Dropped)))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.cfg.Verbose {
		if s := a.ui.MetricsSummary(a.metrics.Summary()); s != "" {
			a.ui.Println("", s)
		}
	}
	a.log.Close()
}

// userMessage is the text shown for a failed operation.
func userMessage(err error) string {
	if ae, ok := auth.AsError(err); ok && ae.Message != "" {
		return ae.Message
	}
	return err.Error()
}

// elapsed formats a duration the way spinners report it.
func elapsed(start time.Time) string {
	return time.Since(start).Round(time.Millisecond).String()
}
