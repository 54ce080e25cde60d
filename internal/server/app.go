// Package server wires the control plane together: state store backing,
// object store, dispatcher, domain services, the HTTP surface, and the
// periodic reconcile sweep, with graceful shutdown on OS signals.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/devplane-io/devplane/internal/clock"
	"github.com/devplane-io/devplane/internal/logging"
	"github.com/devplane-io/devplane/internal/server/config"
	"github.com/devplane-io/devplane/internal/server/dispatch"
	"github.com/devplane-io/devplane/internal/server/httpapi"
	"github.com/devplane-io/devplane/internal/server/identity"
	"github.com/devplane-io/devplane/internal/server/ledger"
	"github.com/devplane-io/devplane/internal/server/objectstore"
	"github.com/devplane-io/devplane/internal/server/reconcile"
	"github.com/devplane-io/devplane/internal/server/sessions"
	"github.com/devplane-io/devplane/internal/server/store"
	"github.com/devplane-io/devplane/internal/server/templates"
	"github.com/devplane-io/devplane/internal/server/uploads"
)

// nopVerifier accepts no credential. Deployments that enable passkeys
// plug a real WebAuthn verifier in via App options later; with this one
// every passkey operation fails closed.
type nopVerifier struct{}

func (nopVerifier) Verify(_ context.Context, _ []byte) (bool, string, error) {
	return false, "", nil
}

type App struct {
	config     *config.Config
	logger     logging.Logger
	st         *store.Store
	db         *sql.DB
	dispatcher *dispatch.Async

	identity  *identity.Service
	templates *templates.Service
	sessions  *sessions.Service
	uploads   *uploads.Service
	reconcile *reconcile.Service
	ledger    *ledger.Service
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	var (
		backing store.Backing
		db      *sql.DB
	)
	if cfg.DatabaseDSN != "" {
		var err error
		db, err = sql.Open("pgx", cfg.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("db init error: %w", err)
		}
		pg := store.NewPostgresBacking(db)
		if err := pg.RunMigrations(ctx); err != nil {
			return nil, fmt.Errorf("db migration error: %w", err)
		}
		backing = pg
	} else {
		backing = store.NewFileBacking(cfg.StateFile)
	}

	var objects objectstore.Store
	if cfg.S3Bucket != "" {
		s3store, err := objectstore.NewS3(ctx, objectstore.S3Config{
			User:     cfg.S3RootUser,
			Password: cfg.S3RootPassword,
			Bucket:   cfg.S3Bucket,
			Region:   cfg.S3Region,
			Endpoint: cfg.S3BaseEndpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("object store init error: %w", err)
		}
		objects = s3store
	} else {
		objects = objectstore.NewMemory()
	}

	st := store.New(backing, logger)
	clk := clock.Real()
	dispatcher := dispatch.NewAsync(logger)

	app := &App{
		config:     cfg,
		logger:     logger,
		st:         st,
		db:         db,
		dispatcher: dispatcher,
	}
	app.identity = identity.NewService(st, clk, nopVerifier{}, []byte(cfg.SecretKey), logger)
	app.templates = templates.NewService(st, clk, objects, &templates.LogRunner{Objects: objects}, dispatcher, logger)
	app.sessions = sessions.NewService(st, clk, logger)
	app.uploads = uploads.NewService(st, clk, objects, logger)
	app.reconcile = reconcile.NewService(st, clk, app.templates, objects, logger)
	app.ledger = ledger.NewService(st, clk)

	dispatcher.Start(dispatch.Handlers{
		ProcessBuild: app.templates.ProcessBuildByID,
		Reconcile: func(ctx context.Context) error {
			_, err := app.reconcile.Run(ctx)
			return err
		},
	})
	return app, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startReconcileTimer(ctx context.Context) {
	if app.config.ReconcileInterval <= 0 {
		return
	}
	ticker := time.NewTicker(app.config.ReconcileInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				app.dispatcher.EnqueueReconcile()
			}
		}
	}()
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "starting server", "addr", app.config.EndpointAddrHTTP)

	app.initSignalHandler(cancelFunc)
	app.startReconcileTimer(ctx)

	router := httpapi.NewRouter(httpapi.Deps{
		Identity:  app.identity,
		Templates: app.templates,
		Sessions:  app.sessions,
		Uploads:   app.uploads,
		Reconcile: app.reconcile,
		Ledger:    app.ledger,
		Log:       app.logger,
	})
	srv := &http.Server{Addr: app.config.EndpointAddrHTTP, Handler: router}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Error(ctx, "server failed", "err", err)
		}
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			app.logger.Error(ctx, "shutdown error", "err", err)
		}
	}

	app.dispatcher.Close()
	app.st.Close()
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error(ctx, "db close error", "err", err)
		}
	}
	app.logger.Info(ctx, "server stopped")
}
