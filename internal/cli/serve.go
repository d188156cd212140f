package cli

import (
	"context"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/iliyamo/cruisesync/internal/config"
	"github.com/iliyamo/cruisesync/internal/ingest"
	"github.com/iliyamo/cruisesync/internal/logger"
	"github.com/iliyamo/cruisesync/internal/queue"
	"github.com/iliyamo/cruisesync/internal/router"
)

// NewServer builds the echo instance and ties it to the app lifecycle.
func NewServer(
	lc fx.Lifecycle,
	cfg config.Config,
	h router.Handlers,
	rdb *redis.Client,
	reg *prometheus.Registry,
	log logger.Logger,
) *echo.Echo {
	e := router.New(log)
	router.Register(e, h, cfg, rdb, reg, log)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			addr := ":" + cfg.App.Port
			log.Info("http server starting", "addr", addr, "env", cfg.App.Env)
			go func() {
				if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server stopped", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("http server stopping")
			return e.Shutdown(ctx)
		},
	})
	return e
}

// startConsumer runs the queue consumer for the lifetime of the app when
// this process executes queued runs.
func startConsumer(lc fx.Lifecycle, cfg config.Config, coord *ingest.Coordinator, log logger.Logger) {
	if cfg.Sync.Dispatch != "queue" || !cfg.Queue.Consume {
		return
	}
	c := queue.NewConsumer(cfg.Queue, coord, log)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				_ = c.Run(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}

// serveGraph is everything serve constructs.
func serveGraph(cfg config.Config) fx.Option {
	return fx.Options(
		fx.Supply(cfg),
		InfraModule,
		SyncModule,
		HTTPModule,
		fx.Invoke(startConsumer),
		fx.Invoke(func(*echo.Echo) {}),
	)
}

func serveOptions(cfg config.Config) fx.Option {
	return fx.Options(
		serveGraph(cfg),
		fx.WithLogger(func(l *logger.ZapLogger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.Zap()}
		}),
		fx.StopTimeout(cfg.App.ShutdownTimeout),
	)
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, webhook receiver and queue consumer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			app := fx.New(serveOptions(cfg))
			if err := app.Err(); err != nil {
				return err
			}

			startCtx, cancel := context.WithTimeout(cmd.Context(), app.StartTimeout())
			defer cancel()
			if err := app.Start(startCtx); err != nil {
				return errors.Wrap(err, "start app")
			}

			<-app.Wait()

			stopCtx, cancel := context.WithTimeout(context.Background(), app.StopTimeout())
			defer cancel()
			return app.Stop(stopCtx)
		},
	}
}
