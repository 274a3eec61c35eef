package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/gin-gonic/gin"
	natsgo "github.com/nats-io/nats.go"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"livechat/internal/api"
	"livechat/internal/auth"
	"livechat/internal/broker"
	"livechat/internal/config"
	"livechat/internal/gateway"
	"livechat/internal/ingest"
	"livechat/internal/logging"
	"livechat/internal/media"
	"livechat/internal/nats"
	"livechat/internal/presence"
	"livechat/internal/redis"
	"livechat/internal/session"
	"livechat/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chat backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, err := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)
		if !strings.EqualFold(cfg.LogLevel, "debug") {
			gin.SetMode(gin.ReleaseMode)
		}

		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		os.Exit(a.run())
		return nil
	},
}

// app owns every long-lived component of the server.
type app struct {
	cfg *config.Config

	store   *store.Store
	redis   *redis.Client
	nc      *natsgo.Conn
	broker  broker.Broker
	jwks    *auth.JWKSVerifier
	gateway *gateway.Server
	http    *http.Server

	ctx    context.Context
	cancel context.CancelFunc
}

// newApp connects to every dependency and wires the components. On error everything opened
// so far is closed again.
func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	a := &app{cfg: cfg}
	a.ctx, a.cancel = context.WithCancel(ctx)
	defer func() {
		if err != nil {
			a.closeAll()
		}
	}()

	if a.store, err = store.Open(cfg.DatabasePath); err != nil {
		return nil, err
	}
	if cfg.UsesRedis() {
		if a.redis, err = redis.NewClient(a.ctx, cfg.RedisURL); err != nil {
			return nil, err
		}
	}
	if cfg.UsesNATS() {
		if a.nc, err = nats.Connect(cfg.NATSURL); err != nil {
			return nil, err
		}
	}

	var presenceStore presence.Store
	switch cfg.BrokerBackend {
	case config.BackendMemory:
		a.broker = broker.NewHub(cfg.SubscriberBuffer)
		presenceStore = presence.NewMemory()
	case config.BackendRedis:
		a.broker = broker.NewBridged(redis.NewTransport(a.redis, cfg.TopicPrefix), cfg.SubscriberBuffer)
		presenceStore = redis.NewPresenceStore(a.redis, cfg.TopicPrefix)
	case config.BackendNATS:
		a.broker = broker.NewBridged(nats.NewTransport(a.nc, cfg.TopicPrefix), cfg.SubscriberBuffer)
		presenceStore = redis.NewPresenceStore(a.redis, cfg.TopicPrefix)
	}
	if err = a.broker.Start(a.ctx); err != nil {
		return nil, fmt.Errorf("start broker: %w", err)
	}

	storage, err := a.mediaStorage()
	if err != nil {
		return nil, err
	}

	verifier, err := a.verifier()
	if err != nil {
		return nil, err
	}
	resolver := auth.NewResolver(verifier, a.store)

	sessions := session.New(session.Options{
		Store:    a.store,
		Presence: presenceStore,
		Broker:   a.broker,
		Ingest:   ingest.New(a.store, storage, cfg.MaxUploadBytes),
		Timeout:  cfg.OperationTimeout,
	})

	a.gateway = gateway.NewServer(gateway.Options{
		Auth:     resolver,
		Sessions: sessions,
		Broker:   a.broker,
		Buffer:   cfg.SubscriberBuffer,
	})

	health := map[string]api.Pinger{"database": a.store}
	if a.redis != nil {
		health["redis"] = a.redis
	}
	opener, _ := storage.(media.Opener)
	router := api.NewRouter(api.Options{
		Sessions:       sessions,
		Auth:           resolver,
		Media:          opener,
		MediaBaseURL:   cfg.MediaBaseURL,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Health:         health,
		WebSocket:      a.gateway.ServeWS,
	})

	a.http = &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}
	return a, nil
}

func (a *app) mediaStorage() (media.Storage, error) {
	switch a.cfg.MediaBackend {
	case config.MediaNATS:
		return nats.NewObjectStorage(a.ctx, a.nc, a.cfg.MediaBucket, a.cfg.MediaBaseURL)
	default:
		return media.NewDisk(afero.NewOsFs(), a.cfg.MediaDir, a.cfg.MediaBaseURL)
	}
}

// verifier accepts locally issued HS256 tokens and, when configured, RS256 tokens from the
// identity provider's JWKS.
func (a *app) verifier() (auth.Verifier, error) {
	var chain auth.Chain
	if a.cfg.JWTSecret != "" {
		chain = append(chain, auth.NewHMACVerifier(a.cfg.JWTSecret, a.cfg.JWTIssuer))
	}
	if a.cfg.JWKSIssuerURL != "" {
		jwks, err := auth.NewJWKSVerifier(a.ctx, a.cfg.JWKSIssuerURL, http.DefaultClient)
		if err != nil {
			return nil, fmt.Errorf("initialize JWKS: %w", err)
		}
		a.jwks = jwks
		chain = append(chain, jwks)
	}
	return chain, nil
}

// run serves until a shutdown signal or a fatal server error and returns the exit code.
func (a *app) run() int {
	g, gctx := errgroup.WithContext(a.ctx)
	g.Go(func() error {
		slog.Info("[SERVER] Starting", "addr", a.http.Addr, "broker", a.cfg.BrokerBackend, "media", a.cfg.MediaBackend)
		if err := a.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if a.jwks != nil {
		g.Go(func() error {
			a.jwks.Run(gctx, auth.DefaultJWKSRefresh)
			return nil
		})
	}

	failed := make(chan error, 1)
	go func() { failed <- g.Wait() }()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		a.cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"livechat": func(ctx context.Context) error {
				slog.Info("[SERVER] Graceful shutdown initiated")
				return a.stop(ctx)
			},
		},
	)

	select {
	case code := <-wait:
		slog.Info("[SERVER] Exited", "code", code)
		return code
	case err := <-failed:
		slog.Error("[SERVER] Stopped unexpectedly", "error", err)
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()
		if serr := a.stop(ctx); serr != nil {
			slog.Error("[SERVER] Shutdown failed", "error", serr)
		}
		return 1
	}
}

// stop drains HTTP, tears down every WebSocket connection, then releases the backends.
func (a *app) stop(ctx context.Context) error {
	var errs []error
	if err := a.http.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := a.gateway.Close(); err != nil {
		errs = append(errs, fmt.Errorf("gateway close: %w", err))
	}
	if err := a.closeAll(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// closeAll releases the broker and the connections in reverse order of opening.
func (a *app) closeAll() error {
	a.cancel()

	var errs []error
	if a.broker != nil {
		if err := a.broker.Close(); err != nil {
			errs = append(errs, fmt.Errorf("broker close: %w", err))
		}
	}
	if a.nc != nil {
		if err := a.nc.Drain(); err != nil && !errors.Is(err, natsgo.ErrConnectionClosed) {
			errs = append(errs, fmt.Errorf("nats drain: %w", err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database close: %w", err))
		}
	}
	return errors.Join(errs...)
}
