package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/ayadtren/posing-coach/internal/config"
	"github.com/ayadtren/posing-coach/internal/densepose"
	"github.com/ayadtren/posing-coach/internal/handlers"
	"github.com/ayadtren/posing-coach/internal/logging"
	"github.com/ayadtren/posing-coach/internal/middleware"
	"github.com/ayadtren/posing-coach/internal/onnx"
	"github.com/ayadtren/posing-coach/internal/remote"
	"github.com/ayadtren/posing-coach/internal/usecase"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to YAML config file")
	host := flag.String("host", "", "bind address (overrides config)")
	port := flag.Int("port", 0, "listen port (overrides config)")
	debug := flag.Bool("debug", false, "enable debug mode (overrides config)")
	backendKind := flag.String("backend", "", "analysis backend: mock, onnx or remote (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}
	applyFlagOverrides(cfg, host, port, debug, backendKind)

	logger, err := logging.NewLogger(cfg.Server.Debug)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	backend, err := buildBackend(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize analysis backend",
			zap.Error(err), zap.String("backend", cfg.Backend.Kind))
	}
	defer backend.Close() //nolint:errcheck

	cache := initCache(cfg.Cache, logger)
	uc := usecase.NewAnalysisUseCase(backend, cache, cfg.Cache.TTL, logger)

	router := newRouter(cfg, uc, logger)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info("DensePose API listening",
		zap.String("addr", server.Addr),
		zap.String("backend", uc.BackendName()),
		zap.Bool("debug", cfg.Server.Debug))
	if err := serveHTTPServer(server, cfg.Server.ShutdownTimeout, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

// applyFlagOverrides copies explicitly set CLI flags over the file config.
func applyFlagOverrides(cfg *config.Config, host *string, port *int, debug *bool, backendKind *string) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			cfg.Server.Host = *host
		case "port":
			cfg.Server.Port = *port
		case "debug":
			cfg.Server.Debug = *debug
		case "backend":
			cfg.Backend.Kind = *backendKind
		}
	})
}

func buildBackend(cfg *config.Config, logger *zap.Logger) (densepose.Backend, error) {
	switch cfg.Backend.Kind {
	case config.BackendMock:
		return densepose.NewMockBackend(), nil
	case config.BackendRemote:
		return remote.NewBackend(cfg.Remote, logger), nil
	default:
		backend := onnx.NewBackend(cfg.ONNX, logger)
		if cfg.ONNX.Warmup {
			if err := backend.Warmup(); err != nil {
				return nil, err
			}
		}
		return backend, nil
	}
}

// initCache connects to Redis when caching is enabled. An unreachable Redis
// downgrades to uncached operation instead of failing startup.
func initCache(cfg config.CacheConfig, logger *zap.Logger) usecase.Cache {
	if !cfg.Enabled {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	cache := usecase.NewRedisCache(client)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := cache.Ping(ctx); err != nil {
		logger.Warn("redis unreachable, analysis cache disabled", zap.Error(err))
		return nil
	}

	logger.Info("analysis cache enabled", zap.String("addr", cfg.Addr))
	return cache
}

func newRouter(cfg *config.Config, uc *usecase.AnalysisUseCase, logger *zap.Logger) *gin.Engine {
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger))
	router.Use(cors.Default())
	router.Use(middleware.MaxBodyBytes(cfg.Server.MaxImageBytes))

	handlers.RegisterRoutes(router, uc)
	return router
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithListener(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, listener, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
