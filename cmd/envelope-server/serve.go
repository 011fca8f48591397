// cmd/envelope-server/serve.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/SyedDaiam9101/inference-envelope/internal/cache"
	"github.com/SyedDaiam9101/inference-envelope/internal/config"
	"github.com/SyedDaiam9101/inference-envelope/internal/envelope"
	"github.com/SyedDaiam9101/inference-envelope/internal/handler"
	"github.com/SyedDaiam9101/inference-envelope/internal/inference"
	"github.com/SyedDaiam9101/inference-envelope/internal/metrics"
	"github.com/SyedDaiam9101/inference-envelope/internal/middleware"
	"github.com/SyedDaiam9101/inference-envelope/internal/serving"
	"github.com/SyedDaiam9101/inference-envelope/internal/tracing"
)

const (
	// drainDelay gives load balancers time to observe NOT_SERVING.
	drainDelay      = 5 * time.Second
	shutdownTimeout = 10 * time.Second
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gRPC and HTTP inference servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, a.cfg, a.logger)
		},
	}

	flags := cmd.Flags()
	flags.Int("port", 50051, "gRPC server port")
	flags.Int("http-port", 8080, "HTTP inference server port")
	flags.Int("metrics", 9100, "Prometheus metrics and health port")
	flags.String("model-name", "model", "name the model is served under")
	flags.String("model", "model.onnx", "path to ONNX model file")
	flags.String("onnx-library", "", "path to the onnxruntime shared library")
	flags.String("redis", "", "Redis address for the result cache (empty disables it)")
	flags.Bool("mock", false, "use mock inference engine (for testing)")
	flags.Int("max-batch-size", 16, "maximum requests merged into one cycle")
	flags.Duration("max-batch-delay", 5*time.Millisecond, "maximum wait for a batch to fill")
	flags.Bool("inline-base64", false, `treat {"data": {"b64": ...}} instances as inline payloads`)
	bindFlags(a.v, flags, map[string]string{
		"port":            "port",
		"http_port":       "http-port",
		"metrics_port":    "metrics",
		"model_name":      "model-name",
		"model":           "model",
		"onnx_library":    "onnx-library",
		"redis":           "redis",
		"use_mock":        "mock",
		"max_batch_size":  "max-batch-size",
		"max_batch_delay": "max-batch-delay",
		"inline_base64":   "inline-base64",
	})
	return cmd
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		// Only fails when the flag does not exist.
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("starting server",
		zap.String("service", serviceName),
		zap.String("version", version),
		zap.Int("port", cfg.Port),
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("metrics_port", cfg.MetricsPort),
		zap.String("model_name", cfg.ModelName),
		zap.Bool("mock", cfg.UseMock),
		zap.Bool("otel", cfg.OTELEnabled))

	if cfg.OTELEnabled {
		shutdown, err := tracing.Init(serviceName, version, cfg.OTELEndpoint, logger)
		if err != nil {
			logger.Warn("failed to initialize tracer", zap.Error(err))
		} else {
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				_ = shutdown(sctx)
			}()
		}
	}

	engine, err := newEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	pipeline := serving.NewPipeline(engine, logger,
		serving.WithNormalizeOptions(envelope.Options{Base64Inline: cfg.InlineBase64}))
	batcher := serving.NewBatcher(pipeline, serving.BatcherConfig{
		MaxBatchSize: cfg.MaxBatchSize,
		MaxDelay:     cfg.MaxBatchDelay,
		MaxInFlight:  cfg.MaxInFlight,
	}, logger)
	defer batcher.Close()

	h := handler.New(cfg.ModelName, pipeline, batcher, logger)
	healthServer := health.NewServer()

	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			middleware.UnaryRequestIDInterceptor(),
			middleware.UnaryMetricsInterceptor(),
		),
	}
	if cfg.OTELEnabled {
		opts = append(opts, grpc.StatsHandler(otelgrpc.NewServerHandler()))
	}
	grpcServer := grpc.NewServer(opts...)
	handler.RegisterInferenceServer(grpcServer, h)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	mux := http.NewServeMux()
	h.Routes(mux)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           middleware.RequestID(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler:           opsMux(healthServer),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on :%d: %w", cfg.Port, err)
	}

	healthServer.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	metrics.SetHealthy()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("gRPC server listening", zap.String("addr", lis.Addr().String()))
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		logger.Info("HTTP server listening", zap.String("addr", httpServer.Addr))
		return listenAndServe(httpServer)
	})
	g.Go(func() error {
		logger.Info("metrics server listening", zap.String("addr", metricsServer.Addr))
		return listenAndServe(metricsServer)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down gracefully")

		healthServer.SetServingStatus(serviceName, healthpb.HealthCheckResponse_NOT_SERVING)
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		metrics.SetUnhealthy()

		// Skip the drain when a server failed rather than a signal arriving.
		if ctx.Err() != nil {
			time.Sleep(drainDelay)
		}

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		grpcServer.GracefulStop()
		return errors.Join(httpServer.Shutdown(sctx), metricsServer.Shutdown(sctx))
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server shutdown complete")
	return nil
}

func newEngine(cfg *config.Config, logger *zap.Logger) (inference.Engine, error) {
	var engine inference.Engine
	if cfg.UseMock {
		logger.Info("using mock inference engine")
		engine = inference.NewMock()
	} else {
		logger.Info("loading ONNX model", zap.String("path", cfg.Model))
		onnx, err := inference.New(inference.ONNXConfig{
			ModelPath:   cfg.Model,
			LibraryPath: cfg.ONNXLibrary,
			InputName:   cfg.ModelInput,
			OutputName:  cfg.ModelOutput,
			InputDim:    cfg.InputDim,
			OutputDim:   cfg.OutputDim,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to load ONNX model: %w", err)
		}
		engine = onnx
	}

	if cfg.Redis == "" {
		return engine, nil
	}
	store, err := cache.New(cfg.Redis)
	if err != nil {
		logger.Warn("failed to connect to Redis, continuing without cache",
			zap.String("addr", cfg.Redis), zap.Error(err))
		return engine, nil
	}
	logger.Info("result cache enabled", zap.String("addr", cfg.Redis), zap.Duration("ttl", cfg.CacheTTL))
	return &cachedEngine{Cached: inference.NewCached(engine, store, cfg.ModelName, cfg.CacheTTL, logger), store: store}, nil
}

// cachedEngine closes the Redis client along with the engine.
type cachedEngine struct {
	*inference.Cached
	store *cache.Cache
}

func (e *cachedEngine) Close() error {
	return errors.Join(e.Cached.Close(), e.store.Close())
}

func listenAndServe(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// opsMux serves Prometheus metrics and the health and readiness probes.
func opsMux(healthServer *health.Server) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", probe(healthServer, "OK", "Service Unavailable"))
	mux.HandleFunc("/readyz", probe(healthServer, "Ready", "Not Ready"))
	return mux
}

func probe(healthServer *health.Server, ok, unavailable string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, err := healthServer.Check(r.Context(), &healthpb.HealthCheckRequest{})
		if err != nil || resp.Status != healthpb.HealthCheckResponse_SERVING {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(unavailable))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(ok))
	}
}
