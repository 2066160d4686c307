package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"heatsurface/broker/internal/auth"
	"heatsurface/broker/internal/config"
	grpcstream "heatsurface/broker/internal/grpc"
	"heatsurface/broker/internal/heat"
	httpapi "heatsurface/broker/internal/http"
	"heatsurface/broker/internal/input"
	"heatsurface/broker/internal/logging"
	"heatsurface/broker/internal/networking"
	"heatsurface/broker/internal/scene"
	"heatsurface/broker/internal/simulation"
)

const shutdownTimeout = 5 * time.Second

// app holds the wired components of a running broker.
type app struct {
	cfg     *config.Config
	log     *logging.Logger
	driver  *scene.Driver
	gate    *input.Gate
	broker  *Broker
	monitor *simulation.TickMonitor
	loop    *simulation.Loop
	handler http.Handler
}

func newDriver(sim config.SimulationConfig, logger *logging.Logger) (*scene.Driver, error) {
	cond, err := heat.ParseInitialCondition(sim.InitialCondition)
	if err != nil {
		return nil, err
	}
	lighting, err := heat.ParseLighting(sim.Lighting)
	if err != nil {
		return nil, err
	}
	return scene.NewDriver(scene.Options{
		Params: heat.Params{
			Divisions:   sim.Divisions,
			Samples:     sim.Samples,
			Diffusivity: sim.Diffusivity,
			Lighting:    lighting,
		},
		Condition:       cond,
		Coefficients:    sim.Coefficients,
		MaxCoefficients: sim.MaxCoefficients,
		TimeScale:       sim.TimeScale,
		TimeStep:        sim.TimeStep,
		StartRunning:    sim.StartRunning,
		Logger:          logger,
	})
}

func newApp(cfg *config.Config, logger *logging.Logger, opts ...BrokerOption) (*app, error) {
	driver, err := newDriver(cfg.Simulation, logger)
	if err != nil {
		return nil, fmt.Errorf("build scene: %w", err)
	}
	gate := input.NewGate(input.Config{MinInterval: cfg.ControlMinInterval}, logger)
	metrics := networking.NewFrameMetrics()
	if secret := strings.TrimSpace(cfg.ViewerTokenSecret); secret != "" {
		signer, err := auth.NewSigner(secret, auth.ViewerAudience, auth.WithLeeway(5*time.Second))
		if err != nil {
			return nil, fmt.Errorf("viewer tokens: %w", err)
		}
		opts = append([]BrokerOption{WithViewerTokens(signer)}, opts...)
	}
	broker := NewBroker(cfg, driver, gate, metrics, logger, opts...)
	monitor := simulation.NewTickMonitor()
	loop := simulation.NewLoop(cfg.FrameRateHz, func(now time.Time) {
		driver.Frame(now)
	}, simulation.WithMonitor(monitor))

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", broker.ServeWS)
	httpapi.NewHandlerSet(httpapi.Options{
		Logger:      logger,
		Readiness:   broker,
		Surface:     driver,
		Controller:  driver,
		Gate:        gate,
		GateTotals:  gate.Totals,
		Frames:      metrics,
		Bandwidth:   broker.Bandwidth(),
		Ticks:       monitor,
		RateLimiter: httpapi.NewSlidingWindowLimiter(cfg.ControlRateWindow, cfg.ControlRateBurst, nil),
	}).Register(mux)

	if viewerDir, err := resolveViewerDir(cfg.ViewerDir); err == nil {
		fs := http.FileServer(http.Dir(viewerDir))
		mux.Handle("/viewer/", http.StripPrefix("/viewer/", fs))
		logger.Info("serving viewer", logging.String("dir", viewerDir))
	} else if cfg.ViewerDir != "" {
		return nil, fmt.Errorf("viewer directory: %w", err)
	}

	return &app{
		cfg:     cfg,
		log:     logger,
		driver:  driver,
		gate:    gate,
		broker:  broker,
		monitor: monitor,
		loop:    loop,
		handler: logging.HTTPTraceMiddleware(logger)(mux),
	}, nil
}

// run serves HTTP, websocket and optional gRPC traffic until ctx ends.
func (a *app) run(ctx context.Context) error {
	a.loop.Start(ctx)
	defer a.loop.Stop()

	errCh := make(chan error, 2)
	tlsEnabled := a.cfg.TLSCertPath != "" && a.cfg.TLSKeyPath != ""
	server := &http.Server{
		Addr:              a.cfg.Address,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		var err error
		if tlsEnabled {
			err = server.ListenAndServeTLS(a.cfg.TLSCertPath, a.cfg.TLSKeyPath)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	a.log.Info("broker listening",
		logging.String("url", listenerURL(a.cfg.Address, tlsEnabled)),
		logging.String("viewer", listenerURL(a.cfg.Address, tlsEnabled)+"/viewer/"),
	)

	var (
		grpcServer *grpc.Server
		runErr     error
	)
	if addr := strings.TrimSpace(a.cfg.GRPCAddress); addr != "" {
		grpcServer, runErr = a.startGRPC(addr, errCh)
	}
	if runErr == nil {
		select {
		case <-ctx.Done():
			a.log.Info("shutdown requested")
		case runErr = <-errCh:
		}
	}
	if runErr != nil {
		a.broker.SetStartupError(runErr)
		a.log.Error("server failed", logging.Error(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	a.broker.Close()
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	if err := server.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("http shutdown: %w", err)
	}
	return runErr
}

func (a *app) startGRPC(addr string, errCh chan<- error) (*grpc.Server, error) {
	opts, err := grpcstream.ServerOptions(a.cfg, a.log)
	if err != nil {
		return nil, fmt.Errorf("grpc options: %w", err)
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("grpc listen: %w", err)
	}
	server := grpc.NewServer(opts...)
	grpcstream.Register(server, grpcstream.NewService(a.broker,
		grpcstream.WithFrameRate(a.cfg.FrameRateHz),
		grpcstream.WithMetrics(a.broker.Metrics()),
		grpcstream.WithLogger(a.log),
	))
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	a.log.Info("grpc listening", logging.String("address", normaliseHostPort(addr)))
	return server, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New("heatsurface", cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logging: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	application, err := newApp(cfg, logger)
	if err != nil {
		logger.Fatal("startup failed", logging.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := application.run(ctx); err != nil {
		logger.Fatal("broker stopped", logging.Error(err))
	}
}

// resolveViewerDir returns configured when set, otherwise the viewer directory
// next to the broker sources.
func resolveViewerDir(configured string) (string, error) {
	viewerDir := strings.TrimSpace(configured)
	if viewerDir == "" {
		_, currentFile, _, ok := runtime.Caller(0)
		if !ok {
			return "", fmt.Errorf("unable to determine current file path")
		}
		viewerDir = filepath.Join(filepath.Dir(currentFile), "viewer")
	}
	viewerDir, err := filepath.Abs(viewerDir)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(viewerDir)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", viewerDir)
	}
	return viewerDir, nil
}

// listenerURL returns a human-friendly URL for the broker listener address.
func listenerURL(address string, tlsEnabled bool) string {
	scheme := "http"
	if tlsEnabled {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, normaliseHostPort(address))
}

func normaliseHostPort(address string) string {
	trimmed := strings.TrimSpace(address)
	if trimmed == "" {
		return "localhost"
	}
	host, port, err := net.SplitHostPort(trimmed)
	if err != nil {
		if strings.HasPrefix(trimmed, ":") {
			return "localhost" + trimmed
		}
		return trimmed
	}
	switch strings.TrimSpace(host) {
	case "", "0.0.0.0", "::", "[::]":
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}
