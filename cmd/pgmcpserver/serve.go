package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	pgmcp "github.com/rickchristie/postgres-mcp-server"
	"github.com/rickchristie/postgres-mcp-server/internal/metrics"
)

const (
	startupPingTimeout = 5 * time.Second
	shutdownTimeout    = 5 * time.Second
)

// errStdioClosed ends the serve loop when the client closes stdin.
var errStdioClosed = errors.New("stdio transport closed")

type serveOptions struct {
	configPath string
	envFile    string
	noStdio    bool
}

func newServeCmd() *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if isTTY(os.Stderr.Fd()) {
				printBanner(os.Stderr, true)
			}
			return runServe(ctx, opts)
		},
	}
	cmd.Flags().StringVar(&opts.configPath, "config", "", "Path to a JSON configuration file (default $PGMCP_CONFIG_PATH)")
	cmd.Flags().StringVar(&opts.envFile, "env-file", ".env", "Path to a .env file; a missing file is ignored")
	cmd.Flags().BoolVar(&opts.noStdio, "no-stdio", false, "Serve HTTP only, without the stdio MCP session")
	return cmd
}

func runServe(ctx context.Context, opts serveOptions) error {
	if err := loadEnvFile(opts.envFile); err != nil {
		return err
	}

	// 1. Resolve configuration: file, then environment, then defaults.
	cfg, err := loadServerConfig(resolveConfigPath(opts.configPath, os.LookupEnv))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return err
	}
	cfg.ApplyDefaults()

	// 2. Logger
	logger, closeLog, err := setupLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer closeLog()
	metrics.BuildInfo.WithLabelValues(version).Set(1)

	// 3. Pool. Creation is lazy; a missing database is reported by the ping.
	pool, err := pgmcp.NewPool(ctx, cfg.Connection.ConnString(), cfg.Config, logger)
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}
	defer pool.Close()

	pingCtx, cancel := context.WithTimeout(ctx, startupPingTimeout)
	if err := pool.Ping(pingCtx); err != nil {
		metrics.StartupPingFailures.Inc()
		logger.Error().Err(err).
			Str("host", cfg.Connection.Host).
			Int("port", cfg.Connection.Port).
			Str("dbname", cfg.Connection.DBName).
			Msg("database connection test failed; serving anyway")
	} else {
		logger.Info().Msg("database connection test successful")
	}
	cancel()

	// 4. MCP server
	d, err := pgmcp.NewDispatcher(pool, cfg.Config, logger)
	if err != nil {
		return err
	}
	mcpServer := newMCPServer(d, logger)

	// 5. Transports
	g, gctx := errgroup.WithContext(ctx)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           newHTTPHandler(cfg.Server, mcpServer),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		logger.Info().
			Int("port", cfg.Server.Port).
			Str("health_check_path", cfg.Server.HealthCheckPath).
			Bool("mcp_http", cfg.Server.MCPHTTPEnabled).
			Msg("starting HTTP listener")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http listener: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if !opts.noStdio {
		g.Go(func() error {
			stdio := server.NewStdioServer(mcpServer)
			stdio.SetErrorLogger(log.New(logger.With().Str("component", "stdio").Logger(), "", 0))
			logger.Info().Msg("MCP session running on stdio")
			if err := stdio.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("stdio transport: %w", err)
			}
			return errStdioClosed
		})
	}

	err = g.Wait()
	switch {
	case err == nil, errors.Is(err, errStdioClosed), errors.Is(err, context.Canceled):
		logger.Info().Msg("server stopped")
		return nil
	default:
		return err
	}
}

// newMCPServer builds the MCP server with the tools registered and the client
// handshake logged.
func newMCPServer(d *pgmcp.Dispatcher, logger zerolog.Logger) *server.MCPServer {
	hooks := &server.Hooks{}
	hooks.AddAfterInitialize(func(ctx context.Context, id any, req *mcp.InitializeRequest, result *mcp.InitializeResult) {
		logger.Info().
			Str("client_name", req.Params.ClientInfo.Name).
			Str("client_version", req.Params.ClientInfo.Version).
			Msg("AI agent connected (MCP initialize)")
	})

	mcpServer := server.NewMCPServer(pgmcp.DefaultServiceName, pgmcp.DefaultServiceVersion,
		server.WithToolCapabilities(true),
		server.WithHooks(hooks),
	)
	pgmcp.RegisterMCPTools(mcpServer, d)
	return mcpServer
}

// newHTTPHandler routes the health check, metrics and the optional streamable
// HTTP MCP endpoint.
func newHTTPHandler(settings pgmcp.ServerSettings, mcpServer *server.MCPServer) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(settings.HealthCheckPath, healthHandler)
	if !settings.MetricsDisabled {
		mux.Handle("/metrics", promhttp.Handler())
	}
	if settings.MCPHTTPEnabled {
		mux.Handle(settings.MCPPath, server.NewStreamableHTTPServer(mcpServer,
			server.WithEndpointPath(settings.MCPPath),
			server.WithStateLess(true),
		))
	}
	return mux
}

// healthHandler reports process liveness only, not database connectivity.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET,HEAD,OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
	case http.MethodGet, http.MethodHead:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok","service":"` + pgmcp.DefaultServiceName + `"}`))
	default:
		w.Header().Set("Allow", "GET, HEAD, OPTIONS")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

func resolveConfigPath(flagValue string, lookup func(string) (string, bool)) string {
	if flagValue != "" {
		return flagValue
	}
	path, _ := lookup("PGMCP_CONFIG_PATH")
	return path
}

// loadServerConfig reads the JSON config file at path. An empty path yields
// an empty config so that environment variables alone are enough.
func loadServerConfig(path string) (*pgmcp.ServerConfig, error) {
	if path == "" {
		return &pgmcp.ServerConfig{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config pgmcp.ServerConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// setupLogger builds the process logger. stdout is reserved for the stdio
// transport, so it is never used as a log destination.
func setupLogger(config pgmcp.LoggingConfig) (zerolog.Logger, func(), error) {
	level := zerolog.InfoLevel
	if config.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(config.Level))
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("invalid logging.level %q: %w", config.Level, err)
		}
		level = parsed
	}

	var output io.Writer = os.Stderr
	closeFn := func() {}
	switch config.Output {
	case "", "stderr", "stdout":
	default:
		f, err := os.OpenFile(config.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("failed to open log file: %w", err)
		}
		output = f
		closeFn = func() { f.Close() }
	}

	if config.Format == "text" {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	logger := zerolog.New(output).Level(level).With().Timestamp().Logger()
	if config.Output == "stdout" {
		logger.Warn().Msg("logging.output stdout is reserved for the MCP stdio transport; logging to stderr")
	}
	return logger, closeFn, nil
}
