package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/arkeep-io/agenthost/internal/agent"
	"github.com/arkeep-io/agenthost/internal/defaultagent"
	"github.com/arkeep-io/agenthost/internal/emailroute"
	"github.com/arkeep-io/agenthost/internal/httpapi"
	"github.com/arkeep-io/agenthost/internal/instancedb"
	"github.com/arkeep-io/agenthost/internal/mcpclient"
	"github.com/arkeep-io/agenthost/internal/metrics"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type config struct {
	httpAddr           string
	dataDir            string
	logLevel           string
	secretKey          string
	emailSecret        string
	defaultNamespace   string
	mcpSuccessRedirect string
	mcpErrorRedirect   string
	idleTimeout        time.Duration
	smtpHost           string
	smtpPort           int
	smtpUser           string
	smtpPass           string
	smtpFrom           string
	smtpTLS            bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &config{}

	root := &cobra.Command{
		Use:   "agenthostd",
		Short: "agenthostd — single-instance stateful agent runtime",
		Long: `agenthostd hosts addressable, stateful agent instances: each one owns
a replicated JSON state document, a private embedded SQL database, a
WebSocket connection set, a typed RPC dispatcher, resumable chat
streaming, a durable scheduler, and MCP client/server plumbing.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringVar(&cfg.httpAddr, "http-addr", envOrDefault("AGENTHOST_HTTP_ADDR", ":8080"), "HTTP listen address")
	root.PersistentFlags().StringVar(&cfg.dataDir, "data-dir", envOrDefault("AGENTHOST_DATA_DIR", "./data"), "Directory holding per-instance SQLite files")
	root.PersistentFlags().StringVar(&cfg.logLevel, "log-level", envOrDefault("AGENTHOST_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&cfg.secretKey, "secret-key", envOrDefault("AGENTHOST_SECRET_KEY", ""), "Master key for encrypting MCP credentials at rest (required)")
	root.PersistentFlags().StringVar(&cfg.emailSecret, "email-secret", envOrDefault("AGENTHOST_EMAIL_SECRET", ""), "HMAC secret for signed reply-routing email headers (required)")
	root.PersistentFlags().StringVar(&cfg.defaultNamespace, "default-namespace", envOrDefault("AGENTHOST_DEFAULT_NAMESPACE", "agent"), "Namespace the built-in default agent type is registered under")
	root.PersistentFlags().StringVar(&cfg.mcpSuccessRedirect, "mcp-success-redirect", envOrDefault("AGENTHOST_MCP_SUCCESS_REDIRECT", "/"), "Browser redirect after a successful MCP OAuth exchange")
	root.PersistentFlags().StringVar(&cfg.mcpErrorRedirect, "mcp-error-redirect", envOrDefault("AGENTHOST_MCP_ERROR_REDIRECT", "/"), "Browser redirect after a failed MCP OAuth exchange")
	root.PersistentFlags().DurationVar(&cfg.idleTimeout, "idle-timeout", envDurationOrDefault("AGENTHOST_IDLE_TIMEOUT", 30*time.Minute), "How long an instance may sit with no connections before hibernating; zero disables hibernation")

	root.PersistentFlags().StringVar(&cfg.smtpHost, "smtp-host", envOrDefault("AGENTHOST_SMTP_HOST", ""), "Outbound SMTP host")
	root.PersistentFlags().IntVar(&cfg.smtpPort, "smtp-port", envIntOrDefault("AGENTHOST_SMTP_PORT", 587), "Outbound SMTP port")
	root.PersistentFlags().StringVar(&cfg.smtpUser, "smtp-user", envOrDefault("AGENTHOST_SMTP_USER", ""), "SMTP auth username")
	root.PersistentFlags().StringVar(&cfg.smtpPass, "smtp-pass", envOrDefault("AGENTHOST_SMTP_PASS", ""), "SMTP auth password")
	root.PersistentFlags().StringVar(&cfg.smtpFrom, "smtp-from", envOrDefault("AGENTHOST_SMTP_FROM", ""), "Envelope/header From address")
	root.PersistentFlags().BoolVar(&cfg.smtpTLS, "smtp-tls", envOrDefault("AGENTHOST_SMTP_TLS", "false") == "true", "Use implicit TLS (SMTPS) instead of STARTTLS")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("agenthostd %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, cfg *config) error {
	logger, err := buildLogger(cfg.logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	if cfg.secretKey == "" {
		return fmt.Errorf("secret key is required — set --secret-key or AGENTHOST_SECRET_KEY")
	}
	if cfg.emailSecret == "" {
		return fmt.Errorf("email secret is required — set --email-secret or AGENTHOST_EMAIL_SECRET")
	}

	logger.Info("starting agenthostd",
		zap.String("version", version),
		zap.String("http_addr", cfg.httpAddr),
		zap.String("data_dir", cfg.dataDir),
		zap.String("log_level", cfg.logLevel),
		zap.String("default_namespace", cfg.defaultNamespace),
	)

	// --- Signal handling ---
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// --- 1. Encryption ---
	// InitEncryption must run before any instance database is opened, so
	// mcp_servers' client_secret/token_blob columns can encrypt/decrypt
	// transparently on read/write. The key is padded/truncated to exactly
	// 32 bytes (AES-256).
	keyBytes := make([]byte, 32)
	copy(keyBytes, []byte(cfg.secretKey))
	if err := instancedb.InitEncryption(keyBytes); err != nil {
		return fmt.Errorf("failed to initialize encryption: %w", err)
	}

	// --- 2. Registry ---
	registry := agent.NewRegistry(cfg.dataDir, cfg.idleTimeout, logger)

	// --- 3. Metrics ---
	m := metrics.New(func() float64 { return float64(registry.Active()) })

	// --- 4. MCP OAuth callback index ---
	// Every default-namespace Instance constructs its own mcpclient.Manager;
	// this shared index is how the single global /callback/{serverId} route
	// finds the Manager that owns an arbitrary serverId.
	mcpIndex := mcpclient.NewCallbackIndex()

	// --- 5. Mailer ---
	mailer := emailroute.NewMailer(func() (*emailroute.SMTPConfig, error) {
		if cfg.smtpHost == "" {
			return nil, fmt.Errorf("agenthostd: smtp is not configured (set --smtp-host)")
		}
		return &emailroute.SMTPConfig{
			Host:     cfg.smtpHost,
			Port:     cfg.smtpPort,
			Username: cfg.smtpUser,
			Password: cfg.smtpPass,
			From:     cfg.smtpFrom,
			TLS:      cfg.smtpTLS,
		}, nil
	})

	// --- 6. Default agent type ---
	registry.RegisterFactory(agent.Slug(cfg.defaultNamespace), defaultagent.Factory(defaultagent.Config{
		Mailer:      mailer,
		EmailSecret: cfg.emailSecret,
		MCPOptions: mcpclient.Options{
			CallbackBase:    callbackBase(cfg.httpAddr),
			SuccessRedirect: cfg.mcpSuccessRedirect,
			ErrorRedirect:   cfg.mcpErrorRedirect,
			Index:           mcpIndex,
		},
		Metrics: m,
	}))

	// --- 7. Idle sweep ---
	sweepTicker := time.NewTicker(time.Minute)
	defer sweepTicker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-sweepTicker.C:
				registry.SweepIdle()
			}
		}
	}()

	// --- 8. HTTP server ---
	router := httpapi.NewRouter(httpapi.RouterConfig{
		Registry:      registry,
		OAuthCallback: defaultagent.OAuthCallback(mcpIndex, logger),
		Metrics:       m.Handler(),
		Logger:        logger,
	})

	httpSrv := &http.Server{
		Addr:         cfg.httpAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.httpAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			cancel()
		}
	}()

	// --- Wait for shutdown signal ---
	<-ctx.Done()
	logger.Info("shutting down agenthostd")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server graceful shutdown error", zap.Error(err))
	}

	logger.Info("agenthostd stopped")
	return nil
}

// callbackBase derives the externally reachable prefix for MCP OAuth
// callback URLs from the configured listen address. A bare ":PORT" address
// has no host component to advertise, so it is assumed reachable at
// localhost — operators fronting the host with a public name should pass
// one via --http-addr (e.g. "agenthost.example.com:8080").
func callbackBase(httpAddr string) string {
	host := httpAddr
	if len(host) > 0 && host[0] == ':' {
		host = "localhost" + host
	}
	return "http://" + host + "/callback"
}

func buildLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config

	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOrDefault(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return defaultVal
	}
	return n
}

func envDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
