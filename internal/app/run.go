package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
	"roomgraph/internal/auth"
	"roomgraph/internal/common/logging"
	"roomgraph/internal/config"
)

// options are the command line flags
type options struct {
	runtimeConfig string
	printSessions bool
	issueToken    string
	tokenTTL      time.Duration
}

func parseFlags(args []string, out io.Writer) (*options, error) {
	opts := &options{}
	flags := pflag.NewFlagSet("roomgraph", pflag.ContinueOnError)
	flags.SetOutput(out)
	flags.StringVar(&opts.runtimeConfig, "runtime-config", "", "YAML runtime configuration (overrides RUNTIME_CONFIG)")
	flags.BoolVar(&opts.printSessions, "print-sessions", false, "Print the sessions generated from the runtime configuration and exit")
	flags.StringVar(&opts.issueToken, "issue-token", "", "Print an API token for the given subject and exit")
	flags.DurationVar(&opts.tokenTTL, "token-ttl", 24*time.Hour, "Lifetime of tokens printed by --issue-token")
	if err := flags.Parse(args); err != nil {
		return nil, err
	}
	return opts, nil
}

// Run is the main entry point for the application
func Run(args []string) error {
	// Load environment variables
	_ = godotenv.Load()

	opts, err := parseFlags(args, os.Stderr)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg := config.Load()
	if opts.runtimeConfig != "" {
		cfg.RuntimeConfig = opts.runtimeConfig
	}

	if err := logging.Init(cfg.LogLevel, cfg.LogFile); err != nil {
		return err
	}
	defer logging.MustSync()

	if err := cfg.Validate(); err != nil {
		logging.Error("Configuration validation failed", err)
		return err
	}

	switch {
	case opts.printSessions:
		return printSessions(os.Stdout, cfg.RuntimeConfig)
	case opts.issueToken != "":
		return issueToken(os.Stdout, cfg, opts.issueToken, opts.tokenTTL)
	}

	logging.Info("Starting roomgraph",
		logging.Int("cpus", runtime.NumCPU()),
		logging.String("transport", cfg.Transport),
		logging.Bool("auth", cfg.AuthEnabled()),
		logging.Bool("persistence", cfg.PersistenceEnabled()),
	)

	app, err := New(cfg)
	if err != nil {
		logging.Error("Failed to initialize application", err)
		return err
	}
	defer app.Cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Start(ctx); err != nil {
		logging.Error("Failed to start sessions", err)
		shutdown(app, nil)
		return err
	}

	srv := app.NewServer()
	if err := srv.Start(); err != nil {
		logging.Error("Server failed to start", err)
		shutdown(app, nil)
		return err
	}
	logging.Info("Control API listening", logging.String("port", cfg.Port))

	var serveErr error
	select {
	case <-ctx.Done():
		logging.Info("Shutting down...")
	case err := <-srv.Errors():
		serveErr = err
		logging.Error("Server failed", err)
	}

	if err := shutdown(app, srv); err != nil {
		return err
	}
	logging.Info("Server exited")
	return serveErr
}

type shutdowner interface {
	Shutdown(ctx context.Context) error
}

// shutdown stops the HTTP server first so no new sessions arrive, then
// the application
func shutdown(app *App, srv shutdowner) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			logging.Error("Server forced to shutdown", err)
		}
	}
	if err := app.Shutdown(ctx); err != nil {
		logging.Warn("Error during app shutdown", logging.Err(err))
		return err
	}
	return nil
}

// printSessions writes the sessions generated from the runtime
// configuration as YAML
func printSessions(w io.Writer, path string) error {
	if path == "" {
		return fmt.Errorf("no runtime configuration given, use --runtime-config or RUNTIME_CONFIG")
	}
	reqs, err := loadRuntime(path)
	if err != nil {
		return err
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(reqs)
}

func issueToken(w io.Writer, cfg *config.Config, subject string, ttl time.Duration) error {
	token, err := auth.New(cfg.JWTSecret).GenerateJWT(subject, "api", ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, token)
	return err
}
