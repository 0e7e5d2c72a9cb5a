package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	goversion "github.com/hashicorp/go-version"
	"golang.org/x/sync/errgroup"

	"github.com/breeze-rmm/updater/internal/config"
	"github.com/breeze-rmm/updater/internal/logging"
	"github.com/breeze-rmm/updater/internal/observer"
	"github.com/breeze-rmm/updater/internal/progress"
	"github.com/breeze-rmm/updater/internal/provider"
	"github.com/breeze-rmm/updater/internal/updater"
)

// loadConfig reads and validates the configuration and sets up logging. The
// returned closer flushes the log file and is never nil.
func loadConfig() (*config.Config, io.Closer, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, io.NopCloser(nil), &exitError{code: 1, err: fmt.Errorf("failed to load config: %w", err)}
	}

	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}

	result := cfg.ValidateTiered()
	closer, err := logging.Setup(cfg.Log.Format, cfg.Log.Level, logging.FileOptions{
		Path:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
	if err != nil {
		log.Warn("log file unavailable, logging to stderr only", logging.KeyError, err)
	}

	if result.HasFatals() {
		for _, err := range result.Fatals {
			log.Error("invalid configuration", logging.KeyError, err)
		}
		return nil, closer, &exitError{code: 2, err: fmt.Errorf("config verification failed: %w", errors.Join(result.Fatals...))}
	}

	if cfg.File == "" {
		log.Info("no config file found, using defaults and environment")
	} else {
		log.Info("configuration loaded and verified", logging.KeyPath, cfg.File)
	}
	return cfg, closer, nil
}

// newProvider builds the provider described by section p, e.g.
// cfg.Update.Provider for the application or cfg.Update.SelfProvider for the
// launcher.
func newProvider(ctx context.Context, cfg *config.Config, p config.ProviderConfig) (provider.Provider, error) {
	return provider.New(ctx, providerSettings(cfg, p))
}

func providerSettings(cfg *config.Config, p config.ProviderConfig) provider.Settings {
	return provider.Settings{
		Kind:              p.Kind,
		IncludePrerelease: cfg.Update.IncludePrerelease,
		RequestTimeout:    cfg.RequestTimeout,
		GitHub: provider.GitHubOptions{
			Repository: p.GitHub.Repository,
			Token:      p.GitHub.Token,
			APIURL:     p.GitHub.APIURL,
		},
		S3: provider.S3Options{
			Bucket:          p.S3.Bucket,
			Prefix:          p.S3.Prefix,
			Region:          p.S3.Region,
			Endpoint:        p.S3.Endpoint,
			PathStyle:       p.S3.PathStyle,
			AccessKeyID:     p.S3.AccessKeyID,
			SecretAccessKey: p.S3.SecretAccessKey,
			PresignExpiry:   p.S3.PresignExpiry,
		},
		Local: p.Local.Path,
	}
}

// buildVersion is the running launcher's version, nil for untagged builds.
func buildVersion() *goversion.Version {
	v, err := provider.ExtractVersion(version)
	if err != nil {
		return nil
	}
	return v
}

func selfExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locate executable: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return exe, nil
}

// runner owns the Progress shared by one procedure, its optional console
// observer and signal handling.
type runner struct {
	progress *progress.Progress
	console  *observer.Console
}

func newRunner(showProgress bool) *runner {
	r := &runner{progress: progress.New()}
	if showProgress {
		r.console = observer.NewConsole(os.Stderr, r.progress, observer.DefaultInterval)
	}
	return r
}

func (r *runner) options() []updater.Option {
	opts := []updater.Option{updater.WithProgress(r.progress)}
	if r.console != nil {
		opts = append(opts, updater.WithObserver(r.console))
	}
	return opts
}

// execute runs proc on the calling goroutine and the console, if any, on its
// own. SIGINT and SIGTERM request cooperative cancellation.
func execute[T any](ctx context.Context, r *runner, proc *updater.Procedure[T]) (updater.State, error) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case sig := <-sigs:
			log.Warn("cancelling procedure", "signal", sig.String(), logging.KeyProcedure, proc.Title())
			r.progress.SetCancelled(true)
		case <-done:
		}
	}()

	if r.console == nil {
		return proc.Execute(ctx)
	}

	var (
		state updater.State
		err   error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.console.Run(gctx)
	})
	g.Go(func() error {
		state, err = proc.Execute(ctx)
		return nil
	})
	_ = g.Wait()
	return state, err
}
