package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	goversion "github.com/hashicorp/go-version"
	"github.com/spf13/cobra"

	"github.com/breeze-rmm/updater/internal/config"
	"github.com/breeze-rmm/updater/internal/errdefs"
	"github.com/breeze-rmm/updater/internal/launcher"
	"github.com/breeze-rmm/updater/internal/lock"
	"github.com/breeze-rmm/updater/internal/logging"
	"github.com/breeze-rmm/updater/internal/procedures"
	"github.com/breeze-rmm/updater/internal/provider"
	"github.com/breeze-rmm/updater/internal/updater"
)

// errCancelled reports an update stopped by the user. It is not a failure of
// the updater itself.
var errCancelled = errors.New("update cancelled")

var errSelfNotConfigured = errors.New("self-update needs an [update.self-provider] section")

func runLauncher(cmd *cobra.Command, args []string) error {
	cfg, closer, err := loadConfig()
	defer closer.Close()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	wd := cfg.WorkingDir
	exe := cfg.Application.Executable
	log.Info("starting launcher", logging.KeyVersion, version, "workingDir", wd)

	current := installedVersion(cfg)

	launched := false
	if !cfg.Update.BeforeLaunch && current != nil {
		launch(cfg, current, args)
		launched = true
	}

	locker := lock.New(lock.DefaultName)
	if err := lock.Acquire(locker); err != nil {
		if errors.Is(err, errdefs.ErrLockHeld) {
			log.Info("updater already running, exiting", logging.KeyError, err)
			return nil
		}
		return err
	}
	defer locker.Unlock()

	if current != nil {
		log.Info("cleaning up older versions")
		if _, err := launcher.CleanOldVersions(wd, current); err != nil {
			log.Error("failed to clean old versions", logging.KeyError, err)
		}
	}

	shouldLaunch := !launched
	if current != nil || cfg.Update.ShouldInstall {
		installed, err := updateApplication(ctx, cfg, current)
		switch {
		case errors.Is(err, errCancelled):
			log.Warn("application update cancelled")
			shouldLaunch = false
		case err != nil:
			log.Error("application update failed", logging.KeyError, err)
			shouldLaunch = false
			current = nil
		default:
			current = installed
		}
	} else {
		log.Info("application not installed and installation disabled")
		shouldLaunch = false
	}

	if shouldLaunch && current != nil && launcher.Installed(wd, current, exe) {
		launch(cfg, current, args)
	}

	if cfg.Update.UpdateSelf {
		if err := updateSelf(ctx, cfg); err != nil && !errors.Is(err, errCancelled) {
			log.Error("failed to update self", logging.KeyError, err)
		}
	}
	return nil
}

func runUpdate(cmd *cobra.Command, _ []string) error {
	cfg, closer, err := loadConfig()
	defer closer.Close()
	if err != nil {
		return err
	}

	locker := lock.New(lock.DefaultName)
	if err := lock.Acquire(locker); err != nil {
		return err
	}
	defer locker.Unlock()

	current := installedVersion(cfg)
	installed, err := updateApplication(cmd.Context(), cfg, current)
	if err != nil {
		return err
	}
	fmt.Printf("%s %s installed\n", cfg.Application.Name, installed)
	return nil
}

func runSelfUpdate(cmd *cobra.Command, _ []string) error {
	cfg, closer, err := loadConfig()
	defer closer.Close()
	if err != nil {
		return err
	}

	locker := lock.New(lock.DefaultName)
	if err := lock.Acquire(locker); err != nil {
		return err
	}
	defer locker.Unlock()

	return updateSelf(cmd.Context(), cfg)
}

func runCheck(cmd *cobra.Command, _ []string) error {
	cfg, closer, err := loadConfig()
	defer closer.Close()
	if err != nil {
		return err
	}

	prov, err := newProvider(cmd.Context(), cfg, cfg.Update.Provider)
	if err != nil {
		return err
	}
	if err := prov.Fetch(cmd.Context()); err != nil {
		return fmt.Errorf("fetch releases: %w", err)
	}
	latest, err := prov.Latest()
	if err != nil {
		return err
	}

	current := installedVersion(cfg)
	printCheck(cmd.OutOrStdout(), cfg.Application.Name, current, latest)
	assetName := provider.ResolveAssetName(cfg.Update.AssetName)
	asset, err := prov.FindAsset(latest, assetName)
	if err != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Asset:     none matching %q\n", assetName)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Asset:     %s (%.2f MB)\n", asset.Name, float64(asset.Size)/1_000_000)
	}
	return nil
}

func printCheck(w io.Writer, name string, current, latest *goversion.Version) {
	installed := "not installed"
	if current != nil {
		installed = current.String()
	}
	fmt.Fprintf(w, "App:       %s\n", name)
	fmt.Fprintf(w, "Installed: %s\n", installed)
	fmt.Fprintf(w, "Latest:    %s\n", latest)
	if provider.IsNewer(latest, current) {
		fmt.Fprintln(w, "Update available")
	} else {
		fmt.Fprintln(w, "Up to date")
	}
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg, closer, err := loadConfig()
	defer closer.Close()
	if err != nil {
		fmt.Println("Status: Not configured")
		return err
	}

	if current := installedVersion(cfg); current != nil {
		fmt.Printf("Installed: %s %s\n", cfg.Application.Name, current)
	} else {
		fmt.Println("Installed: none")
	}
	fmt.Printf("Launcher:  v%s\n", version)

	locker := lock.New(lock.DefaultName)
	if holder, err := lock.Holder(locker); err == nil {
		fmt.Printf("Updater:   running, %s\n", holder)
	} else {
		fmt.Println("Updater:   idle")
	}
	return nil
}

// installedVersion returns the recorded version when its executable exists.
func installedVersion(cfg *config.Config) *goversion.Version {
	current := launcher.ReadVersion(cfg.WorkingDir)
	if current == nil {
		return nil
	}
	if !launcher.Installed(cfg.WorkingDir, current, cfg.Application.Executable) {
		log.Warn("installed version not found", logging.KeyVersion, current.String())
		return nil
	}
	log.Info("current version", logging.KeyVersion, current.String())
	return current
}

func launch(cfg *config.Config, v *goversion.Version, args []string) {
	if _, err := launcher.Launch(cfg.WorkingDir, v, cfg.Application.Executable, args); err != nil {
		log.Error("failed to launch application", logging.KeyVersion, v.String(), logging.KeyError, err)
	}
}

// updateApplication runs the application procedure and returns the version
// installed afterwards. A newly installed version is recorded in the version
// file.
func updateApplication(ctx context.Context, cfg *config.Config, current *goversion.Version) (*goversion.Version, error) {
	prov, err := newProvider(ctx, cfg, cfg.Update.Provider)
	if err != nil {
		return nil, err
	}

	data := &procedures.AppData{
		UpdateState: procedures.UpdateState{
			Provider:        prov,
			AssetName:       provider.ResolveAssetName(cfg.Update.AssetName),
			Current:         current,
			RequireChecksum: cfg.Update.RequireChecksum,
		},
		AppName:   cfg.Application.Name,
		Directory: cfg.WorkingDir,
	}
	defer data.Cleanup()

	r := newRunner(cfg.Update.ShowProgress)
	state, err := execute(ctx, r, procedures.NewApplication(data, r.options()...))
	if err != nil {
		return nil, err
	}
	if state == updater.Cancelled {
		return current, errCancelled
	}

	if !provider.IsNewer(data.Latest, current) {
		return current, nil
	}
	if err := launcher.WriteVersion(cfg.WorkingDir, data.Latest); err != nil {
		log.Error("failed to update version file", logging.KeyError, err)
	}
	return data.Latest, nil
}

func updateSelf(ctx context.Context, cfg *config.Config) error {
	if cfg.Update.SelfProvider.Kind == "" {
		return errSelfNotConfigured
	}
	exe, err := selfExecutable()
	if err != nil {
		return err
	}
	return replaceSelf(ctx, cfg, exe)
}

// replaceSelf swaps exe for the newest launcher release published through
// the self-provider, which is separate from the application's provider.
func replaceSelf(ctx context.Context, cfg *config.Config, exe string) error {
	prov, err := newProvider(ctx, cfg, cfg.Update.SelfProvider)
	if err != nil {
		return err
	}

	data := &procedures.SelfData{
		UpdateState: procedures.UpdateState{
			Provider:        prov,
			AssetName:       provider.ResolveAssetName(cfg.Update.SelfAssetName),
			Current:         buildVersion(),
			RequireChecksum: cfg.Update.RequireChecksum,
		},
		Executable: exe,
	}
	defer data.Cleanup()

	r := newRunner(cfg.Update.ShowProgress)
	state, err := execute(ctx, r, procedures.NewSelf(data, r.options()...))
	if err != nil {
		return err
	}
	if state == updater.Cancelled {
		return errCancelled
	}
	if provider.IsNewer(data.Latest, data.Current) {
		log.Info("launcher updated, takes effect on next start", logging.KeyVersion, data.Latest.String())
	}
	return nil
}
