package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/breeze-rmm/updater/internal/safepath"
)

var repositoryRegex = regexp.MustCompile(`^[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+$`)

var knownProviders = map[string]bool{
	"github": true,
	"s3":     true,
	"local":  true,
}

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

const (
	minRequestTimeout = time.Second
	maxRequestTimeout = 10 * time.Minute
	minPresignExpiry  = time.Minute
	maxPresignExpiry  = 7 * 24 * time.Hour
)

// ValidationResult splits problems into fatals, which must stop the
// launcher, and warnings for values that were corrected in place.
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

func (r ValidationResult) HasFatals() bool {
	return len(r.Fatals) > 0
}

// AllErrors returns fatals followed by warnings.
func (r ValidationResult) AllErrors() []error {
	all := make([]error, 0, len(r.Fatals)+len(r.Warnings))
	all = append(all, r.Fatals...)
	return append(all, r.Warnings...)
}

// Validate checks the config and returns every problem found. Warnings are
// logged.
func (c *Config) Validate() []error {
	return c.ValidateTiered().AllErrors()
}

// ValidateTiered checks the config. Out-of-range numbers are clamped and
// reported as warnings; missing or malformed required settings are fatal.
func (c *Config) ValidateTiered() ValidationResult {
	var r ValidationResult
	fatal := func(format string, args ...any) { r.Fatals = append(r.Fatals, fmt.Errorf(format, args...)) }
	warn := func(format string, args ...any) { r.Warnings = append(r.Warnings, fmt.Errorf(format, args...)) }

	if strings.TrimSpace(c.Application.Name) == "" {
		fatal("application.name is required")
	}
	switch exe := c.Application.Executable; {
	case exe == "":
		fatal("application.executable is required")
	case filepath.IsAbs(exe):
		fatal("application.executable %q must be relative to the version directory", exe)
	default:
		if _, err := safepath.Join("version", exe); err != nil {
			fatal("application.executable %q escapes the version directory", exe)
		}
	}

	if c.Update.AssetName == "" {
		fatal("update.asset-name is required")
	}
	if c.Update.UpdateSelf && c.Update.SelfAssetName == "" {
		fatal("update.self-asset-name is required when update.update-self is set")
	}

	validateProvider("update.provider", &c.Update.Provider, fatal, warn)
	switch {
	case c.Update.SelfProvider.Kind != "":
		validateProvider("update.self-provider", &c.Update.SelfProvider, fatal, warn)
	case c.Update.UpdateSelf:
		warn("update.self-provider is not configured, disabling update.update-self")
		c.Update.UpdateSelf = false
	}

	if c.RequestTimeout < minRequestTimeout {
		warn("request-timeout %s is below minimum %s, clamping", c.RequestTimeout, minRequestTimeout)
		c.RequestTimeout = minRequestTimeout
	} else if c.RequestTimeout > maxRequestTimeout {
		warn("request-timeout %s exceeds maximum %s, clamping", c.RequestTimeout, maxRequestTimeout)
		c.RequestTimeout = maxRequestTimeout
	}

	if c.Log.Level != "" && !validLogLevels[strings.ToLower(c.Log.Level)] {
		warn("log.level %q is not valid (use debug, info, warn, error)", c.Log.Level)
	}
	if c.Log.Format != "" && c.Log.Format != "text" && c.Log.Format != "json" {
		warn("log.format %q is not valid (use text or json)", c.Log.Format)
	}
	if c.Log.MaxSizeMB < 1 {
		warn("log.max-size-mb %d is below minimum 1, clamping", c.Log.MaxSizeMB)
		c.Log.MaxSizeMB = 1
	}
	if c.Log.MaxBackups < 0 {
		warn("log.max-backups %d is negative, clamping", c.Log.MaxBackups)
		c.Log.MaxBackups = 0
	}

	for _, err := range r.Warnings {
		slog.Warn("config validation", "error", err)
	}
	return r
}

// validateProvider checks the provider section at key, normalizing its kind
// and clamping the presign expiry.
func validateProvider(key string, p *ProviderConfig, fatal, warn func(string, ...any)) {
	kind := strings.ToLower(p.Kind)
	if !knownProviders[kind] {
		fatal("%s.kind %q is not valid (use github, s3 or local)", key, p.Kind)
		return
	}
	p.Kind = kind

	switch kind {
	case "github":
		if p.GitHub.Repository == "" {
			fatal("%s.github.repository is required", key)
		} else if !repositoryRegex.MatchString(p.GitHub.Repository) {
			fatal("%s.github.repository %q must be owner/repo", key, p.GitHub.Repository)
		}
		if p.GitHub.APIURL != "" {
			u, err := url.Parse(p.GitHub.APIURL)
			if err != nil {
				fatal("%s.github.api-url %q is not a valid URL: %w", key, p.GitHub.APIURL, err)
			} else if u.Scheme != "http" && u.Scheme != "https" {
				fatal("%s.github.api-url scheme must be http or https, got %q", key, u.Scheme)
			}
		}
		for _, r := range p.GitHub.Token {
			if unicode.IsControl(r) {
				fatal("%s.github.token contains control characters", key)
				break
			}
		}
	case "s3":
		if p.S3.Bucket == "" {
			fatal("%s.s3.bucket is required", key)
		}
		if (p.S3.AccessKeyID == "") != (p.S3.SecretAccessKey == "") {
			fatal("%s.s3.access-key-id and secret-access-key must be set together", key)
		}
		if p.S3.PresignExpiry < minPresignExpiry {
			warn("%s.s3.presign-expiry %s is below minimum %s, clamping", key, p.S3.PresignExpiry, minPresignExpiry)
			p.S3.PresignExpiry = minPresignExpiry
		} else if p.S3.PresignExpiry > maxPresignExpiry {
			warn("%s.s3.presign-expiry %s exceeds maximum %s, clamping", key, p.S3.PresignExpiry, maxPresignExpiry)
			p.S3.PresignExpiry = maxPresignExpiry
		}
	case "local":
		if p.Local.Path == "" {
			fatal("%s.local.path is required", key)
		}
	}
}
