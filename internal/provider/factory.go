package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Kinds of release source understood by New.
const (
	KindGitHub = "github"
	KindS3     = "s3"
	KindLocal  = "local"
)

// ErrNoProvider is returned when the settings do not name a known provider.
var ErrNoProvider = errors.New("no provider specified")

// Settings selects and configures a provider.
type Settings struct {
	Kind              string
	IncludePrerelease bool
	RequestTimeout    time.Duration

	GitHub GitHubOptions
	S3     S3Options
	Local  string
}

// New builds the provider named by s.Kind.
func New(ctx context.Context, s Settings) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(s.Kind)) {
	case KindGitHub:
		opts := s.GitHub
		opts.IncludePrerelease = s.IncludePrerelease
		if opts.Client == nil && s.RequestTimeout > 0 {
			opts.Client = &http.Client{Timeout: s.RequestTimeout}
		}
		return NewGitHub(opts)
	case KindS3:
		return NewS3(ctx, s.S3)
	case KindLocal:
		return NewLocal(s.Local)
	case "":
		return nil, ErrNoProvider
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrNoProvider, s.Kind)
	}
}
