package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/breeze-rmm/updater/internal/errdefs"
	"github.com/breeze-rmm/updater/internal/httputil"
	"github.com/breeze-rmm/updater/internal/logging"
)

var log = logging.L("provider")

const (
	defaultGitHubAPI = "https://api.github.com"
	defaultPerPage   = 30
	defaultMaxPages  = 5
	maxResponseSize  = 8 << 20
)

// GitHubOptions configures a GitHub releases provider.
type GitHubOptions struct {
	// Repository is "owner/repo".
	Repository string
	// Token is sent as a bearer token to the API host only.
	Token string
	// APIURL overrides https://api.github.com (GitHub Enterprise).
	APIURL            string
	IncludePrerelease bool
	PerPage           int
	MaxPages          int
	Client            *http.Client
	Retry             httputil.RetryConfig
}

// GitHub lists releases through the GitHub REST API.
type GitHub struct {
	releaseSet
	opts GitHubOptions
	base *url.URL
}

// NewGitHub validates opts and returns a GitHub provider.
func NewGitHub(opts GitHubOptions) (*GitHub, error) {
	owner, repo, ok := strings.Cut(opts.Repository, "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return nil, fmt.Errorf("github repository must be \"owner/repo\", got %q", opts.Repository)
	}
	if opts.APIURL == "" {
		opts.APIURL = defaultGitHubAPI
	}
	base, err := url.Parse(strings.TrimRight(opts.APIURL, "/"))
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid github api url %q", opts.APIURL)
	}
	if opts.PerPage <= 0 || opts.PerPage > 100 {
		opts.PerPage = defaultPerPage
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = defaultMaxPages
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Retry == (httputil.RetryConfig{}) {
		opts.Retry = httputil.DefaultRetryConfig()
	}
	return &GitHub{opts: opts, base: base}, nil
}

func (g *GitHub) Name() string { return "GitHub" }

type githubRelease struct {
	TagName    string        `json:"tag_name"`
	Draft      bool          `json:"draft"`
	Prerelease bool          `json:"prerelease"`
	Assets     []githubAsset `json:"assets"`
}

type githubAsset struct {
	Name               string `json:"name"`
	Size               uint64 `json:"size"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

type githubError struct {
	Message string `json:"message"`
}

// Fetch lists the repository's releases, following pagination up to the
// configured page cap. Drafts are always skipped.
func (g *GitHub) Fetch(ctx context.Context) error {
	next := fmt.Sprintf("%s/repos/%s/releases?per_page=%d", g.base.String(), g.opts.Repository, g.opts.PerPage)

	var releases []Release
	for page := 0; next != "" && page < g.opts.MaxPages; page++ {
		batch, link, err := g.fetchPage(ctx, next)
		if err != nil {
			return err
		}
		for _, r := range batch {
			if r.Draft || (r.Prerelease && !g.opts.IncludePrerelease) {
				continue
			}
			rel := Release{Tag: r.TagName, Assets: make([]Asset, 0, len(r.Assets))}
			for _, a := range r.Assets {
				rel.Assets = append(rel.Assets, Asset{Name: a.Name, Size: a.Size, URL: a.BrowserDownloadURL})
			}
			releases = append(releases, rel)
		}
		next = link
	}

	log.Debug("fetched releases", "repository", g.opts.Repository, "count", len(releases))
	g.set(releases)
	return nil
}

func (g *GitHub) fetchPage(ctx context.Context, pageURL string) ([]githubRelease, string, error) {
	headers := http.Header{}
	headers.Set("Accept", "application/vnd.github+json")
	headers.Set("X-GitHub-Api-Version", "2022-11-28")
	if g.opts.Token != "" && g.sameHost(pageURL) {
		headers.Set("Authorization", "Bearer "+g.opts.Token)
	}

	resp, err := httputil.Do(ctx, g.opts.Client, http.MethodGet, pageURL, nil, headers, g.opts.Retry)
	if err != nil {
		var statusErr *httputil.RetryableStatusError
		if !errors.As(err, &statusErr) {
			return nil, "", fmt.Errorf("%w: fetch releases: %w", errdefs.ErrNetwork, err)
		}
		var apiErr githubError
		_ = json.Unmarshal(statusErr.Body, &apiErr)
		switch {
		case statusErr.StatusCode == http.StatusTooManyRequests:
			msg := apiErr.Message
			if msg == "" {
				msg = "github rate limit exceeded"
			}
			return nil, "", &RateLimitError{Reset: retryAfter(statusErr.RetryAfter), Message: msg}
		case apiErr.Message != "":
			return nil, "", &RemoteError{StatusCode: statusErr.StatusCode, Message: apiErr.Message}
		}
		return nil, "", fmt.Errorf("%w: fetch releases: %w", errdefs.ErrNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, "", fmt.Errorf("%w: read releases: %w", errdefs.ErrNetwork, err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr githubError
		_ = json.Unmarshal(body, &apiErr)
		if resp.Header.Get("X-RateLimit-Remaining") == "0" &&
			(resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests) {
			return nil, "", &RateLimitError{Reset: rateLimitReset(resp.Header), Message: apiErr.Message}
		}
		if apiErr.Message != "" {
			return nil, "", &RemoteError{StatusCode: resp.StatusCode, Message: apiErr.Message}
		}
		return nil, "", fmt.Errorf("%w: fetch releases: status %d", errdefs.ErrNetwork, resp.StatusCode)
	}

	var releases []githubRelease
	if err := json.Unmarshal(body, &releases); err != nil {
		var apiErr githubError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
			return nil, "", &RemoteError{StatusCode: resp.StatusCode, Message: apiErr.Message}
		}
		return nil, "", fmt.Errorf("%w: decode releases: %w", errdefs.ErrParse, err)
	}

	return releases, parseNextLink(resp.Header.Get("Link")), nil
}

func (g *GitHub) sameHost(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && strings.EqualFold(u.Host, g.base.Host)
}

// parseNextLink returns the rel="next" target of an RFC 8288 Link header.
func parseNextLink(header string) string {
	for _, part := range strings.Split(header, ",") {
		segments := strings.Split(part, ";")
		if len(segments) < 2 {
			continue
		}
		target := strings.TrimSpace(segments[0])
		if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
			continue
		}
		for _, param := range segments[1:] {
			key, value, ok := strings.Cut(strings.TrimSpace(param), "=")
			if ok && key == "rel" && strings.Trim(value, `"`) == "next" {
				return target[1 : len(target)-1]
			}
		}
	}
	return ""
}

func rateLimitReset(h http.Header) time.Time {
	secs, err := strconv.ParseInt(h.Get("X-RateLimit-Reset"), 10, 64)
	if err != nil || secs <= 0 {
		return time.Time{}
	}
	return time.Unix(secs, 0)
}

func retryAfter(v string) time.Time {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return time.Time{}
	}
	return time.Now().Add(time.Duration(secs) * time.Second)
}
