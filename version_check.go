package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/mod/semver"

	"github.com/oszuidwest/zwfm-dictation/internal/util"
)

// Build information, set with -ldflags "-X main.Version=...".
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const (
	githubRepo           = "oszuidwest/zwfm-dictation"
	githubAPI            = "https://api.github.com"
	versionCheckInterval = 24 * time.Hour
	versionCheckDelay    = 30 * time.Second // Delay before first check to avoid blocking startup
	versionCheckTimeout  = 10 * time.Second // HTTP request timeout
	versionMaxRetries    = 3                // Max retries per check cycle
	versionRetryDelay    = 1 * time.Minute  // Delay between retries
)

// errRetryable marks a failed check that is worth retrying.
var errRetryable = errors.New("temporary failure")

// VersionInfo describes the running build and the latest release.
type VersionInfo struct {
	Current     string `json:"current"`
	Latest      string `json:"latest,omitempty"`
	UpdateAvail bool   `json:"update_available"`
	Commit      string `json:"commit,omitempty"`
	BuildTime   string `json:"build_time,omitempty"`
}

// VersionChecker checks for new releases and reports update availability. It is safe for concurrent use.
type VersionChecker struct {
	baseURL string
	client  *http.Client

	mu     sync.RWMutex
	latest string
	etag   string // For conditional requests (304 Not Modified)

	stopOnce sync.Once
	stopCh   chan struct{} // Close to signal goroutine to stop
}

// NewVersionChecker returns a VersionChecker. Call Run to check periodically
// or Check for a single lookup.
func NewVersionChecker() *VersionChecker {
	return &VersionChecker{
		baseURL: githubAPI,
		client:  &http.Client{Timeout: versionCheckTimeout},
		stopCh:  make(chan struct{}),
	}
}

// Stop stops the periodic check. It is idempotent.
func (vc *VersionChecker) Stop() {
	vc.stopOnce.Do(func() { close(vc.stopCh) })
}

// Run executes the version check loop until Stop is called.
func (vc *VersionChecker) Run() {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in version checker", "panic", r)
		}
	}()

	// Initial delay before first check
	select {
	case <-time.After(versionCheckDelay):
		vc.checkWithRetry()
	case <-vc.stopCh:
		return
	}

	ticker := time.NewTicker(versionCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			vc.checkWithRetry()
		case <-vc.stopCh:
			return
		}
	}
}

// checkWithRetry performs the version check with retries on failure.
func (vc *VersionChecker) checkWithRetry() {
	for attempt := range versionMaxRetries {
		err := vc.Check(context.Background())
		if err == nil {
			return
		}
		if !errors.Is(err, errRetryable) {
			slog.Debug("version check failed", "error", err)
			return
		}
		if attempt < versionMaxRetries-1 {
			select {
			case <-time.After(versionRetryDelay):
				// Continue to next retry
			case <-vc.stopCh:
				return
			}
		}
	}
}

// githubRelease represents a release with version and status information.
type githubRelease struct {
	TagName    string `json:"tag_name"`
	Draft      bool   `json:"draft"`
	Prerelease bool   `json:"prerelease"`
}

// Check retrieves the latest release once. Rate limits, server errors and
// network failures wrap errRetryable.
func (vc *VersionChecker) Check(ctx context.Context) error {
	url := vc.baseURL + "/repos/" + githubRepo + "/releases/latest"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return util.WrapError("create request", err)
	}

	// Set required GitHub API headers.
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", "zwfm-dictation/"+Version)

	vc.mu.RLock()
	etag := vc.etag
	vc.mu.RUnlock()
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := vc.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", errRetryable, err)
	}
	defer func() {
		_ = resp.Body.Close() //nolint:errcheck // Best-effort cleanup; error doesn't affect caller
	}()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotModified, http.StatusNotFound:
		// No changes since last check, or no releases yet
		return nil
	case http.StatusForbidden, http.StatusTooManyRequests:
		return fmt.Errorf("%w: rate limited", errRetryable)
	default:
		if resp.StatusCode >= 500 {
			return fmt.Errorf("%w: status %d", errRetryable, resp.StatusCode)
		}
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var release githubRelease
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return util.WrapError("decode release", err)
	}

	if release.Draft || release.Prerelease {
		return nil
	}

	if release.TagName == "" {
		return errors.New("release has no tag")
	}

	vc.mu.Lock()
	vc.latest = normalizeVersion(release.TagName)
	if newEtag := resp.Header.Get("ETag"); newEtag != "" {
		vc.etag = newEtag
	}
	vc.mu.Unlock()

	return nil
}

// Info returns the current version info.
func (vc *VersionChecker) Info() VersionInfo {
	vc.mu.RLock()
	defer vc.mu.RUnlock()

	current := normalizeVersion(Version)
	info := VersionInfo{
		Current:   current,
		Latest:    vc.latest,
		Commit:    Commit,
		BuildTime: BuildTime,
	}

	// Determine if an update is available.
	if vc.latest != "" && current != "dev" && current != "unknown" {
		info.UpdateAvail = isNewerVersion(vc.latest, current)
	}

	return info
}

// normalizeVersion returns a normalized version string.
func normalizeVersion(v string) string {
	return strings.TrimPrefix(strings.TrimSpace(v), "v")
}

// canonicalVersion returns the version in canonical semver format.
func canonicalVersion(v string) string {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

// isNewerVersion reports whether latest is newer than current.
func isNewerVersion(latest, current string) bool {
	// semver.Compare returns 1 if latest > current
	return semver.Compare(canonicalVersion(latest), canonicalVersion(current)) > 0
}
