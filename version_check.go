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

	"github.com/oszuidwest/zwfm-audiodesk/internal/types"
	"github.com/oszuidwest/zwfm-audiodesk/internal/util"
	"golang.org/x/mod/semver"
)

const (
	githubRepo = "oszuidwest/zwfm-audiodesk"
	githubAPI  = "https://api.github.com"

	releaseCheckInterval = 24 * time.Hour
	releaseCheckDelay    = 30 * time.Second // Keeps the first request off the startup path
	releaseCheckTimeout  = 30 * time.Second // Per request
	releaseCheckAttempts = 3
)

// Release check failures.
var (
	errReleaseRateLimited = errors.New("release check rate limited")
	errReleaseUnavailable = errors.New("release service unavailable")
)

// release is the subset of a GitHub release the checker reads.
type release struct {
	TagName    string `json:"tag_name"`
	Draft      bool   `json:"draft"`
	Prerelease bool   `json:"prerelease"`
}

// updateStatus is the outcome of the most recent completed check.
type updateStatus struct {
	latest    string
	checkedAt time.Time
	err       error
}

// VersionChecker tracks whether a newer release exists. Development builds
// never contact the release service. It is safe for concurrent use.
type VersionChecker struct {
	current string
	apiBase string
	client  *http.Client
	backoff *util.Backoff
	now     func() time.Time

	mu     sync.RWMutex
	status updateStatus
	etag   string // For conditional requests (304 Not Modified)

	cancel context.CancelFunc
}

// NewVersionChecker returns a checker for the running build. Nothing is
// fetched until Start or Check is called.
func NewVersionChecker() *VersionChecker {
	return &VersionChecker{
		current: normalizeVersion(Version),
		apiBase: githubAPI,
		client:  &http.Client{Timeout: releaseCheckTimeout},
		backoff: util.NewBackoff(time.Minute, 5*time.Minute),
		now:     time.Now,
	}
}

// Enabled reports whether this build compares itself against releases.
func (vc *VersionChecker) Enabled() bool {
	return semver.IsValid(canonicalVersion(vc.current))
}

// Start checks once after a short delay and then daily until ctx ends or
// Stop is called.
func (vc *VersionChecker) Start(ctx context.Context) {
	if !vc.Enabled() {
		slog.Debug("release checks disabled", "version", vc.current)
		return
	}
	ctx, vc.cancel = context.WithCancel(ctx)
	go vc.run(ctx)
}

// Stop ends the background loop. It is safe to call more than once.
func (vc *VersionChecker) Stop() {
	if vc.cancel != nil {
		vc.cancel()
	}
}

func (vc *VersionChecker) run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in version checker", "panic", r)
		}
	}()

	timer := time.NewTimer(releaseCheckDelay)
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			if err := vc.Check(ctx); err != nil && ctx.Err() == nil {
				slog.Info("release check failed", "error", err)
			}
			timer.Reset(releaseCheckInterval)
		case <-ctx.Done():
			return
		}
	}
}

// Check asks the release service for the latest release, retrying transient
// failures, and records the outcome for Info.
func (vc *VersionChecker) Check(ctx context.Context) error {
	if !vc.Enabled() {
		return nil
	}
	vc.backoff.Reset()
	err := util.Retry(ctx, vc.backoff, releaseCheckAttempts, func(int) error {
		return vc.fetch(ctx)
	})

	vc.mu.Lock()
	vc.status.checkedAt = vc.now()
	vc.status.err = err
	vc.mu.Unlock()
	return err
}

// fetch performs one conditional request. Transient failures are returned
// plain so Check retries them; anything else is permanent.
func (vc *VersionChecker) fetch(ctx context.Context) error {
	url := vc.apiBase + "/repos/" + githubRepo + "/releases/latest"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return util.Permanent(err)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", "zwfm-audiodesk/"+vc.current)

	vc.mu.RLock()
	etag := vc.etag
	vc.mu.RUnlock()
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := vc.client.Do(req)
	if err != nil {
		return err
	}
	defer util.SafeCloseFunc(resp.Body, "release response")()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotModified, resp.StatusCode == http.StatusNotFound:
		// Unchanged, or nothing published yet
		return nil
	case resp.StatusCode == http.StatusForbidden, resp.StatusCode == http.StatusTooManyRequests:
		return errReleaseRateLimited
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: HTTP %d", errReleaseUnavailable, resp.StatusCode)
	default:
		return util.Permanent(fmt.Errorf("release check: HTTP %d", resp.StatusCode))
	}

	var rel release
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return util.Permanent(util.WrapError("decode release", err))
	}
	if rel.Draft || rel.Prerelease {
		return nil
	}
	if rel.TagName == "" {
		return util.Permanent(errors.New("release has no tag"))
	}

	vc.mu.Lock()
	vc.status.latest = normalizeVersion(rel.TagName)
	if newEtag := resp.Header.Get("ETag"); newEtag != "" {
		vc.etag = newEtag
	}
	vc.mu.Unlock()
	return nil
}

// Info returns the build and update status shown in status pushes and
// support bundles.
func (vc *VersionChecker) Info() types.VersionInfo {
	vc.mu.RLock()
	status := vc.status
	vc.mu.RUnlock()

	info := types.VersionInfo{
		Current:   vc.current,
		Latest:    status.latest,
		Commit:    Commit,
		BuildTime: util.FormatHumanTime(BuildTime),
		CheckedAt: status.checkedAt,
		Checking:  vc.Enabled(),
	}
	if status.err != nil {
		info.CheckError = status.err.Error()
	}
	if status.latest != "" && info.Checking {
		info.UpdateAvail = isNewerVersion(status.latest, vc.current)
	}
	return info
}

// normalizeVersion strips whitespace and a leading "v".
func normalizeVersion(v string) string {
	return strings.TrimPrefix(strings.TrimSpace(v), "v")
}

// canonicalVersion returns v in the "vX.Y.Z" form semver expects.
func canonicalVersion(v string) string {
	return "v" + normalizeVersion(v)
}

// isNewerVersion reports whether latest is newer than current.
func isNewerVersion(latest, current string) bool {
	return semver.Compare(canonicalVersion(latest), canonicalVersion(current)) > 0
}
