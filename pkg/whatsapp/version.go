package whatsapp

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	"golang.org/x/sync/singleflight"
)

const defaultVersionRefreshInterval = 10 * time.Minute

type VersionStatus struct {
	CurrentVersion store.WAVersionContainer `json:"current_version"`
	LastRefreshed  *time.Time               `json:"last_refreshed,omitempty"`
	LastError      string                   `json:"last_error,omitempty"`
}

type versionFetcher func(ctx context.Context, httpClient *http.Client) (*store.WAVersionContainer, error)

// VersionRefresher keeps the WhatsApp Web version used by new connections current.
type VersionRefresher struct {
	minInterval time.Duration
	httpClient  *http.Client
	fetch       versionFetcher
	apply       func(store.WAVersionContainer)

	group singleflight.Group

	mu            sync.RWMutex
	lastRefreshed *time.Time
	lastError     string
}

// NewVersionRefresher throttles non forced refreshes to one per minInterval.
func NewVersionRefresher(minInterval time.Duration) *VersionRefresher {
	if minInterval < 0 {
		minInterval = defaultVersionRefreshInterval
	}
	return &VersionRefresher{
		minInterval: minInterval,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		fetch:       whatsmeow.GetLatestVersion,
		apply:       store.SetWAVersion,
	}
}

func (r *VersionRefresher) Status() VersionStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var last *time.Time
	if r.lastRefreshed != nil {
		t := *r.lastRefreshed
		last = &t
	}
	return VersionStatus{
		CurrentVersion: store.GetWAVersion(),
		LastRefreshed:  last,
		LastError:      r.lastError,
	}
}

// Refresh fetches the latest version and applies it. The bool result is
// false when the call was throttled.
func (r *VersionRefresher) Refresh(ctx context.Context, force bool) (VersionStatus, bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if !force && r.minInterval > 0 {
		r.mu.RLock()
		last := r.lastRefreshed
		r.mu.RUnlock()
		if last != nil && time.Since(*last) < r.minInterval {
			return r.Status(), false, nil
		}
	}

	_, err, _ := r.group.Do("refresh", func() (interface{}, error) {
		latest, err := r.fetch(ctx, r.httpClient)
		if err == nil && latest == nil {
			err = errors.New("latest WhatsApp Web version is nil")
		}
		if err == nil {
			r.apply(*latest)
		}
		r.record(err)
		return nil, err
	})
	if err != nil {
		return r.Status(), true, err
	}
	return r.Status(), true, nil
}

func (r *VersionRefresher) record(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	r.lastRefreshed = &now
	r.lastError = ""
	if err != nil {
		r.lastError = err.Error()
	}
}
