package internal

import (
	"context"
	mathrand "math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/gdbrns/go-whatsapp-multi-user-gateway/pkg/log"
	"github.com/gdbrns/go-whatsapp-multi-user-gateway/pkg/session"
)

// StartupOptions bounds the restore pass run at boot.
type StartupOptions struct {
	Concurrency int
	JitterMax   time.Duration
}

// StartupReport counts the outcome of one restore pass.
type StartupReport struct {
	Found        int64
	Restored     int64
	Reconnecting int64
	Failed       int64
}

func jitterSleep(ctx context.Context, max time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if max <= 0 {
		return true
	}
	d := time.Duration(mathrand.Int64N(max.Milliseconds()+1)) * time.Millisecond
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Startup resumes every session that has persisted credentials, so paired
// users reconnect without scanning a new QR code.
func Startup(ctx context.Context, manager *session.Manager, credentials session.Credentials, opts StartupOptions) StartupReport {
	log.Print(nil).Info("Running Startup Tasks")

	var report StartupReport

	userIDs, err := credentials.List(ctx)
	if err != nil {
		log.Print(nil).WithError(err).Error("Failed to load persisted sessions from datastore")
		return report
	}
	report.Found = int64(len(userIDs))

	if opts.Concurrency <= 0 {
		opts.Concurrency = 10
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)

	for _, userID := range userIDs {
		userID := userID
		g.Go(func() error {
			if !jitterSleep(gctx, opts.JitterMax) {
				return nil
			}
			log.Session(userID).Info("Restoring WhatsApp session")

			err := manager.Restore(gctx, userID)
			switch {
			case err == nil:
				atomic.AddInt64(&report.Restored, 1)
			case errors.Is(err, session.ErrTransientDisconnect):
				log.Session(userID).WithError(err).Warn("Restore deferred to reconnect loop")
				atomic.AddInt64(&report.Reconnecting, 1)
			default:
				log.Session(userID).WithError(err).Warn("Failed to restore session")
				atomic.AddInt64(&report.Failed, 1)
			}
			return nil
		})
	}
	_ = g.Wait()

	log.Print(nil).
		WithField("found", report.Found).
		WithField("restored", report.Restored).
		WithField("reconnecting", report.Reconnecting).
		WithField("failed", report.Failed).
		WithField("concurrency", opts.Concurrency).
		Info("Startup restore pass complete")
	return report
}
