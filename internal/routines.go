package internal

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/gdbrns/go-whatsapp-multi-user-gateway/pkg/env"
	"github.com/gdbrns/go-whatsapp-multi-user-gateway/pkg/log"
	"github.com/gdbrns/go-whatsapp-multi-user-gateway/pkg/session"
	pkgWhatsApp "github.com/gdbrns/go-whatsapp-multi-user-gateway/pkg/whatsapp"
)

// RoutineOptions selects the cron jobs registered by Routines.
type RoutineOptions struct {
	HealthCheck         bool
	HealthCheckSpec     string
	VersionRefresh      bool
	VersionRefreshSpec  string
	VersionRefreshForce bool
}

func RoutineOptionsFromEnv() RoutineOptions {
	return RoutineOptions{
		HealthCheck:         env.GetEnvBoolOrDefault("WHATSAPP_ENABLE_HEALTH_CHECK_CRON", true),
		HealthCheckSpec:     env.GetEnvStringOrDefault("WHATSAPP_HEALTH_CHECK_CRON_SPEC", "0 */5 * * * *"),
		VersionRefresh:      env.GetEnvBoolOrDefault("WHATSAPP_ENABLE_WAVERSION_REFRESH_CRON", false),
		VersionRefreshSpec:  env.GetEnvStringOrDefault("WHATSAPP_WAVERSION_REFRESH_CRON_SPEC", "0 0 3 * * *"),
		VersionRefreshForce: env.GetEnvBoolOrDefault("WHATSAPP_WAVERSION_REFRESH_CRON_FORCE", false),
	}
}

func formatVersion(status pkgWhatsApp.VersionStatus) string {
	v := status.CurrentVersion
	parts := make([]string, len(v))
	for i := range v {
		parts[i] = strconv.FormatUint(uint64(v[i]), 10)
	}
	return strings.Join(parts, ".")
}

// Routines registers the periodic jobs and starts the scheduler. The health
// check hands silently dropped clients to the reconnect loop.
func Routines(c *cron.Cron, manager *session.Manager, refresher *pkgWhatsApp.VersionRefresher, opts RoutineOptions) {
	log.Print(nil).Info("Running Routine Tasks")

	if opts.HealthCheck {
		_, err := c.AddFunc(opts.HealthCheckSpec, func() {
			if manager.Store().Len() == 0 {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			report := manager.HealthCheck(ctx)
			entry := log.Print(nil).
				WithField("total", report.Total).
				WithField("healthy", report.Healthy).
				WithField("unhealthy", report.Unhealthy).
				WithField("pending", report.Pending)
			if report.Unhealthy > 0 {
				entry.Warn("Session health check found unhealthy clients")
				return
			}
			entry.Debug("Session health check completed")
		})
		if err != nil {
			log.Print(nil).WithField("error", err.Error()).Error("Failed to add health check cron job")
		}
	} else {
		log.Print(nil).Info("Health check cron disabled; relying on whatsmeow event handlers")
	}

	if opts.VersionRefresh && refresher != nil {
		_, err := c.AddFunc(opts.VersionRefreshSpec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			status, refreshed, err := refresher.Refresh(ctx, opts.VersionRefreshForce)
			entry := log.Print(nil).WithField("version", formatVersion(status)).WithField("force", opts.VersionRefreshForce)
			if err != nil {
				entry.Error("WA Web version refresh failed: " + err.Error())
				return
			}
			entry.WithField("refreshed", refreshed).Info("WA Web version refresh completed")
		})
		if err != nil {
			log.Print(nil).WithField("error", err.Error()).Error("Failed to add WA Web version refresh cron job")
		} else {
			log.Print(nil).WithField("spec", opts.VersionRefreshSpec).WithField("force", opts.VersionRefreshForce).Info("WA Web version refresh cron enabled")
		}
	}

	c.Start()
}
