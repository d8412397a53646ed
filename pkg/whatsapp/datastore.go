package whatsapp

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"go.mau.fi/whatsmeow/store"

	"github.com/gdbrns/go-whatsapp-multi-user-gateway/pkg/log"
	"github.com/gdbrns/go-whatsapp-multi-user-gateway/pkg/session"
)

// Datastore persists the whatsmeow device state of each user.
type Datastore interface {
	session.Credentials
	// Device returns the stored device of userID, or a new unpaired one.
	Device(ctx context.Context, userID string) (*store.Device, error)
	Close() error
}

type DatastoreConfig struct {
	Type    string
	URI     string
	AuthDir string
}

var ErrUnsupportedDatastore = errors.New("unsupported datastore type")

// OpenDatastore opens the datastore selected by cfg.Type (sqlite or postgres).
func OpenDatastore(ctx context.Context, cfg DatastoreConfig) (Datastore, error) {
	driver := normalizeDatastoreDriver(cfg.Type)
	log.Logger().WithField("driver", driver).Info("Initializing WhatsApp datastore")

	switch driver {
	case "sqlite":
		return NewSQLiteDatastore(cfg.AuthDir, NewLogger(log.Logger().WithField("datastore", driver), "Database"))
	case "pgx":
		if strings.TrimSpace(cfg.URI) == "" {
			return nil, errors.New("WHATSAPP_DATASTORE_URI is required for the postgres datastore")
		}
		return NewPostgresDatastore(ctx, normalizeDatastoreDSN(driver, cfg.URI), NewLogger(log.Logger().WithField("datastore", driver), "Database"))
	}
	return nil, errors.Wrapf(ErrUnsupportedDatastore, "%q", cfg.Type)
}

func normalizeDatastoreDriver(driver string) string {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgresql", "postgres", "pgx":
		return "pgx"
	case "", "sqlite", "sqlite3", "file":
		return "sqlite"
	default:
		return strings.ToLower(strings.TrimSpace(driver))
	}
}

func normalizeDatastoreDSN(driver string, dsn string) string {
	if driver != "pgx" {
		return dsn
	}
	appendParam := func(current string, key string, value string) string {
		if strings.Contains(current, key+"=") {
			return current
		}
		separator := "?"
		if strings.Contains(current, "?") {
			if strings.HasSuffix(current, "?") || strings.HasSuffix(current, "&") {
				separator = ""
			} else {
				separator = "&"
			}
		}
		return current + separator + key + "=" + value
	}
	dsn = appendParam(dsn, "statement_cache_capacity", "0")
	dsn = appendParam(dsn, "default_query_exec_mode", "simple_protocol")
	return dsn
}
