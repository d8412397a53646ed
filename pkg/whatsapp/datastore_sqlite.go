package whatsapp

import (
	"context"
	"database/sql"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"
	_ "modernc.org/sqlite"

	"github.com/gdbrns/go-whatsapp-multi-user-gateway/pkg/validation"
)

const (
	sqliteFilePrefix = "state_"
	sqliteFileSuffix = ".db"
)

type sqliteContainer struct {
	db        *sql.DB
	container *sqlstore.Container
}

// SQLiteDatastore keeps one SQLite file per user under dir.
type SQLiteDatastore struct {
	dir string
	log waLog.Logger

	mu         sync.Mutex
	containers map[string]*sqliteContainer
}

func NewSQLiteDatastore(dir string, logger waLog.Logger) (*SQLiteDatastore, error) {
	if strings.TrimSpace(dir) == "" {
		dir = "auth_states"
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.Wrapf(err, "create auth directory %s", dir)
	}
	if logger == nil {
		logger = waLog.Noop
	}
	return &SQLiteDatastore{
		dir:        dir,
		log:        logger,
		containers: make(map[string]*sqliteContainer),
	}, nil
}

func (s *SQLiteDatastore) Path(userID string) string {
	return filepath.Join(s.dir, sqliteFilePrefix+userID+sqliteFileSuffix)
}

func (s *SQLiteDatastore) open(ctx context.Context, userID string) (*sqlstore.Container, error) {
	if err := validation.ValidateUserID(userID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.containers[userID]; ok {
		return c.container, nil
	}

	dsn := "file:" + s.Path(userID) + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", s.Path(userID))
	}
	db.SetMaxOpenConns(1)

	container := sqlstore.NewWithDB(db, "sqlite", s.log.Sub(userID))
	if err := container.Upgrade(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "upgrade %s", s.Path(userID))
	}
	s.containers[userID] = &sqliteContainer{db: db, container: container}
	return container, nil
}

func (s *SQLiteDatastore) Device(ctx context.Context, userID string) (*store.Device, error) {
	container, err := s.open(ctx, userID)
	if err != nil {
		return nil, err
	}
	return container.GetFirstDevice(ctx)
}

// Save makes sure the file of userID exists. whatsmeow writes the device
// rows itself once pairing completes.
func (s *SQLiteDatastore) Save(ctx context.Context, userID string, account string) error {
	_, err := s.open(ctx, userID)
	return err
}

// Delete closes the database of userID and removes its files.
func (s *SQLiteDatastore) Delete(ctx context.Context, userID string) error {
	if err := validation.ValidateUserID(userID); err != nil {
		return err
	}
	s.mu.Lock()
	c, ok := s.containers[userID]
	delete(s.containers, userID)
	s.mu.Unlock()

	if ok {
		if err := c.db.Close(); err != nil {
			s.log.Warnf("Closing database of %s: %v", userID, err)
		}
	}

	path := s.Path(userID)
	for _, name := range []string{path, path + "-wal", path + "-shm", path + "-journal"} {
		if err := os.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return errors.Wrapf(err, "remove %s", name)
		}
	}
	return nil
}

// List returns the users whose file holds a paired device.
func (s *SQLiteDatastore) List(ctx context.Context) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, sqliteFilePrefix+"*"+sqliteFileSuffix))
	if err != nil {
		return nil, err
	}

	var users []string
	for _, match := range matches {
		userID := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(match), sqliteFilePrefix), sqliteFileSuffix)
		if validation.ValidateUserID(userID) != nil {
			continue
		}
		container, err := s.open(ctx, userID)
		if err != nil {
			return nil, err
		}
		devices, err := container.GetAllDevices(ctx)
		if err != nil {
			return nil, errors.Wrapf(err, "read devices of %s", userID)
		}
		if len(devices) > 0 {
			users = append(users, userID)
		}
	}
	sort.Strings(users)
	return users, nil
}

func (s *SQLiteDatastore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs error
	for userID, c := range s.containers {
		if err := c.db.Close(); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
		delete(s.containers, userID)
	}
	return errs
}
