package whatsapp

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
)

const sessionRoutingTable = "session_routing"

// PostgresDatastore shares one whatsmeow container between all users and
// maps each user id to its device JID in the session_routing table.
type PostgresDatastore struct {
	db        *sql.DB
	container *sqlstore.Container
}

func NewPostgresDatastore(ctx context.Context, dsn string, logger waLog.Logger) (*PostgresDatastore, error) {
	if logger == nil {
		logger = waLog.Noop
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)
	db.SetConnMaxIdleTime(3 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ping postgres datastore")
	}

	container := sqlstore.NewWithDB(db, "pgx", logger)
	if err := container.Upgrade(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "upgrade whatsmeow schema")
	}

	_, err = db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+sessionRoutingTable+` (
		user_id TEXT PRIMARY KEY,
		whatsmeow_jid TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "create session routing table")
	}

	return &PostgresDatastore{db: db, container: container}, nil
}

func (p *PostgresDatastore) Path(userID string) string {
	return sessionRoutingTable + "/" + userID
}

func (p *PostgresDatastore) lookup(ctx context.Context, userID string) (types.JID, bool, error) {
	var raw sql.NullString
	err := p.db.QueryRowContext(ctx, `SELECT whatsmeow_jid FROM `+sessionRoutingTable+` WHERE user_id = $1`, userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return types.EmptyJID, false, nil
	}
	if err != nil {
		return types.EmptyJID, false, err
	}
	if !raw.Valid || raw.String == "" {
		return types.EmptyJID, false, nil
	}
	jid, err := types.ParseJID(raw.String)
	if err != nil {
		return types.EmptyJID, false, errors.Wrapf(err, "parse routed jid of %s", userID)
	}
	return jid, true, nil
}

func (p *PostgresDatastore) Device(ctx context.Context, userID string) (*store.Device, error) {
	jid, ok, err := p.lookup(ctx, userID)
	if err != nil {
		return nil, err
	}
	if ok {
		device, err := p.container.GetDevice(ctx, jid)
		if err != nil {
			return nil, err
		}
		if device != nil {
			return device, nil
		}
	}
	return p.container.NewDevice(), nil
}

func (p *PostgresDatastore) Save(ctx context.Context, userID string, account string) error {
	if _, err := types.ParseJID(account); err != nil {
		return errors.Wrapf(err, "parse account of %s", userID)
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO `+sessionRoutingTable+` (user_id, whatsmeow_jid, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT(user_id) DO UPDATE
		SET whatsmeow_jid = EXCLUDED.whatsmeow_jid, updated_at = NOW()
	`, userID, account)
	return err
}

// Delete removes the device rows and the routing row of userID.
func (p *PostgresDatastore) Delete(ctx context.Context, userID string) error {
	jid, ok, err := p.lookup(ctx, userID)
	if err != nil {
		return err
	}
	if ok {
		device, err := p.container.GetDevice(ctx, jid)
		if err != nil {
			return err
		}
		if device != nil {
			if err := device.Delete(ctx); err != nil {
				return errors.Wrapf(err, "delete device of %s", userID)
			}
		}
	}
	_, err = p.db.ExecContext(ctx, `DELETE FROM `+sessionRoutingTable+` WHERE user_id = $1`, userID)
	return err
}

func (p *PostgresDatastore) List(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT user_id FROM `+sessionRoutingTable+` WHERE whatsmeow_jid IS NOT NULL ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, err
		}
		users = append(users, userID)
	}
	return users, rows.Err()
}

func (p *PostgresDatastore) Close() error {
	return p.db.Close()
}
