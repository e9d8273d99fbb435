package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	migrate "github.com/rubenv/sql-migrate"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/iamwavecut/warden/internal/db"
	"github.com/iamwavecut/warden/resources"
)

type sqliteClient struct {
	db    *sqlx.DB
	mutex sync.RWMutex
}

var _ db.Client = (*sqliteClient)(nil)

// NewSQLiteClient opens (creating when missing) the database file under dir and applies pending migrations.
func NewSQLiteClient(ctx context.Context, dir, file string) (*sqliteClient, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errors.Wrap(err, "create data dir")
	}
	dsn := filepath.Join(dir, file) + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	dbx, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open db")
	}
	dbx.SetMaxOpenConns(1)

	if err := dbx.PingContext(ctx); err != nil {
		_ = dbx.Close()
		return nil, errors.Wrap(err, "ping db")
	}

	migrationsSource := &migrate.EmbedFileSystemMigrationSource{
		FileSystem: resources.FS,
		Root:       "migrations",
	}
	n, err := migrate.ExecContext(ctx, dbx.DB, "sqlite3", migrationsSource, migrate.Up)
	if err != nil {
		_ = dbx.Close()
		return nil, errors.Wrap(err, "migrate up")
	}
	if n > 0 {
		log.WithField("object", "sqlite").Infof("applied %d migrations", n)
	}

	return &sqliteClient{db: dbx}, nil
}

func (c *sqliteClient) Close() error {
	return c.db.Close()
}

func (c *sqliteClient) GetSettings(ctx context.Context, chatID int64) (*db.Settings, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	settings := &db.Settings{}
	err := c.db.GetContext(ctx, settings, `
		SELECT id, antispam_enabled, block_links, flood_limit, warn_limit, language
		FROM chat_settings
		WHERE id = ?
	`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return db.DefaultSettings(chatID), nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get settings")
	}
	return settings, nil
}

func (c *sqliteClient) SetSettings(ctx context.Context, settings *db.Settings) error {
	if settings == nil {
		return errors.New("nil settings")
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()

	_, err := c.db.NamedExecContext(ctx, `
		INSERT INTO chat_settings (id, antispam_enabled, block_links, flood_limit, warn_limit, language)
		VALUES (:id, :antispam_enabled, :block_links, :flood_limit, :warn_limit, :language)
		ON CONFLICT(id) DO UPDATE SET
			antispam_enabled = excluded.antispam_enabled,
			block_links = excluded.block_links,
			flood_limit = excluded.flood_limit,
			warn_limit = excluded.warn_limit,
			language = excluded.language
	`, settings)
	return errors.Wrap(err, "set settings")
}
