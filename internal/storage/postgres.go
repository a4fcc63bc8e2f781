package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/young1lin/research2post/internal/domain"
	"github.com/young1lin/research2post/internal/models"
	"github.com/young1lin/research2post/pkg/logger"
)

const (
	defaultDBMaxOpenConns    = 10
	defaultDBMaxIdleConns    = 5
	defaultDBConnMaxLifetime = 30 * time.Minute
	defaultDBPingTimeout     = 5 * time.Second
)

// PostgresStore keeps credentials in per-platform tables through the pgx
// database/sql driver.
type PostgresStore struct {
	db     *sql.DB
	tables map[string]Table
	log    *zap.Logger
}

func NewPostgresStore(dsn string, tables map[string]Table, log *zap.Logger) (*PostgresStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, domain.Configuration("storage.dsn is required when storage.driver=postgres")
	}
	for _, t := range tables {
		if !validIdent(t.Name) || !validIdent(t.IdentityColumn) {
			return nil, domain.Configuration(fmt.Sprintf("invalid table name %q/%q", t.Name, t.IdentityColumn))
		}
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(defaultDBMaxOpenConns)
	db.SetMaxIdleConns(defaultDBMaxIdleConns)
	db.SetConnMaxLifetime(defaultDBConnMaxLifetime)

	return &PostgresStore{db: db, tables: tables, log: logger.OrNamed(log, "storage")}, nil
}

// Migrate pings the database and creates the credential tables if missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, defaultDBPingTimeout)
	defer cancel()
	if err := s.db.PingContext(pingCtx); err != nil {
		return domain.Upstream("failed to connect to postgres", err)
	}

	for _, t := range s.tables {
		if _, err := s.db.ExecContext(ctx, createTableSQL(t)); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
	}
	s.log.Info("credential store initialized", zap.String("driver", "postgres"), zap.Int("platforms", len(s.tables)))
	return nil
}

func (s *PostgresStore) Upsert(ctx context.Context, platform string, cred models.Credential) error {
	t, err := lookupTable(s.tables, platform)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, upsertSQL(t), cred.UserID, cred.AccessToken, cred.PlatformIdentity); err != nil {
		return fmt.Errorf("upsert %s credential: %w", platform, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, platform, userID string) (models.Credential, bool, error) {
	t, err := lookupTable(s.tables, platform)
	if err != nil {
		return models.Credential{}, false, err
	}

	cred := models.Credential{UserID: userID}
	err = s.db.QueryRowContext(ctx, selectSQL(t), userID).Scan(&cred.AccessToken, &cred.PlatformIdentity)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Credential{}, false, nil
	}
	if err != nil {
		return models.Credential{}, false, fmt.Errorf("read %s credential: %w", platform, err)
	}
	return cred, true, nil
}

func (s *PostgresStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Identifiers are checked by validIdent before they are interpolated.
func createTableSQL(t Table) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	user_id TEXT PRIMARY KEY,
	access_token TEXT NOT NULL,
	%s TEXT NOT NULL
)`, t.Name, t.IdentityColumn)
}

func upsertSQL(t Table) string {
	return fmt.Sprintf(`INSERT INTO %s (user_id, access_token, %s) VALUES ($1, $2, $3)
ON CONFLICT (user_id) DO UPDATE SET access_token = EXCLUDED.access_token, %s = EXCLUDED.%s`,
		t.Name, t.IdentityColumn, t.IdentityColumn, t.IdentityColumn)
}

func selectSQL(t Table) string {
	return fmt.Sprintf(`SELECT access_token, %s FROM %s WHERE user_id = $1`, t.IdentityColumn, t.Name)
}

func validIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
