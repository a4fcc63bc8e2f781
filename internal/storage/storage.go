// Package storage persists OAuth credentials, one table or bucket per platform.
package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/young1lin/research2post/internal/config"
	"github.com/young1lin/research2post/internal/domain"
	"github.com/young1lin/research2post/internal/models"
)

// Table names where a platform's credentials live and which column holds the
// platform-side user identity.
type Table struct {
	Name           string
	IdentityColumn string
}

// CredentialStore supports lookup by user and last-write-wins upsert.
type CredentialStore interface {
	Get(ctx context.Context, platform, userID string) (models.Credential, bool, error)
	Upsert(ctx context.Context, platform string, cred models.Credential) error
	Close() error
}

// Open builds the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StorageConfig, tables map[string]Table, log *zap.Logger) (CredentialStore, error) {
	switch cfg.Driver {
	case "", "bolt":
		s, err := NewBoltStore(cfg.Path, tables, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := NewPostgresStore(cfg.DSN, tables, log)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil
	default:
		return nil, domain.Configuration(fmt.Sprintf("unknown storage driver %q", cfg.Driver))
	}
}

func lookupTable(tables map[string]Table, platform string) (Table, error) {
	t, ok := tables[platform]
	if !ok {
		return Table{}, domain.Configuration("no credential table for platform " + platform)
	}
	return t, nil
}
