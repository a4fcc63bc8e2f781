package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/young1lin/research2post/internal/models"
	"github.com/young1lin/research2post/pkg/logger"
)

// BoltStore keeps credentials in an embedded bbolt file, one bucket per
// platform keyed by user id.
type BoltStore struct {
	db     *bbolt.DB
	tables map[string]Table
}

// NewBoltStore opens (or creates) the database at path, its parent
// directory and its buckets.
func NewBoltStore(path string, tables map[string]Table, log *zap.Logger) (*BoltStore, error) {
	if path == "" {
		path = "research2post.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create credential store directory: %w", err)
	}
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open credential store: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, t := range tables {
			if _, err := tx.CreateBucketIfNotExists([]byte(t.Name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create credential buckets: %w", err)
	}

	logger.OrNamed(log, "storage").Info("credential store initialized",
		zap.String("driver", "bolt"),
		zap.String("path", path),
		zap.Int("platforms", len(tables)),
	)
	return &BoltStore{db: db, tables: tables}, nil
}

// Upsert replaces any credential stored for cred.UserID.
func (s *BoltStore) Upsert(_ context.Context, platform string, cred models.Credential) error {
	t, err := lookupTable(s.tables, platform)
	if err != nil {
		return err
	}
	data, err := json.Marshal(cred)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(t.Name)).Put([]byte(cred.UserID), data)
	})
}

// Get returns the credential for userID and whether one exists.
func (s *BoltStore) Get(_ context.Context, platform, userID string) (models.Credential, bool, error) {
	t, err := lookupTable(s.tables, platform)
	if err != nil {
		return models.Credential{}, false, err
	}

	var (
		cred  models.Credential
		found bool
	)
	err = s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(t.Name)).Get([]byte(userID))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &cred)
	})
	if err != nil {
		return models.Credential{}, false, fmt.Errorf("read credential: %w", err)
	}
	return cred, found, nil
}

// Close closes the database connection
func (s *BoltStore) Close() error {
	return s.db.Close()
}
