package sqlite

import (
	"context"
	"database/sql" // basic sql
	"errors"
	"fmt"

	"github.com/dappnode/validator-duties/internal/application/domain"
	_ "github.com/mattn/go-sqlite3" // additional driver for sqlite
)

// Implements ports.SlashingStore

type SQLiteStorage struct {
	DB *sql.DB
}

func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	// One writer keeps the max() guards in the upserts race free.
	db.SetMaxOpenConns(1)
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate sqlite db: %w", err)
	}
	return &SQLiteStorage{DB: db}, nil
}

func (s *SQLiteStorage) Close() error {
	return s.DB.Close()
}

func migrate(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS slashing_records (
			pubkey BLOB PRIMARY KEY,
			max_target_epoch INTEGER NOT NULL DEFAULT 0,
			max_source_epoch INTEGER NOT NULL DEFAULT 0,
			max_proposal_slot INTEGER NOT NULL DEFAULT 0,
			has_attested BOOLEAN NOT NULL DEFAULT 0,
			has_proposed BOOLEAN NOT NULL DEFAULT 0,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

// LoadRecord returns the stored record of pubkey. The bool is false if none exists.
func (s *SQLiteStorage) LoadRecord(ctx context.Context, pubkey domain.BLSPubKey) (domain.SlashingRecord, bool, error) {
	var (
		r                  domain.SlashingRecord
		target, source     uint64
		proposal           uint64
		attested, proposed bool
	)
	err := s.DB.QueryRowContext(ctx,
		`SELECT max_target_epoch, max_source_epoch, max_proposal_slot, has_attested, has_proposed
		FROM slashing_records WHERE pubkey = ?;`,
		pubkey[:],
	).Scan(&target, &source, &proposal, &attested, &proposed)
	if errors.Is(err, sql.ErrNoRows) {
		return r, false, nil
	}
	if err != nil {
		return r, false, fmt.Errorf("failed to load slashing record: %w", err)
	}
	r.MaxTargetEpoch = domain.Epoch(target)
	r.MaxSourceEpoch = domain.Epoch(source)
	r.MaxProposalSlot = domain.Slot(proposal)
	r.HasAttested = attested
	r.HasProposed = proposed
	return r, true, nil
}

// SaveRecord upserts the record of pubkey. Stored maxima never decrease, even if
// an older record is written.
func (s *SQLiteStorage) SaveRecord(ctx context.Context, pubkey domain.BLSPubKey, record domain.SlashingRecord) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO slashing_records (pubkey, max_target_epoch, max_source_epoch, max_proposal_slot, has_attested, has_proposed)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(pubkey) DO UPDATE SET
			max_target_epoch=max(max_target_epoch, excluded.max_target_epoch),
			max_source_epoch=max(max_source_epoch, excluded.max_source_epoch),
			max_proposal_slot=max(max_proposal_slot, excluded.max_proposal_slot),
			has_attested=(has_attested OR excluded.has_attested),
			has_proposed=(has_proposed OR excluded.has_proposed),
			updated_at=CURRENT_TIMESTAMP;`,
		pubkey[:], uint64(record.MaxTargetEpoch), uint64(record.MaxSourceEpoch), uint64(record.MaxProposalSlot),
		record.HasAttested, record.HasProposed,
	)
	if err != nil {
		return fmt.Errorf("failed to save slashing record: %w", err)
	}
	return nil
}
