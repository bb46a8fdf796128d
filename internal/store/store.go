// Package store implements the Persistent Store (C5): the
// bark_liquid_send table, keyed by payment_hash, with lifecycle flags,
// per SPEC_FULL.md §4.5. Backed by modernc.org/sqlite (teacher go.mod),
// schema-migrated via golang-migrate/migrate/v4 (teacher go.mod).
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/arklabs/bridge/internal/blog"
	"github.com/arklabs/bridge/internal/bridgeerrors"
	"github.com/arklabs/bridge/internal/vtxo"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

var log = blog.Logger(blog.SubsystemStore)

// LiquidSend is the row shape of bark_liquid_send, per SPEC_FULL.md §3.
type LiquidSend struct {
	ID            int64
	LiquidAddress string
	PaymentHash   vtxo.PaymentHash
	AmountSats    int64
	HTLCVtxoIDs   []vtxo.ID
	MovementID    int64
	Preimage      vtxo.Preimage
	Confirmed     bool
	CreatedAt     time.Time
	FinishedAt    *time.Time
}

// Store wraps a *sql.DB with the bark_liquid_send operations named in
// SPEC_FULL.md §4.5.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) a sqlite database at path and
// applies pending migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, bridgeerrors.Wrap(err, "open sqlite database")
	}

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, bridgeerrors.Wrap(err, "apply migrations")
	}

	return &Store{db: db}, nil
}

// NewWithDB wraps an already-open *sql.DB, applying pending migrations to
// it first - used by tests that want an in-memory database.
func NewWithDB(db *sql.DB) (*Store, error) {
	if err := migrateUp(db); err != nil {
		return nil, bridgeerrors.Wrap(err, "apply migrations")
	}
	return &Store{db: db}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return err
	}

	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return err
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// StoreNewPendingLiquidSend inserts a new row. A uniqueness violation on
// payment_hash is mapped to bridgeerrors.ErrDuplicatePayment per
// SPEC_FULL.md §4.5.
func (s *Store) StoreNewPendingLiquidSend(
	ctx context.Context, address string, hash vtxo.PaymentHash, amountSats int64,
	htlcVtxoIDs []vtxo.ID, movementID int64, preimage vtxo.Preimage,
) (*LiquidSend, error) {

	idsCol := encodeVtxoIDs(htlcVtxoIDs)

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO bark_liquid_send
			(liquid_address, payment_hash, amount_sats, htlc_vtxo_ids, movement_id, preimage)
		VALUES (?, ?, ?, ?, ?, ?)
	`, address, hash[:], amountSats, idsCol, movementID, preimage[:])
	if err != nil {
		if isUniqueViolation(err) {
			return nil, bridgeerrors.ErrDuplicatePayment
		}
		return nil, bridgeerrors.Wrap(err, "insert bark_liquid_send row")
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, bridgeerrors.Wrap(err, "read inserted row id")
	}

	log.Debugf("stored pending liquid send %x (row %d)", hash[:], id)

	return s.GetLiquidSend(ctx, hash)
}

// GetLiquidSend looks up a row by payment_hash. Returns (nil, nil) if no
// such row exists.
func (s *Store) GetLiquidSend(ctx context.Context, hash vtxo.PaymentHash) (*LiquidSend, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, liquid_address, payment_hash, amount_sats, htlc_vtxo_ids,
		       movement_id, preimage, confirmed, created_at, finished_at
		FROM bark_liquid_send WHERE payment_hash = ?
	`, hash[:])

	return scanLiquidSend(row)
}

// FinishLiquidSend sets finished_at and confirmed=1 for the payment under
// hash, per SPEC_FULL.md §4.5 (called on Completion).
func (s *Store) FinishLiquidSend(ctx context.Context, hash vtxo.PaymentHash) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE bark_liquid_send
		SET confirmed = 1, finished_at = strftime('%Y-%m-%d %H:%M:%f', 'now')
		WHERE payment_hash = ?
	`, hash[:])
	if err != nil {
		return bridgeerrors.Wrap(err, "finish bark_liquid_send row")
	}
	return nil
}

// MarkLiquidSendExited sets finished_at (but not confirmed) for an exited
// payment, per the Open Question decision in SPEC_FULL.md §9 (item 3):
// the row is retained for audit rather than deleted.
func (s *Store) MarkLiquidSendExited(ctx context.Context, hash vtxo.PaymentHash) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE bark_liquid_send
		SET finished_at = strftime('%Y-%m-%d %H:%M:%f', 'now')
		WHERE payment_hash = ?
	`, hash[:])
	if err != nil {
		return bridgeerrors.Wrap(err, "mark bark_liquid_send row exited")
	}
	return nil
}

// RemoveLiquidSend deletes the row for hash, used after a successful
// revocation per SPEC_FULL.md §4.5.
func (s *Store) RemoveLiquidSend(ctx context.Context, hash vtxo.PaymentHash) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM bark_liquid_send WHERE payment_hash = ?`, hash[:])
	if err != nil {
		return bridgeerrors.Wrap(err, "remove bark_liquid_send row")
	}
	return nil
}

func scanLiquidSend(row *sql.Row) (*LiquidSend, error) {
	var (
		ls           LiquidSend
		hashBytes    []byte
		idsCol       string
		preimageBytes []byte
		confirmed    int
		finishedAt   sql.NullTime
	)

	err := row.Scan(
		&ls.ID, &ls.LiquidAddress, &hashBytes, &ls.AmountSats, &idsCol,
		&ls.MovementID, &preimageBytes, &confirmed, &ls.CreatedAt, &finishedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, bridgeerrors.Wrap(err, "scan bark_liquid_send row")
	}

	copy(ls.PaymentHash[:], hashBytes)
	copy(ls.Preimage[:], preimageBytes)
	ls.Confirmed = confirmed != 0
	if finishedAt.Valid {
		t := finishedAt.Time
		ls.FinishedAt = &t
	}
	ls.HTLCVtxoIDs, err = decodeVtxoIDs(idsCol)
	if err != nil {
		return nil, bridgeerrors.Wrap(err, "decode htlc_vtxo_ids")
	}

	return &ls, nil
}

func encodeVtxoIDs(ids []vtxo.ID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = hex.EncodeToString(id[:])
	}
	return strings.Join(parts, ",")
}

func decodeVtxoIDs(col string) ([]vtxo.ID, error) {
	if col == "" {
		return nil, nil
	}
	parts := strings.Split(col, ",")
	ids := make([]vtxo.ID, len(parts))
	for i, p := range parts {
		b, err := hex.DecodeString(p)
		if err != nil || len(b) != 32 {
			return nil, fmt.Errorf("malformed vtxo id %q", p)
		}
		copy(ids[i][:], b)
	}
	return ids, nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "unique")
}
