package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"sort"
	"time"

	"github.com/agentstation/utc"
	"github.com/mattn/go-sqlite3"

	"github.com/agentstation/reclaim/pkg/errors"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteLedger is a Ledger persisted in a SQLite database.
// Owner rows carry a version that every claim bumps; the claims table
// has the asset id as primary key, so a second claim for an asset is
// rejected by the database even if two processes race.
type SQLiteLedger struct {
	db *sql.DB
}

// OpenSQLite creates or opens a ledger database at path.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
func OpenSQLite(path string) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to ledger database: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &SQLiteLedger{db: db}, nil
}

// NewSQLite wraps an already configured database handle. The schema is
// assumed to exist.
func NewSQLite(db *sql.DB) *SQLiteLedger {
	return &SQLiteLedger{db: db}
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// Close closes the database connection.
func (l *SQLiteLedger) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Ping implements Ledger.
func (l *SQLiteLedger) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

// UpsertOwner inserts an owner or updates its name, email and identifiers,
// bumping the version. Existing asset mappings are kept; new ones are added.
func (l *SQLiteLedger) UpsertOwner(ctx context.Context, o OwnerRecord) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WrapResource("begin", "ledger", o.OwnerID, err)
	}
	defer func() { _ = tx.Rollback() }()

	now := timestamp()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO owners (owner_id, display_name, email, version, updated_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(owner_id) DO UPDATE SET
			display_name = excluded.display_name,
			email = excluded.email,
			version = owners.version + 1,
			updated_at = excluded.updated_at`,
		o.OwnerID, o.DisplayName, o.Email, now); err != nil {
		return errors.WrapResource("upsert", "owner", o.OwnerID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM owner_identifiers WHERE owner_id = ?`, o.OwnerID); err != nil {
		return errors.WrapResource("upsert", "owner", o.OwnerID, err)
	}
	for _, id := range o.KnownIdentifiers {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO owner_identifiers (owner_id, identifier) VALUES (?, ?)`,
			o.OwnerID, id); err != nil {
			return errors.WrapResource("upsert", "owner", o.OwnerID, err)
		}
	}
	for assetID, loc := range o.Assets {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO owner_assets (owner_id, asset_id, location) VALUES (?, ?, ?)
			ON CONFLICT(owner_id, asset_id) DO UPDATE SET location = excluded.location`,
			o.OwnerID, assetID, loc); err != nil {
			return errors.WrapResource("upsert", "owner", o.OwnerID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.WrapResource("commit", "ledger", o.OwnerID, err)
	}
	return nil
}

// SnapshotOwners implements Ledger.
func (l *SQLiteLedger) SnapshotOwners(ctx context.Context) ([]OwnerRecord, error) {
	owners := make(map[string]*OwnerRecord)

	rows, err := l.db.QueryContext(ctx, `SELECT owner_id, display_name, email, version FROM owners`)
	if err != nil {
		return nil, errors.WrapResource("snapshot", "ledger", "", err)
	}
	for rows.Next() {
		o := &OwnerRecord{Assets: make(map[string]string)}
		if err := rows.Scan(&o.OwnerID, &o.DisplayName, &o.Email, &o.Version); err != nil {
			rows.Close()
			return nil, errors.WrapResource("snapshot", "ledger", "", err)
		}
		owners[o.OwnerID] = o
	}
	if err := closeRows(rows); err != nil {
		return nil, errors.WrapResource("snapshot", "ledger", "", err)
	}

	if err := l.scanPairs(ctx, `SELECT owner_id, identifier FROM owner_identifiers ORDER BY owner_id, identifier`,
		func(ownerID, id string) {
			if o, ok := owners[ownerID]; ok {
				o.KnownIdentifiers = append(o.KnownIdentifiers, id)
			}
		}); err != nil {
		return nil, err
	}
	if err := l.scanTriples(ctx, `SELECT owner_id, asset_id, location FROM owner_assets`,
		func(ownerID, assetID, loc string) {
			if o, ok := owners[ownerID]; ok {
				o.Assets[assetID] = loc
			}
		}); err != nil {
		return nil, err
	}

	out := make([]OwnerRecord, 0, len(owners))
	for _, o := range owners {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OwnerID < out[j].OwnerID })
	return out, nil
}

// Owner implements Ledger.
func (l *SQLiteLedger) Owner(ctx context.Context, ownerID string) (OwnerRecord, error) {
	o := OwnerRecord{Assets: make(map[string]string)}
	err := l.db.QueryRowContext(ctx,
		`SELECT owner_id, display_name, email, version FROM owners WHERE owner_id = ?`, ownerID).
		Scan(&o.OwnerID, &o.DisplayName, &o.Email, &o.Version)
	if err == sql.ErrNoRows {
		return OwnerRecord{}, errors.NewNotFoundError("owner", ownerID)
	}
	if err != nil {
		return OwnerRecord{}, errors.WrapResource("read", "owner", ownerID, err)
	}

	if err := l.scanPairs(ctx, `SELECT owner_id, identifier FROM owner_identifiers WHERE owner_id = ? ORDER BY identifier`,
		func(_, id string) { o.KnownIdentifiers = append(o.KnownIdentifiers, id) }, ownerID); err != nil {
		return OwnerRecord{}, err
	}
	if err := l.scanTriples(ctx, `SELECT owner_id, asset_id, location FROM owner_assets WHERE owner_id = ?`,
		func(_, assetID, loc string) { o.Assets[assetID] = loc }, ownerID); err != nil {
		return OwnerRecord{}, err
	}
	return o, nil
}

// ClaimAsset implements Ledger. The version check, the owner mapping and
// the claim row are written in one transaction.
func (l *SQLiteLedger) ClaimAsset(ctx context.Context, c Claim) (int64, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.WrapResource("begin", "ledger", c.AssetID, err)
	}
	defer func() { _ = tx.Rollback() }()

	var version int64
	err = tx.QueryRowContext(ctx, `SELECT version FROM owners WHERE owner_id = ?`, c.OwnerID).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, errors.NewNotFoundError("owner", c.OwnerID)
	}
	if err != nil {
		return 0, errors.WrapResource("claim", "ledger", c.AssetID, err)
	}
	if version != c.ExpectedVersion {
		return 0, errors.NewLedgerConflictError(c.OwnerID, c.AssetID, c.ExpectedVersion, version)
	}

	var claimedBy string
	err = tx.QueryRowContext(ctx, `SELECT owner_id FROM claims WHERE asset_id = ?`, c.AssetID).Scan(&claimedBy)
	switch {
	case err == nil:
		return 0, fmt.Errorf("asset %s already claimed by owner %s: %w", c.AssetID, claimedBy, errors.ErrAlreadyExists)
	case err != sql.ErrNoRows:
		return 0, errors.WrapResource("claim", "ledger", c.AssetID, err)
	}

	now := timestamp()
	res, err := tx.ExecContext(ctx,
		`UPDATE owners SET version = version + 1, updated_at = ? WHERE owner_id = ? AND version = ?`,
		now, c.OwnerID, c.ExpectedVersion)
	if err != nil {
		return 0, errors.WrapResource("claim", "ledger", c.AssetID, err)
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		var actual int64
		_ = tx.QueryRowContext(ctx, `SELECT version FROM owners WHERE owner_id = ?`, c.OwnerID).Scan(&actual)
		return 0, errors.NewLedgerConflictError(c.OwnerID, c.AssetID, c.ExpectedVersion, actual)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO owner_assets (owner_id, asset_id, location) VALUES (?, ?, ?)
		ON CONFLICT(owner_id, asset_id) DO UPDATE SET location = excluded.location`,
		c.OwnerID, c.AssetID, c.Location); err != nil {
		return 0, errors.WrapResource("claim", "ledger", c.AssetID, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO claims (asset_id, owner_id, location, source, confidence, state, run_id, action_id, claimed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.AssetID, c.OwnerID, c.Location, c.Source, c.Confidence, string(ClaimRecorded), c.RunID, c.ActionID, now); err != nil {
		if isConstraint(err) {
			return 0, fmt.Errorf("asset %s already claimed: %w", c.AssetID, errors.ErrAlreadyExists)
		}
		return 0, errors.WrapResource("claim", "ledger", c.AssetID, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.WrapResource("commit", "ledger", c.AssetID, err)
	}
	return c.ExpectedVersion + 1, nil
}

const claimColumns = `asset_id, owner_id, location, source, confidence, state, run_id, action_id, claimed_at, committed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClaim(row rowScanner) (ClaimRecord, error) {
	var (
		r           ClaimRecord
		state       string
		claimedAt   string
		committedAt sql.NullString
	)
	if err := row.Scan(&r.AssetID, &r.OwnerID, &r.Location, &r.Source, &r.Confidence, &state, &r.RunID, &r.ActionID, &claimedAt, &committedAt); err != nil {
		return ClaimRecord{}, err
	}
	r.State = ClaimState(state)
	r.ClaimedAt = parseTimestamp(claimedAt)
	if committedAt.Valid {
		r.CommittedAt = parseTimestamp(committedAt.String)
	}
	return r, nil
}

// HasCommitted implements Ledger.
func (l *SQLiteLedger) HasCommitted(ctx context.Context, assetID string) (*ClaimRecord, error) {
	r, err := scanClaim(l.db.QueryRowContext(ctx, `SELECT `+claimColumns+` FROM claims WHERE asset_id = ?`, assetID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WrapResource("read", "claim", assetID, err)
	}
	return &r, nil
}

// PendingClaims implements Ledger.
func (l *SQLiteLedger) PendingClaims(ctx context.Context) ([]ClaimRecord, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT `+claimColumns+` FROM claims WHERE state = ? ORDER BY asset_id`, string(ClaimRecorded))
	if err != nil {
		return nil, errors.WrapResource("read", "claims", "", err)
	}
	var out []ClaimRecord
	for rows.Next() {
		r, err := scanClaim(rows)
		if err != nil {
			rows.Close()
			return nil, errors.WrapResource("read", "claims", "", err)
		}
		out = append(out, r)
	}
	if err := closeRows(rows); err != nil {
		return nil, errors.WrapResource("read", "claims", "", err)
	}
	return out, nil
}

// Commit implements Ledger.
func (l *SQLiteLedger) Commit(ctx context.Context, assetID string) error {
	res, err := l.db.ExecContext(ctx,
		`UPDATE claims SET state = ?, committed_at = COALESCE(committed_at, ?) WHERE asset_id = ?`,
		string(ClaimCommitted), timestamp(), assetID)
	if err != nil {
		return errors.WrapResource("commit", "claim", assetID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFoundError("claim", assetID)
	}
	return nil
}

func (l *SQLiteLedger) scanPairs(ctx context.Context, query string, fn func(a, b string), args ...any) error {
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return errors.WrapResource("snapshot", "ledger", "", err)
	}
	for rows.Next() {
		var a, b string
		if err := rows.Scan(&a, &b); err != nil {
			rows.Close()
			return errors.WrapResource("snapshot", "ledger", "", err)
		}
		fn(a, b)
	}
	if err := closeRows(rows); err != nil {
		return errors.WrapResource("snapshot", "ledger", "", err)
	}
	return nil
}

func (l *SQLiteLedger) scanTriples(ctx context.Context, query string, fn func(a, b, c string), args ...any) error {
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return errors.WrapResource("snapshot", "ledger", "", err)
	}
	for rows.Next() {
		var a, b, c string
		if err := rows.Scan(&a, &b, &c); err != nil {
			rows.Close()
			return errors.WrapResource("snapshot", "ledger", "", err)
		}
		fn(a, b, c)
	}
	if err := closeRows(rows); err != nil {
		return errors.WrapResource("snapshot", "ledger", "", err)
	}
	return nil
}

func closeRows(rows *sql.Rows) error {
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	return rows.Close()
}

func isConstraint(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}

func timestamp() string {
	return utc.Now().Time.Format(time.RFC3339Nano)
}

func parseTimestamp(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
