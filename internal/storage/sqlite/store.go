// Package sqlite implements the credential store on SQLite, for
// single-binary deployments and local development.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"

	_ "github.com/mattn/go-sqlite3"

	"credhub/internal/common/errors"
	"credhub/internal/credentials"
	"credhub/internal/crypto"
)

const schema = `
CREATE TABLE IF NOT EXISTS credentials (
	id               TEXT PRIMARY KEY,
	team_id          TEXT NOT NULL,
	kind             TEXT NOT NULL,
	integration_id   TEXT NOT NULL,
	config           TEXT NOT NULL DEFAULT '{}',
	sensitive_config TEXT NOT NULL DEFAULT '',
	errors           TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMP NOT NULL,
	created_by       TEXT NOT NULL DEFAULT '',
	UNIQUE (team_id, kind, integration_id)
);
CREATE INDEX IF NOT EXISTS idx_credentials_kind ON credentials (kind);
CREATE INDEX IF NOT EXISTS idx_credentials_team_kind ON credentials (team_id, kind);
`

// Store is a SQLite-backed credential store. Sensitive configuration is
// encrypted before it touches the database file.
type Store struct {
	db  *sql.DB
	enc *crypto.Encryptor
}

// NewStore opens (and if needed bootstraps) the database at path
func NewStore(path string, enc *crypto.Encryptor) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.ConnectionError("failed to open sqlite database", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.ConnectionError("failed to connect to sqlite database", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.InternalError("failed to initialize sqlite schema", err)
	}
	return &Store{db: db, enc: enc}, nil
}

// Close releases the database handle
func (s *Store) Close() error {
	return s.db.Close()
}

// Get implements credentials.Store
func (s *Store) Get(ctx context.Context, teamID string, kind credentials.Kind, integrationID string) (*credentials.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, team_id, kind, integration_id, config, sensitive_config, errors, created_at, created_by
		 FROM credentials WHERE team_id = ? AND kind = ? AND integration_id = ?`,
		teamID, string(kind), integrationID)
	return s.scanRecord(row)
}

// GetByID implements credentials.Store
func (s *Store) GetByID(ctx context.Context, id string) (*credentials.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, team_id, kind, integration_id, config, sensitive_config, errors, created_at, created_by
		 FROM credentials WHERE id = ?`, id)
	return s.scanRecord(row)
}

// Upsert implements credentials.Store. An existing record on the same
// (team, kind, integration id) tuple keeps its identity and provenance.
func (s *Store) Upsert(ctx context.Context, rec *credentials.Record) (*credentials.Record, error) {
	configJSON, sensitiveEnc, err := s.encode(rec)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.ConnectionError("failed to begin transaction", err)
	}
	defer tx.Rollback()

	stored := rec.Clone()

	var existingID, existingCreatedBy string
	var existingCreatedAt sql.NullTime
	err = tx.QueryRowContext(ctx,
		`SELECT id, created_at, created_by FROM credentials
		 WHERE team_id = ? AND kind = ? AND integration_id = ?`,
		rec.TeamID, string(rec.Kind), rec.IntegrationID).
		Scan(&existingID, &existingCreatedAt, &existingCreatedBy)

	switch err {
	case nil:
		stored.ID = existingID
		if existingCreatedAt.Valid {
			stored.CreatedAt = existingCreatedAt.Time
		}
		if existingCreatedBy != "" {
			stored.CreatedBy = existingCreatedBy
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE credentials SET config = ?, sensitive_config = ?, errors = ?, created_by = ?
			 WHERE id = ?`,
			configJSON, sensitiveEnc, stored.Errors, stored.CreatedBy, stored.ID)
	case sql.ErrNoRows:
		_, err = tx.ExecContext(ctx,
			`INSERT INTO credentials (id, team_id, kind, integration_id, config, sensitive_config, errors, created_at, created_by)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			stored.ID, stored.TeamID, string(stored.Kind), stored.IntegrationID,
			configJSON, sensitiveEnc, stored.Errors, stored.CreatedAt, stored.CreatedBy)
	default:
		return nil, errors.ConnectionError("failed to look up credential", err)
	}
	if err != nil {
		return nil, errors.ConnectionError("failed to upsert credential", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.ConnectionError("failed to commit upsert", err)
	}
	return stored, nil
}

// Save implements credentials.Store. The tuple key is immutable; only
// configuration and state are written.
func (s *Store) Save(ctx context.Context, rec *credentials.Record) error {
	configJSON, sensitiveEnc, err := s.encode(rec)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE credentials SET config = ?, sensitive_config = ?, errors = ? WHERE id = ?`,
		configJSON, sensitiveEnc, rec.Errors, rec.ID)
	if err != nil {
		return errors.ConnectionError("failed to save credential", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.ConnectionError("failed to save credential", err)
	}
	if affected == 0 {
		return errors.NotFoundError("credential")
	}
	return nil
}

// ListByKinds implements credentials.Store
func (s *Store) ListByKinds(ctx context.Context, kinds []credentials.Kind) ([]*credentials.Record, error) {
	if len(kinds) == 0 {
		return nil, nil
	}

	query := `SELECT id, team_id, kind, integration_id, config, sensitive_config, errors, created_at, created_by
	          FROM credentials WHERE kind IN (?` // first placeholder
	args := []interface{}{string(kinds[0])}
	for _, kind := range kinds[1:] {
		query += ", ?"
		args = append(args, string(kind))
	}
	query += ")"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.ConnectionError("failed to list credentials", err)
	}
	defer rows.Close()
	return s.scanRecords(rows)
}

// ListByTeamAndKind implements credentials.Store
func (s *Store) ListByTeamAndKind(ctx context.Context, teamID string, kind credentials.Kind) ([]*credentials.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, team_id, kind, integration_id, config, sensitive_config, errors, created_at, created_by
		 FROM credentials WHERE team_id = ? AND kind = ?`,
		teamID, string(kind))
	if err != nil {
		return nil, errors.ConnectionError("failed to list credentials", err)
	}
	defer rows.Close()
	return s.scanRecords(rows)
}

// DomainClaimedByOtherTeam implements credentials.Store
func (s *Store) DomainClaimedByOtherTeam(ctx context.Context, domain string, teamID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM credentials
		 WHERE kind = ? AND team_id != ? AND json_extract(config, '$.domain') = ?`,
		string(credentials.KindEmail), teamID, domain).Scan(&count)
	if err != nil {
		return false, errors.ConnectionError("failed to check domain ownership", err)
	}
	return count > 0, nil
}

func (s *Store) encode(rec *credentials.Record) (configJSON, sensitiveEnc string, err error) {
	configBytes, err := json.Marshal(rec.Config)
	if err != nil {
		return "", "", errors.InternalError("failed to encode credential config", err)
	}
	sensitiveEnc, err = s.enc.EncryptMap(rec.SensitiveConfig)
	if err != nil {
		return "", "", err
	}
	return string(configBytes), sensitiveEnc, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *Store) scanRecord(row rowScanner) (*credentials.Record, error) {
	var rec credentials.Record
	var kind, configJSON, sensitiveEnc string

	err := row.Scan(&rec.ID, &rec.TeamID, &kind, &rec.IntegrationID,
		&configJSON, &sensitiveEnc, &rec.Errors, &rec.CreatedAt, &rec.CreatedBy)
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundError("credential")
	}
	if err != nil {
		return nil, errors.ConnectionError("failed to read credential", err)
	}

	rec.Kind = credentials.Kind(kind)
	if err := json.Unmarshal([]byte(configJSON), &rec.Config); err != nil {
		return nil, errors.InternalError("failed to decode credential config", err)
	}
	rec.SensitiveConfig, err = s.enc.DecryptMap(sensitiveEnc)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) scanRecords(rows *sql.Rows) ([]*credentials.Record, error) {
	var out []*credentials.Record
	for rows.Next() {
		rec, err := s.scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.ConnectionError("failed to iterate credentials", err)
	}
	return out, nil
}
