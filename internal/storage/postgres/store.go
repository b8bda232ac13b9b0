// Package postgres implements the credential store on PostgreSQL via
// pgx, for multi-instance deployments.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"credhub/internal/common/errors"
	"credhub/internal/credentials"
	"credhub/internal/crypto"
)

const schema = `
CREATE TABLE IF NOT EXISTS credentials (
	id               UUID PRIMARY KEY,
	team_id          TEXT NOT NULL,
	kind             TEXT NOT NULL,
	integration_id   TEXT NOT NULL,
	config           JSONB NOT NULL DEFAULT '{}',
	sensitive_config TEXT NOT NULL DEFAULT '',
	errors           TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL,
	created_by       TEXT NOT NULL DEFAULT '',
	UNIQUE (team_id, kind, integration_id)
);
CREATE INDEX IF NOT EXISTS idx_credentials_kind ON credentials (kind);
CREATE INDEX IF NOT EXISTS idx_credentials_team_kind ON credentials (team_id, kind);
`

// Store is a PostgreSQL-backed credential store. Sensitive configuration
// is encrypted before it reaches the database.
type Store struct {
	pool *pgxpool.Pool
	enc  *crypto.Encryptor
}

// NewStore connects to the database and bootstraps the schema
func NewStore(ctx context.Context, dsn string, enc *crypto.Encryptor) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.ConnectionError("failed to create postgres pool", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.ConnectionError("failed to connect to postgres", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, errors.InternalError("failed to initialize postgres schema", err)
	}
	return &Store{pool: pool, enc: enc}, nil
}

// Close releases the connection pool
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

const selectColumns = `id, team_id, kind, integration_id, config, sensitive_config, errors, created_at, created_by`

// Get implements credentials.Store
func (s *Store) Get(ctx context.Context, teamID string, kind credentials.Kind, integrationID string) (*credentials.Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM credentials
		 WHERE team_id = $1 AND kind = $2 AND integration_id = $3`,
		teamID, string(kind), integrationID)
	return s.scanRecord(row)
}

// GetByID implements credentials.Store
func (s *Store) GetByID(ctx context.Context, id string) (*credentials.Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM credentials WHERE id = $1`, id)
	return s.scanRecord(row)
}

// Upsert implements credentials.Store. The conflict clause keeps the
// existing row's identity and provenance while replacing its state.
func (s *Store) Upsert(ctx context.Context, rec *credentials.Record) (*credentials.Record, error) {
	configJSON, sensitiveEnc, err := s.encode(rec)
	if err != nil {
		return nil, err
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO credentials (id, team_id, kind, integration_id, config, sensitive_config, errors, created_at, created_by)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (team_id, kind, integration_id) DO UPDATE SET
		   config = EXCLUDED.config,
		   sensitive_config = EXCLUDED.sensitive_config,
		   errors = EXCLUDED.errors,
		   created_by = CASE WHEN credentials.created_by = '' THEN EXCLUDED.created_by ELSE credentials.created_by END
		 RETURNING `+selectColumns,
		rec.ID, rec.TeamID, string(rec.Kind), rec.IntegrationID,
		configJSON, sensitiveEnc, rec.Errors, rec.CreatedAt, rec.CreatedBy)
	return s.scanRecord(row)
}

// Save implements credentials.Store. The tuple key is immutable; only
// configuration and state are written.
func (s *Store) Save(ctx context.Context, rec *credentials.Record) error {
	configJSON, sensitiveEnc, err := s.encode(rec)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE credentials SET config = $1, sensitive_config = $2, errors = $3 WHERE id = $4`,
		configJSON, sensitiveEnc, rec.Errors, rec.ID)
	if err != nil {
		return errors.ConnectionError("failed to save credential", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFoundError("credential")
	}
	return nil
}

// ListByKinds implements credentials.Store
func (s *Store) ListByKinds(ctx context.Context, kinds []credentials.Kind) ([]*credentials.Record, error) {
	if len(kinds) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(kinds))
	args := make([]interface{}, len(kinds))
	for i, kind := range kinds {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = string(kind)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+selectColumns+` FROM credentials WHERE kind IN (`+strings.Join(placeholders, ", ")+`)`,
		args...)
	if err != nil {
		return nil, errors.ConnectionError("failed to list credentials", err)
	}
	defer rows.Close()
	return s.scanRecords(rows)
}

// ListByTeamAndKind implements credentials.Store
func (s *Store) ListByTeamAndKind(ctx context.Context, teamID string, kind credentials.Kind) ([]*credentials.Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+selectColumns+` FROM credentials WHERE team_id = $1 AND kind = $2`,
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
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM credentials
		 WHERE kind = $1 AND team_id != $2 AND config->>'domain' = $3`,
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

func (s *Store) scanRecord(row pgx.Row) (*credentials.Record, error) {
	var rec credentials.Record
	var kind, sensitiveEnc string
	var configJSON []byte

	err := row.Scan(&rec.ID, &rec.TeamID, &kind, &rec.IntegrationID,
		&configJSON, &sensitiveEnc, &rec.Errors, &rec.CreatedAt, &rec.CreatedBy)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFoundError("credential")
	}
	if err != nil {
		return nil, errors.ConnectionError("failed to read credential", err)
	}

	rec.Kind = credentials.Kind(kind)
	if err := json.Unmarshal(configJSON, &rec.Config); err != nil {
		return nil, errors.InternalError("failed to decode credential config", err)
	}
	rec.SensitiveConfig, err = s.enc.DecryptMap(sensitiveEnc)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) scanRecords(rows pgx.Rows) ([]*credentials.Record, error) {
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
