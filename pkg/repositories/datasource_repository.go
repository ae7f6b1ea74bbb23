// Package repositories provides PostgreSQL-backed persistence for the
// gateway's application store.
package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sqlbridge-io/sqlbridge/pkg/apperrors"
	"github.com/sqlbridge-io/sqlbridge/pkg/database"
	"github.com/sqlbridge-io/sqlbridge/pkg/models"
)

// DatasourceRepository defines data access for registered datasources.
// Config is stored as encrypted TEXT. Encryption and decryption happen in the
// service layer; the repository only ever sees ciphertext.
type DatasourceRepository interface {
	// Create inserts a new datasource and fills in its generated ID.
	Create(ctx context.Context, ds *models.Datasource, encryptedConfig string) error

	// GetByID retrieves a datasource by ID. Returns the model (with any
	// persisted introspection cache) and the encrypted config.
	GetByID(ctx context.Context, id uuid.UUID) (*models.Datasource, string, error)

	// GetByName retrieves a datasource by its unique name.
	GetByName(ctx context.Context, name string) (*models.Datasource, string, error)

	// List retrieves all live datasources, newest first.
	List(ctx context.Context) ([]*models.Datasource, []string, error)

	// Update replaces name, dialect and config, and clears the persisted
	// introspection cache since it may describe a different database.
	Update(ctx context.Context, id uuid.UUID, name, dialect, encryptedConfig string) error

	// Rename updates only the name of a datasource.
	Rename(ctx context.Context, id uuid.UUID, name string) error

	// Delete soft-deletes a datasource. The row survives for audit.
	Delete(ctx context.Context, id uuid.UUID) error

	// UpdateTableList persists the cached list of table names.
	UpdateTableList(ctx context.Context, id uuid.UUID, tables []string) error

	// ReplaceSchemaInfo overwrites the whole persisted schema cache.
	ReplaceSchemaInfo(ctx context.Context, id uuid.UUID, schema map[string]*models.TableStructure) error

	// MergeTableStructure upserts one table's structure into the persisted
	// schema cache. Last write wins per table.
	MergeTableStructure(ctx context.Context, id uuid.UUID, structure *models.TableStructure) error
}

type datasourceRepository struct {
	db *database.DB
}

// NewDatasourceRepository creates a new datasource repository.
func NewDatasourceRepository(db *database.DB) DatasourceRepository {
	return &datasourceRepository{db: db}
}

const datasourceColumns = `id, name, dialect, config, table_list, schema_info, created_at, updated_at`

func (r *datasourceRepository) Create(ctx context.Context, ds *models.Datasource, encryptedConfig string) error {
	now := time.Now()
	ds.CreatedAt = now
	ds.UpdatedAt = now

	query := `
		INSERT INTO bridge_datasources (name, dialect, config, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	err := r.db.QueryRow(ctx, query,
		ds.Name,
		ds.Dialect,
		encryptedConfig,
		ds.CreatedAt,
		ds.UpdatedAt,
	).Scan(&ds.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: datasource named %q already exists", apperrors.ErrConflict, ds.Name)
		}
		return fmt.Errorf("failed to create datasource: %w", err)
	}
	return nil
}

func (r *datasourceRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Datasource, string, error) {
	query := `
		SELECT ` + datasourceColumns + `
		FROM bridge_datasources
		WHERE id = $1 AND deleted_at IS NULL`

	return r.scanOne(r.db.QueryRow(ctx, query, id))
}

func (r *datasourceRepository) GetByName(ctx context.Context, name string) (*models.Datasource, string, error) {
	query := `
		SELECT ` + datasourceColumns + `
		FROM bridge_datasources
		WHERE name = $1 AND deleted_at IS NULL`

	return r.scanOne(r.db.QueryRow(ctx, query, name))
}

func (r *datasourceRepository) List(ctx context.Context) ([]*models.Datasource, []string, error) {
	query := `
		SELECT ` + datasourceColumns + `
		FROM bridge_datasources
		WHERE deleted_at IS NULL
		ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list datasources: %w", err)
	}
	defer rows.Close()

	var datasources []*models.Datasource
	var encryptedConfigs []string
	for rows.Next() {
		ds, encryptedConfig, err := r.scanOne(rows)
		if err != nil {
			return nil, nil, err
		}
		datasources = append(datasources, ds)
		encryptedConfigs = append(encryptedConfigs, encryptedConfig)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("error iterating datasources: %w", err)
	}
	return datasources, encryptedConfigs, nil
}

func (r *datasourceRepository) Update(ctx context.Context, id uuid.UUID, name, dialect, encryptedConfig string) error {
	query := `
		UPDATE bridge_datasources
		SET name = $2, dialect = $3, config = $4,
		    table_list = NULL, schema_info = NULL, updated_at = $5
		WHERE id = $1 AND deleted_at IS NULL`

	result, err := r.db.Exec(ctx, query, id, name, dialect, encryptedConfig, time.Now())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: datasource named %q already exists", apperrors.ErrConflict, name)
		}
		return fmt.Errorf("failed to update datasource: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: datasource %s", apperrors.ErrNotFound, id)
	}
	return nil
}

func (r *datasourceRepository) Rename(ctx context.Context, id uuid.UUID, name string) error {
	query := `UPDATE bridge_datasources SET name = $2, updated_at = $3 WHERE id = $1 AND deleted_at IS NULL`

	result, err := r.db.Exec(ctx, query, id, name, time.Now())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: datasource named %q already exists", apperrors.ErrConflict, name)
		}
		return fmt.Errorf("failed to rename datasource: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: datasource %s", apperrors.ErrNotFound, id)
	}
	return nil
}

func (r *datasourceRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE bridge_datasources SET deleted_at = $2 WHERE id = $1 AND deleted_at IS NULL`

	result, err := r.db.Exec(ctx, query, id, time.Now())
	if err != nil {
		return fmt.Errorf("failed to delete datasource: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: datasource %s", apperrors.ErrNotFound, id)
	}
	return nil
}

func (r *datasourceRepository) UpdateTableList(ctx context.Context, id uuid.UUID, tables []string) error {
	raw, err := json.Marshal(tables)
	if err != nil {
		return fmt.Errorf("failed to serialize table list: %w", err)
	}

	query := `UPDATE bridge_datasources SET table_list = $2, updated_at = $3 WHERE id = $1 AND deleted_at IS NULL`

	result, err := r.db.Exec(ctx, query, id, raw, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update table list: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: datasource %s", apperrors.ErrNotFound, id)
	}
	return nil
}

func (r *datasourceRepository) ReplaceSchemaInfo(ctx context.Context, id uuid.UUID, schema map[string]*models.TableStructure) error {
	raw, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("failed to serialize schema cache: %w", err)
	}

	query := `UPDATE bridge_datasources SET schema_info = $2, updated_at = $3 WHERE id = $1 AND deleted_at IS NULL`

	result, err := r.db.Exec(ctx, query, id, raw, time.Now())
	if err != nil {
		return fmt.Errorf("failed to replace schema cache: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: datasource %s", apperrors.ErrNotFound, id)
	}
	return nil
}

func (r *datasourceRepository) MergeTableStructure(ctx context.Context, id uuid.UUID, structure *models.TableStructure) error {
	raw, err := json.Marshal(structure)
	if err != nil {
		return fmt.Errorf("failed to serialize table structure: %w", err)
	}

	// jsonb concatenation upserts the single table key without the
	// read-modify-write round trip. Concurrent writers to different tables
	// do not clobber each other; same-table writers are last-write-wins.
	query := `
		UPDATE bridge_datasources
		SET schema_info = COALESCE(schema_info, '{}'::jsonb) || jsonb_build_object($2::text, $3::jsonb),
		    updated_at = $4
		WHERE id = $1 AND deleted_at IS NULL`

	result, err := r.db.Exec(ctx, query, id, structure.TableName, raw, time.Now())
	if err != nil {
		return fmt.Errorf("failed to merge table structure: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: datasource %s", apperrors.ErrNotFound, id)
	}
	return nil
}

// rowScanner covers pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func (r *datasourceRepository) scanOne(row rowScanner) (*models.Datasource, string, error) {
	var ds models.Datasource
	var encryptedConfig string
	var tableList, schemaInfo []byte

	err := row.Scan(
		&ds.ID,
		&ds.Name,
		&ds.Dialect,
		&encryptedConfig,
		&tableList,
		&schemaInfo,
		&ds.CreatedAt,
		&ds.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", fmt.Errorf("%w: datasource", apperrors.ErrNotFound)
		}
		return nil, "", fmt.Errorf("failed to scan datasource: %w", err)
	}

	if len(tableList) > 0 {
		if err := json.Unmarshal(tableList, &ds.TableList); err != nil {
			return nil, "", fmt.Errorf("failed to parse cached table list: %w", err)
		}
	}
	if len(schemaInfo) > 0 {
		if err := json.Unmarshal(schemaInfo, &ds.SchemaInfo); err != nil {
			return nil, "", fmt.Errorf("failed to parse cached schema: %w", err)
		}
	}
	return &ds, encryptedConfig, nil
}

var _ DatasourceRepository = (*datasourceRepository)(nil)
