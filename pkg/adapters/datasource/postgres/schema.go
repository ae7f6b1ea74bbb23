package postgres

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sqlbridge-io/sqlbridge/pkg/adapters/datasource"
	"github.com/sqlbridge-io/sqlbridge/pkg/apperrors"
	"github.com/sqlbridge-io/sqlbridge/pkg/models"
)

// FetchSchema returns every base table and its columns in the active schema.
func (c *Connector) FetchSchema(ctx context.Context) (*datasource.SchemaSnapshot, error) {
	pool, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}

	const query = `
		SELECT table_name, column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema = $1
		ORDER BY table_name, ordinal_position
	`
	rows, err := pool.Query(ctx, query, c.schemaName())
	if err != nil {
		return nil, apperrors.ClassifyQuery(datasource.DialectPostgreSQL, err)
	}
	defer rows.Close()

	tables := make(map[string][]datasource.ColumnDescriptor)
	for rows.Next() {
		var table string
		var col datasource.ColumnDescriptor
		if err := rows.Scan(&table, &col.ColumnName, &col.DataType, &col.IsNullable); err != nil {
			return nil, apperrors.ClassifyQuery(datasource.DialectPostgreSQL, err)
		}
		tables[table] = append(tables[table], col)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.ClassifyQuery(datasource.DialectPostgreSQL, err)
	}

	return &datasource.SchemaSnapshot{
		DatabaseSchema: c.schemaName(),
		Tables:         tables,
		RefreshedAt:    time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// ListTables returns sorted base table names in the active schema.
func (c *Connector) ListTables(ctx context.Context) ([]string, error) {
	pool, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}

	const query = `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = $1 AND table_type = 'BASE TABLE'
		ORDER BY table_name
	`
	rows, err := pool.Query(ctx, query, c.schemaName())
	if err != nil {
		return nil, apperrors.ClassifyQuery(datasource.DialectPostgreSQL, err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, apperrors.ClassifyQuery(datasource.DialectPostgreSQL, err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.ClassifyQuery(datasource.DialectPostgreSQL, err)
	}
	return tables, nil
}

// tableExists checks the active schema for a base table.
func (c *Connector) tableExists(ctx context.Context, table string) (bool, error) {
	pool, err := c.acquire(ctx)
	if err != nil {
		return false, err
	}

	const query = `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = $1 AND table_name = $2 AND table_type = 'BASE TABLE'
		)
	`
	var exists bool
	if err := pool.QueryRow(ctx, query, c.schemaName(), table).Scan(&exists); err != nil {
		return false, apperrors.ClassifyQuery(datasource.DialectPostgreSQL, err)
	}
	return exists, nil
}

// requireTable errors with ErrSchema when the table is missing.
func (c *Connector) requireTable(ctx context.Context, table string) error {
	exists, err := c.tableExists(ctx, table)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: table %q does not exist in schema %q",
			apperrors.ErrSchema, table, c.schemaName())
	}
	return nil
}

// GetTablesSchema returns per-table detail for the requested tables.
// Missing tables are skipped, not errors, so callers can probe freely.
func (c *Connector) GetTablesSchema(ctx context.Context, tables []string) (map[string]*datasource.TableSummary, error) {
	out := make(map[string]*datasource.TableSummary, len(tables))
	for _, table := range tables {
		exists, err := c.tableExists(ctx, table)
		if err != nil {
			return nil, err
		}
		if !exists {
			continue
		}

		summary, err := c.tableSummary(ctx, table)
		if err != nil {
			return nil, err
		}
		out[table] = summary
	}
	return out, nil
}

func (c *Connector) tableSummary(ctx context.Context, table string) (*datasource.TableSummary, error) {
	structure, err := c.GetTableStructure(ctx, table)
	if err != nil {
		return nil, err
	}

	summary := &datasource.TableSummary{
		PrimaryKeys: structure.PrimaryKeys,
		ForeignKeys: structure.ForeignKeys,
	}
	for _, col := range structure.Columns {
		nullable := "NO"
		if col.IsNullable {
			nullable = "YES"
		}
		summary.Columns = append(summary.Columns, datasource.ColumnDescriptor{
			ColumnName: col.Name,
			DataType:   col.DataType,
			IsNullable: nullable,
		})
	}

	sample, err := c.QueryRows(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT %d", c.tableRef(table), c.limits.SampleRows))
	if err != nil {
		return nil, err
	}
	summary.SampleColumns = sample.Columns
	summary.SampleRows = sample.Rows

	count, err := c.estimateRowCount(ctx, table)
	if err != nil {
		return nil, err
	}
	summary.RowCount = count
	return summary, nil
}

// estimateRowCount reads the planner estimate, which is cheap and close
// enough for table summaries.
func (c *Connector) estimateRowCount(ctx context.Context, table string) (int64, error) {
	pool, err := c.acquire(ctx)
	if err != nil {
		return 0, err
	}

	const query = `
		SELECT GREATEST(c.reltuples::bigint, 0)
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND c.relname = $2
	`
	var count int64
	if err := pool.QueryRow(ctx, query, c.schemaName(), table).Scan(&count); err != nil {
		return 0, apperrors.ClassifyQuery(datasource.DialectPostgreSQL, err)
	}
	return count, nil
}

// SearchTables finds tables whose names contain the pattern or its
// singular/plural variants.
func (c *Connector) SearchTables(ctx context.Context, pattern string) ([]datasource.TableMatch, error) {
	pool, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}

	patterns := datasource.SearchPatterns(pattern)
	conds := make([]string, len(patterns))
	args := make([]any, 0, len(patterns)+1)
	args = append(args, c.schemaName())
	for i, p := range patterns {
		conds[i] = fmt.Sprintf("lower(table_name) LIKE $%d", i+2)
		args = append(args, "%"+p+"%")
	}

	query := fmt.Sprintf(`
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = $1 AND table_type = 'BASE TABLE' AND (%s)
		ORDER BY table_name
	`, strings.Join(conds, " OR "))

	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.ClassifyQuery(datasource.DialectPostgreSQL, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, apperrors.ClassifyQuery(datasource.DialectPostgreSQL, err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.ClassifyQuery(datasource.DialectPostgreSQL, err)
	}

	matches := make([]datasource.TableMatch, 0, len(names))
	for _, name := range names {
		columns, err := c.columnNames(ctx, name)
		if err != nil {
			return nil, err
		}
		matches = append(matches, datasource.TableMatch{Name: name, Columns: columns})
	}
	return matches, nil
}

func (c *Connector) columnNames(ctx context.Context, table string) ([]string, error) {
	pool, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}

	const query = `
		SELECT column_name
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position
	`
	rows, err := pool.Query(ctx, query, c.schemaName(), table)
	if err != nil {
		return nil, apperrors.ClassifyQuery(datasource.DialectPostgreSQL, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, apperrors.ClassifyQuery(datasource.DialectPostgreSQL, err)
		}
		columns = append(columns, name)
	}
	return columns, rows.Err()
}

// GetRelatedTables returns foreign key neighbors in both directions.
// Unlike GetTablesSchema, a missing root table is an error.
func (c *Connector) GetRelatedTables(ctx context.Context, table string) (*datasource.RelatedTables, error) {
	if err := c.requireTable(ctx, table); err != nil {
		return nil, err
	}

	pool, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}

	// Incoming: other tables referencing this one.
	const inQuery = `
		SELECT tc.table_name, kcu.column_name, ccu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
			ON tc.constraint_name = ccu.constraint_name
			AND tc.table_schema = ccu.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY'
		  AND ccu.table_schema = $1 AND ccu.table_name = $2
	`

	related := &datasource.RelatedTables{Table: table}

	outgoing, err := c.outgoingForeignKeys(ctx, table)
	if err != nil {
		return nil, err
	}
	for _, fk := range outgoing {
		related.References = append(related.References, datasource.Relation{
			Table:         fk.ReferencedTable,
			Column:        fk.ColumnName,
			ForeignColumn: fk.ReferencedColumn,
		})
	}

	rows, err := pool.Query(ctx, inQuery, c.schemaName(), table)
	if err != nil {
		return nil, apperrors.ClassifyQuery(datasource.DialectPostgreSQL, err)
	}
	defer rows.Close()
	for rows.Next() {
		var r datasource.Relation
		if err := rows.Scan(&r.Table, &r.Column, &r.ForeignColumn); err != nil {
			return nil, apperrors.ClassifyQuery(datasource.DialectPostgreSQL, err)
		}
		related.ReferencedBy = append(related.ReferencedBy, r)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.ClassifyQuery(datasource.DialectPostgreSQL, err)
	}

	return related, nil
}

// outgoingForeignKeys lists this table's foreign keys.
func (c *Connector) outgoingForeignKeys(ctx context.Context, table string) ([]models.ForeignKey, error) {
	pool, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}

	const query = `
		SELECT kcu.column_name, ccu.table_name, ccu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
			ON tc.constraint_name = ccu.constraint_name
			AND tc.table_schema = ccu.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY'
		  AND tc.table_schema = $1 AND tc.table_name = $2
	`
	rows, err := pool.Query(ctx, query, c.schemaName(), table)
	if err != nil {
		return nil, apperrors.ClassifyQuery(datasource.DialectPostgreSQL, err)
	}
	defer rows.Close()

	var fks []models.ForeignKey
	for rows.Next() {
		var fk models.ForeignKey
		if err := rows.Scan(&fk.ColumnName, &fk.ReferencedTable, &fk.ReferencedColumn); err != nil {
			return nil, apperrors.ClassifyQuery(datasource.DialectPostgreSQL, err)
		}
		fks = append(fks, fk)
	}
	return fks, rows.Err()
}

// GetTableStructure returns the full structure of one table: columns with
// type details, primary keys, foreign keys, and indexes.
func (c *Connector) GetTableStructure(ctx context.Context, table string) (*models.TableStructure, error) {
	if err := c.requireTable(ctx, table); err != nil {
		return nil, err
	}

	pool, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}

	structure := &models.TableStructure{TableName: table}

	const colQuery = `
		SELECT column_name, data_type, is_nullable = 'YES', column_default,
		       character_maximum_length, numeric_precision, numeric_scale
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position
	`
	rows, err := pool.Query(ctx, colQuery, c.schemaName(), table)
	if err != nil {
		return nil, apperrors.ClassifyQuery(datasource.DialectPostgreSQL, err)
	}
	for rows.Next() {
		var col models.ColumnStructure
		if err := rows.Scan(&col.Name, &col.DataType, &col.IsNullable, &col.ColumnDefault,
			&col.CharacterMaximumLength, &col.NumericPrecision, &col.NumericScale); err != nil {
			rows.Close()
			return nil, apperrors.ClassifyQuery(datasource.DialectPostgreSQL, err)
		}
		structure.Columns = append(structure.Columns, col)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, apperrors.ClassifyQuery(datasource.DialectPostgreSQL, err)
	}

	// pg_index detects primary keys even when ORMs create them as unique
	// indexes instead of constraints.
	const pkQuery = `
		SELECT a.attname
		FROM pg_index ix
		JOIN pg_class t ON t.oid = ix.indrelid
		JOIN pg_namespace n ON n.oid = t.relnamespace
		JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(ix.indkey)
		WHERE ix.indisprimary AND n.nspname = $1 AND t.relname = $2
		ORDER BY a.attnum
	`
	rows, err = pool.Query(ctx, pkQuery, c.schemaName(), table)
	if err != nil {
		return nil, apperrors.ClassifyQuery(datasource.DialectPostgreSQL, err)
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, apperrors.ClassifyQuery(datasource.DialectPostgreSQL, err)
		}
		structure.PrimaryKeys = append(structure.PrimaryKeys, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, apperrors.ClassifyQuery(datasource.DialectPostgreSQL, err)
	}

	fks, err := c.outgoingForeignKeys(ctx, table)
	if err != nil {
		return nil, err
	}
	structure.ForeignKeys = fks

	indexes, err := c.tableIndexes(ctx, table)
	if err != nil {
		return nil, err
	}
	structure.Indexes = indexes

	markKeyColumns(structure)
	return structure, nil
}

func (c *Connector) tableIndexes(ctx context.Context, table string) ([]models.Index, error) {
	pool, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}

	const query = `
		SELECT i.relname, a.attname, ix.indisunique
		FROM pg_index ix
		JOIN pg_class t ON t.oid = ix.indrelid
		JOIN pg_class i ON i.oid = ix.indexrelid
		JOIN pg_namespace n ON n.oid = t.relnamespace
		JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(ix.indkey)
		WHERE n.nspname = $1 AND t.relname = $2
		ORDER BY i.relname, a.attnum
	`
	rows, err := pool.Query(ctx, query, c.schemaName(), table)
	if err != nil {
		return nil, apperrors.ClassifyQuery(datasource.DialectPostgreSQL, err)
	}
	defer rows.Close()

	grouped := make(map[string]*models.Index)
	var order []string
	for rows.Next() {
		var name, column string
		var unique bool
		if err := rows.Scan(&name, &column, &unique); err != nil {
			return nil, apperrors.ClassifyQuery(datasource.DialectPostgreSQL, err)
		}
		idx, ok := grouped[name]
		if !ok {
			idx = &models.Index{Name: name, IsUnique: unique}
			grouped[name] = idx
			order = append(order, name)
		}
		idx.Columns = append(idx.Columns, column)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.ClassifyQuery(datasource.DialectPostgreSQL, err)
	}

	sort.Strings(order)
	indexes := make([]models.Index, 0, len(order))
	for _, name := range order {
		indexes = append(indexes, *grouped[name])
	}
	return indexes, nil
}

// markKeyColumns flips the per-column key flags from the collected key sets.
func markKeyColumns(structure *models.TableStructure) {
	pks := make(map[string]bool, len(structure.PrimaryKeys))
	for _, pk := range structure.PrimaryKeys {
		pks[pk] = true
	}
	fks := make(map[string]bool, len(structure.ForeignKeys))
	for _, fk := range structure.ForeignKeys {
		fks[fk.ColumnName] = true
	}
	for i := range structure.Columns {
		structure.Columns[i].IsPrimaryKey = pks[structure.Columns[i].Name]
		structure.Columns[i].IsForeignKey = fks[structure.Columns[i].Name]
	}
}
