package mysql

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

// MySQL has no schema level below the database, so everything scopes on
// TABLE_SCHEMA = DATABASE().

// FetchSchema returns every base table and its columns in the connected
// database.
func (c *Connector) FetchSchema(ctx context.Context) (*datasource.SchemaSnapshot, error) {
	db, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}

	const query = `
		SELECT TABLE_NAME, COLUMN_NAME, DATA_TYPE, IS_NULLABLE
		FROM information_schema.COLUMNS
		WHERE TABLE_SCHEMA = DATABASE()
		ORDER BY TABLE_NAME, ORDINAL_POSITION
	`
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, apperrors.ClassifyQuery(datasource.DialectMySQL, err)
	}
	defer rows.Close()

	tables := make(map[string][]datasource.ColumnDescriptor)
	for rows.Next() {
		var table string
		var col datasource.ColumnDescriptor
		if err := rows.Scan(&table, &col.ColumnName, &col.DataType, &col.IsNullable); err != nil {
			return nil, apperrors.ClassifyQuery(datasource.DialectMySQL, err)
		}
		tables[table] = append(tables[table], col)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.ClassifyQuery(datasource.DialectMySQL, err)
	}

	return &datasource.SchemaSnapshot{
		DatabaseSchema: c.cfg.Database,
		Tables:         tables,
		RefreshedAt:    time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// ListTables returns sorted base table names.
func (c *Connector) ListTables(ctx context.Context) ([]string, error) {
	db, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}

	const query = `
		SELECT TABLE_NAME
		FROM information_schema.TABLES
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_TYPE = 'BASE TABLE'
		ORDER BY TABLE_NAME
	`
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, apperrors.ClassifyQuery(datasource.DialectMySQL, err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, apperrors.ClassifyQuery(datasource.DialectMySQL, err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.ClassifyQuery(datasource.DialectMySQL, err)
	}
	return tables, nil
}

func (c *Connector) tableExists(ctx context.Context, table string) (bool, error) {
	db, err := c.acquire(ctx)
	if err != nil {
		return false, err
	}

	const query = `
		SELECT COUNT(*)
		FROM information_schema.TABLES
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ? AND TABLE_TYPE = 'BASE TABLE'
	`
	var count int
	if err := db.QueryRowContext(ctx, query, table).Scan(&count); err != nil {
		return false, apperrors.ClassifyQuery(datasource.DialectMySQL, err)
	}
	return count > 0, nil
}

func (c *Connector) requireTable(ctx context.Context, table string) error {
	exists, err := c.tableExists(ctx, table)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: table %q does not exist in database %q",
			apperrors.ErrSchema, table, c.cfg.Database)
	}
	return nil
}

// GetTablesSchema returns per-table detail; missing tables are skipped.
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

	d := Dialect{}
	sample, err := c.QueryRows(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT %d", d.QuoteIdentifier(table), c.limits.SampleRows))
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

// estimateRowCount reads the InnoDB statistics estimate, which is cheap and
// close enough for table summaries.
func (c *Connector) estimateRowCount(ctx context.Context, table string) (int64, error) {
	db, err := c.acquire(ctx)
	if err != nil {
		return 0, err
	}

	const query = `
		SELECT COALESCE(TABLE_ROWS, 0)
		FROM information_schema.TABLES
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?
	`
	var count int64
	if err := db.QueryRowContext(ctx, query, table).Scan(&count); err != nil {
		return 0, apperrors.ClassifyQuery(datasource.DialectMySQL, err)
	}
	return count, nil
}

// SearchTables finds tables whose names contain the pattern or its
// singular/plural variants.
func (c *Connector) SearchTables(ctx context.Context, pattern string) ([]datasource.TableMatch, error) {
	db, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}

	patterns := datasource.SearchPatterns(pattern)
	conds := make([]string, len(patterns))
	args := make([]any, 0, len(patterns))
	for i, p := range patterns {
		conds[i] = "LOWER(TABLE_NAME) LIKE ?"
		args = append(args, "%"+p+"%")
	}

	query := fmt.Sprintf(`
		SELECT TABLE_NAME
		FROM information_schema.TABLES
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_TYPE = 'BASE TABLE' AND (%s)
		ORDER BY TABLE_NAME
	`, strings.Join(conds, " OR "))

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.ClassifyQuery(datasource.DialectMySQL, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, apperrors.ClassifyQuery(datasource.DialectMySQL, err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.ClassifyQuery(datasource.DialectMySQL, err)
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
	db, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}

	const query = `
		SELECT COLUMN_NAME
		FROM information_schema.COLUMNS
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION
	`
	rows, err := db.QueryContext(ctx, query, table)
	if err != nil {
		return nil, apperrors.ClassifyQuery(datasource.DialectMySQL, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, apperrors.ClassifyQuery(datasource.DialectMySQL, err)
		}
		columns = append(columns, name)
	}
	return columns, rows.Err()
}

// GetRelatedTables returns foreign key neighbors in both directions. A
// missing root table is an error.
func (c *Connector) GetRelatedTables(ctx context.Context, table string) (*datasource.RelatedTables, error) {
	if err := c.requireTable(ctx, table); err != nil {
		return nil, err
	}

	db, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}

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

	const inQuery = `
		SELECT TABLE_NAME, COLUMN_NAME, REFERENCED_COLUMN_NAME
		FROM information_schema.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = DATABASE()
		  AND REFERENCED_TABLE_NAME = ?
	`
	rows, err := db.QueryContext(ctx, inQuery, table)
	if err != nil {
		return nil, apperrors.ClassifyQuery(datasource.DialectMySQL, err)
	}
	defer rows.Close()
	for rows.Next() {
		var r datasource.Relation
		if err := rows.Scan(&r.Table, &r.Column, &r.ForeignColumn); err != nil {
			return nil, apperrors.ClassifyQuery(datasource.DialectMySQL, err)
		}
		related.ReferencedBy = append(related.ReferencedBy, r)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.ClassifyQuery(datasource.DialectMySQL, err)
	}

	return related, nil
}

func (c *Connector) outgoingForeignKeys(ctx context.Context, table string) ([]models.ForeignKey, error) {
	db, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}

	const query = `
		SELECT COLUMN_NAME, REFERENCED_TABLE_NAME, REFERENCED_COLUMN_NAME
		FROM information_schema.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = DATABASE()
		  AND TABLE_NAME = ?
		  AND REFERENCED_TABLE_NAME IS NOT NULL
	`
	rows, err := db.QueryContext(ctx, query, table)
	if err != nil {
		return nil, apperrors.ClassifyQuery(datasource.DialectMySQL, err)
	}
	defer rows.Close()

	var fks []models.ForeignKey
	for rows.Next() {
		var fk models.ForeignKey
		if err := rows.Scan(&fk.ColumnName, &fk.ReferencedTable, &fk.ReferencedColumn); err != nil {
			return nil, apperrors.ClassifyQuery(datasource.DialectMySQL, err)
		}
		fks = append(fks, fk)
	}
	return fks, rows.Err()
}

// GetTableStructure returns the full structure of one table.
func (c *Connector) GetTableStructure(ctx context.Context, table string) (*models.TableStructure, error) {
	if err := c.requireTable(ctx, table); err != nil {
		return nil, err
	}

	db, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}

	structure := &models.TableStructure{TableName: table}

	const colQuery = `
		SELECT COLUMN_NAME, DATA_TYPE, IS_NULLABLE = 'YES', COLUMN_DEFAULT,
		       CHARACTER_MAXIMUM_LENGTH, NUMERIC_PRECISION, NUMERIC_SCALE,
		       COLUMN_KEY = 'PRI'
		FROM information_schema.COLUMNS
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION
	`
	rows, err := db.QueryContext(ctx, colQuery, table)
	if err != nil {
		return nil, apperrors.ClassifyQuery(datasource.DialectMySQL, err)
	}
	for rows.Next() {
		var col models.ColumnStructure
		var isPK bool
		if err := rows.Scan(&col.Name, &col.DataType, &col.IsNullable, &col.ColumnDefault,
			&col.CharacterMaximumLength, &col.NumericPrecision, &col.NumericScale, &isPK); err != nil {
			rows.Close()
			return nil, apperrors.ClassifyQuery(datasource.DialectMySQL, err)
		}
		if isPK {
			structure.PrimaryKeys = append(structure.PrimaryKeys, col.Name)
		}
		structure.Columns = append(structure.Columns, col)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, apperrors.ClassifyQuery(datasource.DialectMySQL, err)
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
	db, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}

	const query = `
		SELECT INDEX_NAME, COLUMN_NAME, NON_UNIQUE = 0
		FROM information_schema.STATISTICS
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?
		ORDER BY INDEX_NAME, SEQ_IN_INDEX
	`
	rows, err := db.QueryContext(ctx, query, table)
	if err != nil {
		return nil, apperrors.ClassifyQuery(datasource.DialectMySQL, err)
	}
	defer rows.Close()

	grouped := make(map[string]*models.Index)
	var order []string
	for rows.Next() {
		var name, column string
		var unique bool
		if err := rows.Scan(&name, &column, &unique); err != nil {
			return nil, apperrors.ClassifyQuery(datasource.DialectMySQL, err)
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
		return nil, apperrors.ClassifyQuery(datasource.DialectMySQL, err)
	}

	sort.Strings(order)
	indexes := make([]models.Index, 0, len(order))
	for _, name := range order {
		indexes = append(indexes, *grouped[name])
	}
	return indexes, nil
}

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
