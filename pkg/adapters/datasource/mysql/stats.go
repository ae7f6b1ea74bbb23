package mysql

import (
	"context"
	"database/sql"

	"github.com/sqlbridge-io/sqlbridge/pkg/adapters/datasource"
	"github.com/sqlbridge-io/sqlbridge/pkg/apperrors"
)

// tableStats gathers per-table size, row estimate, comment, and foreign key
// connectivity. Size is data plus indexes, from InnoDB statistics.
func (c *Connector) tableStats(ctx context.Context) ([]datasource.TableStat, error) {
	db, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}

	const sizeQuery = `
		SELECT TABLE_NAME,
		       COALESCE(DATA_LENGTH, 0) + COALESCE(INDEX_LENGTH, 0),
		       COALESCE(TABLE_ROWS, 0),
		       COALESCE(TABLE_COMMENT, '')
		FROM information_schema.TABLES
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_TYPE = 'BASE TABLE'
		ORDER BY TABLE_NAME
	`
	rows, err := db.QueryContext(ctx, sizeQuery)
	if err != nil {
		return nil, apperrors.ClassifyQuery(datasource.DialectMySQL, err)
	}

	var stats []datasource.TableStat
	index := make(map[string]int)
	for rows.Next() {
		var t datasource.TableStat
		if err := rows.Scan(&t.Name, &t.SizeBytes, &t.RowCount, &t.Comment); err != nil {
			rows.Close()
			return nil, apperrors.ClassifyQuery(datasource.DialectMySQL, err)
		}
		t.Size = datasource.FormatBytes(t.SizeBytes)
		index[t.Name] = len(stats)
		stats = append(stats, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, apperrors.ClassifyQuery(datasource.DialectMySQL, err)
	}

	// Connections count foreign key edges in both directions.
	const fkQuery = `
		SELECT fk.table_name, COUNT(*)
		FROM (
			SELECT TABLE_NAME AS table_name
			FROM information_schema.KEY_COLUMN_USAGE
			WHERE TABLE_SCHEMA = DATABASE() AND REFERENCED_TABLE_NAME IS NOT NULL
			UNION ALL
			SELECT REFERENCED_TABLE_NAME AS table_name
			FROM information_schema.KEY_COLUMN_USAGE
			WHERE TABLE_SCHEMA = DATABASE() AND REFERENCED_TABLE_NAME IS NOT NULL
		) fk
		GROUP BY fk.table_name
	`
	rows, err = db.QueryContext(ctx, fkQuery)
	if err != nil {
		return nil, apperrors.ClassifyQuery(datasource.DialectMySQL, err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		var count int64
		if err := rows.Scan(&name, &count); err != nil {
			return nil, apperrors.ClassifyQuery(datasource.DialectMySQL, err)
		}
		if i, ok := index[name]; ok {
			stats[i].Connections = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.ClassifyQuery(datasource.DialectMySQL, err)
	}

	return stats, nil
}

// AnalyzeDatabase returns a ranked overview of the database.
func (c *Connector) AnalyzeDatabase(ctx context.Context) (*datasource.DatabaseAnalysis, error) {
	stats, err := c.tableStats(ctx)
	if err != nil {
		return nil, err
	}
	return datasource.BuildAnalysis(stats), nil
}

// GetDatabaseStats returns size and connectivity statistics.
func (c *Connector) GetDatabaseStats(ctx context.Context) (*datasource.DatabaseStats, error) {
	stats, err := c.tableStats(ctx)
	if err != nil {
		return nil, err
	}

	db, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}
	var dbName sql.NullString
	if err := db.QueryRowContext(ctx, "SELECT DATABASE()").Scan(&dbName); err != nil {
		return nil, apperrors.ClassifyQuery(datasource.DialectMySQL, err)
	}

	return datasource.BuildStats(dbName.String, stats), nil
}
