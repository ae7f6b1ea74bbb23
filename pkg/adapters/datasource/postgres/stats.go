package postgres

import (
	"context"

	"github.com/sqlbridge-io/sqlbridge/pkg/adapters/datasource"
	"github.com/sqlbridge-io/sqlbridge/pkg/apperrors"
)

// tableStats gathers per-table size, row estimate, comment, and foreign key
// connectivity for the active schema.
func (c *Connector) tableStats(ctx context.Context) ([]datasource.TableStat, error) {
	pool, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}

	const sizeQuery = `
		SELECT t.table_name,
		       COALESCE(pg_total_relation_size(c.oid), 0),
		       GREATEST(COALESCE(c.reltuples::bigint, 0), 0),
		       COALESCE(obj_description(c.oid, 'pg_class'), '')
		FROM information_schema.tables t
		LEFT JOIN pg_namespace n ON n.nspname = t.table_schema
		LEFT JOIN pg_class c ON c.relname = t.table_name AND c.relnamespace = n.oid
		WHERE t.table_schema = $1 AND t.table_type = 'BASE TABLE'
		ORDER BY t.table_name
	`
	rows, err := pool.Query(ctx, sizeQuery, c.schemaName())
	if err != nil {
		return nil, apperrors.ClassifyQuery(datasource.DialectPostgreSQL, err)
	}

	var stats []datasource.TableStat
	index := make(map[string]int)
	for rows.Next() {
		var t datasource.TableStat
		if err := rows.Scan(&t.Name, &t.SizeBytes, &t.RowCount, &t.Comment); err != nil {
			rows.Close()
			return nil, apperrors.ClassifyQuery(datasource.DialectPostgreSQL, err)
		}
		t.Size = datasource.FormatBytes(t.SizeBytes)
		index[t.Name] = len(stats)
		stats = append(stats, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, apperrors.ClassifyQuery(datasource.DialectPostgreSQL, err)
	}

	// Connections count foreign key edges in both directions.
	const fkQuery = `
		SELECT fk.table_name, COUNT(*)
		FROM (
			SELECT tc.table_name
			FROM information_schema.table_constraints tc
			WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_schema = $1
			UNION ALL
			SELECT ccu.table_name
			FROM information_schema.table_constraints tc
			JOIN information_schema.constraint_column_usage ccu
				ON tc.constraint_name = ccu.constraint_name
				AND tc.table_schema = ccu.table_schema
			WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_schema = $1
		) fk
		GROUP BY fk.table_name
	`
	rows, err = pool.Query(ctx, fkQuery, c.schemaName())
	if err != nil {
		return nil, apperrors.ClassifyQuery(datasource.DialectPostgreSQL, err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		var count int64
		if err := rows.Scan(&name, &count); err != nil {
			return nil, apperrors.ClassifyQuery(datasource.DialectPostgreSQL, err)
		}
		if i, ok := index[name]; ok {
			stats[i].Connections = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.ClassifyQuery(datasource.DialectPostgreSQL, err)
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

	pool, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}
	var dbName string
	if err := pool.QueryRow(ctx, "SELECT current_database()").Scan(&dbName); err != nil {
		return nil, apperrors.ClassifyQuery(datasource.DialectPostgreSQL, err)
	}

	return datasource.BuildStats(dbName, stats), nil
}
