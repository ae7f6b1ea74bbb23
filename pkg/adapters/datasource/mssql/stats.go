package mssql

import (
	"context"

	"github.com/sqlbridge-io/sqlbridge/pkg/adapters/datasource"
	"github.com/sqlbridge-io/sqlbridge/pkg/apperrors"
)

// tableStats gathers per-table size, row estimate, and foreign key
// connectivity. Size comes from allocation units (8 KB pages).
func (c *Connector) tableStats(ctx context.Context) ([]datasource.TableStat, error) {
	db, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}

	const sizeQuery = `
		SELECT t.name,
		       COALESCE(SUM(au.total_pages), 0) * 8 * 1024,
		       COALESCE(MAX(p.rows), 0)
		FROM sys.tables t
		JOIN sys.schemas s ON s.schema_id = t.schema_id
		JOIN sys.partitions p ON p.object_id = t.object_id AND p.index_id IN (0, 1)
		JOIN sys.allocation_units au ON au.container_id = p.partition_id
		WHERE s.name = @p1
		GROUP BY t.name
		ORDER BY t.name
	`
	rows, err := db.QueryContext(ctx, sizeQuery, c.schemaName())
	if err != nil {
		return nil, apperrors.ClassifyQuery(datasource.DialectSQLServer, err)
	}

	var stats []datasource.TableStat
	index := make(map[string]int)
	for rows.Next() {
		var t datasource.TableStat
		if err := rows.Scan(&t.Name, &t.SizeBytes, &t.RowCount); err != nil {
			rows.Close()
			return nil, apperrors.ClassifyQuery(datasource.DialectSQLServer, err)
		}
		t.Size = datasource.FormatBytes(t.SizeBytes)
		index[t.Name] = len(stats)
		stats = append(stats, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, apperrors.ClassifyQuery(datasource.DialectSQLServer, err)
	}

	// Connections count foreign key edges in both directions.
	const fkQuery = `
		SELECT fk.table_name, COUNT(*)
		FROM (
			SELECT pt.name AS table_name
			FROM sys.foreign_keys f
			JOIN sys.tables pt ON pt.object_id = f.parent_object_id
			JOIN sys.schemas s ON s.schema_id = pt.schema_id
			WHERE s.name = @p1
			UNION ALL
			SELECT rt.name AS table_name
			FROM sys.foreign_keys f
			JOIN sys.tables rt ON rt.object_id = f.referenced_object_id
			JOIN sys.schemas s ON s.schema_id = rt.schema_id
			WHERE s.name = @p1
		) fk
		GROUP BY fk.table_name
	`
	rows, err = db.QueryContext(ctx, fkQuery, c.schemaName())
	if err != nil {
		return nil, apperrors.ClassifyQuery(datasource.DialectSQLServer, err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		var count int64
		if err := rows.Scan(&name, &count); err != nil {
			return nil, apperrors.ClassifyQuery(datasource.DialectSQLServer, err)
		}
		if i, ok := index[name]; ok {
			stats[i].Connections = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.ClassifyQuery(datasource.DialectSQLServer, err)
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
	var dbName string
	if err := db.QueryRowContext(ctx, "SELECT DB_NAME()").Scan(&dbName); err != nil {
		return nil, apperrors.ClassifyQuery(datasource.DialectSQLServer, err)
	}

	return datasource.BuildStats(dbName, stats), nil
}
