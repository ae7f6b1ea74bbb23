package mssql

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sqlbridge-io/sqlbridge/pkg/adapters/datasource"
)

func init() {
	datasource.Register(datasource.Registration{
		Info: datasource.AdapterInfo{
			Dialect:     datasource.DialectSQLServer,
			DisplayName: "Microsoft SQL Server",
			Description: "Connect to SQL Server 2016+, Azure SQL Database",
		},
		Factory: func(cfg *datasource.ConnectionConfig, mgr *datasource.ConnectionManager, datasourceID uuid.UUID, userID string, limits datasource.Limits, logger *zap.Logger) (datasource.Connector, error) {
			return NewConnector(cfg, mgr, datasourceID, userID, limits, logger)
		},
	})
}
