package mysql

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sqlbridge-io/sqlbridge/pkg/adapters/datasource"
)

func init() {
	datasource.Register(datasource.Registration{
		Info: datasource.AdapterInfo{
			Dialect:     datasource.DialectMySQL,
			DisplayName: "MySQL",
			Description: "Connect to MySQL 5.7+, MariaDB, Aurora MySQL",
		},
		Factory: func(cfg *datasource.ConnectionConfig, mgr *datasource.ConnectionManager, datasourceID uuid.UUID, userID string, limits datasource.Limits, logger *zap.Logger) (datasource.Connector, error) {
			return NewConnector(cfg, mgr, datasourceID, userID, limits, logger)
		},
	})
}
