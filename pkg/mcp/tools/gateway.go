// Package tools implements the gateway's MCP tools. Each tool resolves its
// datasource by ID and answers with JSON text content.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/sqlbridge-io/sqlbridge/pkg/services"
)

// mcpUserID partitions MCP traffic in the pool manager and metadata cache.
// Agent sessions carry no per-user identity.
const mcpUserID = "mcp"

// GatewayToolDeps contains dependencies for the gateway tools.
type GatewayToolDeps struct {
	DatasourceService services.DatasourceService
	QueryService      services.QueryService
	SchemaService     services.SchemaService
	Logger            *zap.Logger
}

// RegisterGatewayTools registers the datasource query and schema tools.
func RegisterGatewayTools(s *server.MCPServer, deps *GatewayToolDeps) {
	registerExecuteQueryTool(s, deps)
	registerListTablesTool(s, deps)
	registerGetTableStructureTool(s, deps)
	registerGetTablesSchemaTool(s, deps)
	registerSearchTablesTool(s, deps)
	registerGetRelatedTablesTool(s, deps)
	registerAnalyzeDatabaseTool(s, deps)
	registerGetDatabaseStatsTool(s, deps)
}

func parseDatasourceID(req mcp.CallToolRequest) (uuid.UUID, error) {
	raw, err := req.RequireString("datasource_id")
	if err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid datasource_id: %w", err)
	}
	return id, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return mcp.NewToolResultText(string(raw)), nil
}

func registerExecuteQueryTool(s *server.MCPServer, deps *GatewayToolDeps) {
	tool := mcp.NewTool(
		"execute_query",
		mcp.WithDescription(
			"Execute a read-only SQL query against a registered datasource. "+
				"Results are row-bounded by the server; a trailing semicolon is allowed but "+
				"multiple statements are rejected.",
		),
		mcp.WithString(
			"datasource_id",
			mcp.Required(),
			mcp.Description("UUID of the registered datasource"),
		),
		mcp.WithString(
			"query",
			mcp.Required(),
			mcp.Description("The SQL query to execute"),
		),
		mcp.WithNumber(
			"limit",
			mcp.Description("Maximum rows to return (server-clamped)"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, executeQueryHandler(deps))
}

func executeQueryHandler(deps *GatewayToolDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := parseDatasourceID(req)
		if err != nil {
			return nil, err
		}
		query, err := req.RequireString("query")
		if err != nil {
			return nil, err
		}
		limit := req.GetInt("limit", 0)

		outcome, err := deps.QueryService.Execute(ctx, id, mcpUserID, query, limit)
		if err != nil {
			return nil, err
		}
		return jsonResult(outcome)
	}
}

func registerListTablesTool(s *server.MCPServer, deps *GatewayToolDeps) {
	tool := mcp.NewTool(
		"list_tables",
		mcp.WithDescription("List all table names in a registered datasource's active schema."),
		mcp.WithString(
			"datasource_id",
			mcp.Required(),
			mcp.Description("UUID of the registered datasource"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, listTablesHandler(deps))
}

func listTablesHandler(deps *GatewayToolDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := parseDatasourceID(req)
		if err != nil {
			return nil, err
		}

		tables, err := deps.SchemaService.ListTables(ctx, id, mcpUserID)
		if err != nil {
			return nil, err
		}
		return jsonResult(map[string]any{"tables": tables})
	}
}

func registerGetTableStructureTool(s *server.MCPServer, deps *GatewayToolDeps) {
	tool := mcp.NewTool(
		"get_table_structure",
		mcp.WithDescription(
			"Get one table's full structure: columns with types, primary keys, "+
				"foreign keys, and indexes.",
		),
		mcp.WithString(
			"datasource_id",
			mcp.Required(),
			mcp.Description("UUID of the registered datasource"),
		),
		mcp.WithString(
			"table",
			mcp.Required(),
			mcp.Description("Table name"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, getTableStructureHandler(deps))
}

func getTableStructureHandler(deps *GatewayToolDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := parseDatasourceID(req)
		if err != nil {
			return nil, err
		}
		table, err := req.RequireString("table")
		if err != nil {
			return nil, err
		}

		structure, err := deps.SchemaService.TableStructure(ctx, id, mcpUserID, table)
		if err != nil {
			return nil, err
		}
		return jsonResult(structure)
	}
}

func registerSearchTablesTool(s *server.MCPServer, deps *GatewayToolDeps) {
	tool := mcp.NewTool(
		"search_tables",
		mcp.WithDescription(
			"Search a datasource for tables by name pattern. Singular and plural "+
				"variants of the pattern are matched automatically.",
		),
		mcp.WithString(
			"datasource_id",
			mcp.Required(),
			mcp.Description("UUID of the registered datasource"),
		),
		mcp.WithString(
			"pattern",
			mcp.Required(),
			mcp.Description("Name fragment to search for, e.g. \"user\""),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, searchTablesHandler(deps))
}

func searchTablesHandler(deps *GatewayToolDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := parseDatasourceID(req)
		if err != nil {
			return nil, err
		}
		pattern, err := req.RequireString("pattern")
		if err != nil {
			return nil, err
		}

		conn, err := deps.DatasourceService.Connector(ctx, id, mcpUserID)
		if err != nil {
			return nil, err
		}
		defer conn.Close()

		matches, err := conn.SearchTables(ctx, pattern)
		if err != nil {
			return nil, err
		}
		return jsonResult(map[string]any{"matches": matches})
	}
}

func registerGetTablesSchemaTool(s *server.MCPServer, deps *GatewayToolDeps) {
	tool := mcp.NewTool(
		"get_tables_schema",
		mcp.WithDescription(
			"Get columns, keys and sample rows for a set of tables in one call. "+
				"Tables that do not exist are skipped.",
		),
		mcp.WithString(
			"datasource_id",
			mcp.Required(),
			mcp.Description("UUID of the registered datasource"),
		),
		mcp.WithArray(
			"tables",
			mcp.Required(),
			mcp.Description("Table names to describe"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, getTablesSchemaHandler(deps))
}

func getTablesSchemaHandler(deps *GatewayToolDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := parseDatasourceID(req)
		if err != nil {
			return nil, err
		}
		tables := req.GetStringSlice("tables", nil)
		if len(tables) == 0 {
			return nil, fmt.Errorf("tables must name at least one table")
		}

		conn, err := deps.DatasourceService.Connector(ctx, id, mcpUserID)
		if err != nil {
			return nil, err
		}
		defer conn.Close()

		summaries, err := conn.GetTablesSchema(ctx, tables)
		if err != nil {
			return nil, err
		}
		return jsonResult(map[string]any{"tables": summaries})
	}
}

func registerGetRelatedTablesTool(s *server.MCPServer, deps *GatewayToolDeps) {
	tool := mcp.NewTool(
		"get_related_tables",
		mcp.WithDescription(
			"List a table's foreign key neighbors in both directions: tables it "+
				"references and tables that reference it.",
		),
		mcp.WithString(
			"datasource_id",
			mcp.Required(),
			mcp.Description("UUID of the registered datasource"),
		),
		mcp.WithString(
			"table",
			mcp.Required(),
			mcp.Description("Table name"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, getRelatedTablesHandler(deps))
}

func getRelatedTablesHandler(deps *GatewayToolDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := parseDatasourceID(req)
		if err != nil {
			return nil, err
		}
		table, err := req.RequireString("table")
		if err != nil {
			return nil, err
		}

		conn, err := deps.DatasourceService.Connector(ctx, id, mcpUserID)
		if err != nil {
			return nil, err
		}
		defer conn.Close()

		related, err := conn.GetRelatedTables(ctx, table)
		if err != nil {
			return nil, err
		}
		return jsonResult(related)
	}
}

func registerAnalyzeDatabaseTool(s *server.MCPServer, deps *GatewayToolDeps) {
	tool := mcp.NewTool(
		"analyze_database",
		mcp.WithDescription(
			"Get a compact database overview: table count, total size, and key "+
				"tables ranked by how heavily they are referenced.",
		),
		mcp.WithString(
			"datasource_id",
			mcp.Required(),
			mcp.Description("UUID of the registered datasource"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, analyzeDatabaseHandler(deps))
}

func analyzeDatabaseHandler(deps *GatewayToolDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := parseDatasourceID(req)
		if err != nil {
			return nil, err
		}

		conn, err := deps.DatasourceService.Connector(ctx, id, mcpUserID)
		if err != nil {
			return nil, err
		}
		defer conn.Close()

		analysis, err := conn.AnalyzeDatabase(ctx)
		if err != nil {
			return nil, err
		}
		return jsonResult(analysis)
	}
}

func registerGetDatabaseStatsTool(s *server.MCPServer, deps *GatewayToolDeps) {
	tool := mcp.NewTool(
		"get_database_stats",
		mcp.WithDescription(
			"Get size and relationship statistics for a datasource: largest tables "+
				"and most connected tables by foreign key count.",
		),
		mcp.WithString(
			"datasource_id",
			mcp.Required(),
			mcp.Description("UUID of the registered datasource"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, getDatabaseStatsHandler(deps))
}

func getDatabaseStatsHandler(deps *GatewayToolDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := parseDatasourceID(req)
		if err != nil {
			return nil, err
		}

		conn, err := deps.DatasourceService.Connector(ctx, id, mcpUserID)
		if err != nil {
			return nil, err
		}
		defer conn.Close()

		stats, err := conn.GetDatabaseStats(ctx)
		if err != nil {
			return nil, err
		}
		return jsonResult(stats)
	}
}
