package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/tordrt/tablegw/internal/schema"
)

// PostgresClient manages the connection to PostgreSQL
type PostgresClient struct {
	conn *pgx.Conn
}

// NewPostgresClient creates a new PostgreSQL client
func NewPostgresClient(ctx context.Context, connString string) (*PostgresClient, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test the connection
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{conn: conn}, nil
}

// Close closes the database connection
func (c *PostgresClient) Close(ctx context.Context) error {
	return c.conn.Close(ctx)
}

// GetConnection returns the underlying connection
func (c *PostgresClient) GetConnection() *pgx.Conn {
	return c.conn
}

// PostgresSource reads tables out of one PostgreSQL schema
type PostgresSource struct {
	client *PostgresClient
	schema string
}

// NewPostgresSource creates an import source for the given schema
func NewPostgresSource(client *PostgresClient, schemaName string) *PostgresSource {
	if schemaName == "" {
		schemaName = "public"
	}
	return &PostgresSource{
		client: client,
		schema: schemaName,
	}
}

// ExtractSchema extracts columns and primary keys for the specified tables
// If tables is empty, extracts all base tables in the schema
func (s *PostgresSource) ExtractSchema(ctx context.Context, tables []string) (*schema.Schema, error) {
	tableNames, err := s.getTableNames(ctx, tables)
	if err != nil {
		return nil, fmt.Errorf("failed to get table names: %w", err)
	}

	var extractedTables []schema.Table
	for _, tableName := range tableNames {
		table := schema.Table{Name: tableName}

		if table.Columns, err = s.extractColumns(ctx, tableName); err != nil {
			return nil, fmt.Errorf("failed to extract columns of %s: %w", tableName, err)
		}
		if len(table.Columns) == 0 {
			return nil, fmt.Errorf("table %s.%s not found", s.schema, tableName)
		}
		if table.PrimaryKey, err = s.extractPrimaryKey(ctx, tableName); err != nil {
			return nil, fmt.Errorf("failed to extract primary key of %s: %w", tableName, err)
		}
		markPrimaryKey(&table)

		extractedTables = append(extractedTables, table)
	}

	return &schema.Schema{Tables: extractedTables}, nil
}

func (s *PostgresSource) getTableNames(ctx context.Context, requestedTables []string) ([]string, error) {
	if len(requestedTables) > 0 {
		return requestedTables, nil
	}

	query := `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = $1 AND table_type = 'BASE TABLE'
		ORDER BY table_name
	`

	rows, err := s.client.GetConnection().Query(ctx, query, s.schema)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var tableName string
		if err := rows.Scan(&tableName); err != nil {
			return nil, err
		}
		tables = append(tables, tableName)
	}

	return tables, rows.Err()
}

// normalizePostgresType maps verbose SQL type names to commonly-used PostgreSQL equivalents
func normalizePostgresType(dataType, udtName string) string {
	switch dataType {
	case "timestamp with time zone":
		return "timestamptz"
	case "timestamp without time zone":
		return "timestamp"
	case "character varying":
		return "varchar"
	case "ARRAY":
		return "array"
	case "USER-DEFINED":
		return udtName
	default:
		return dataType
	}
}

func (s *PostgresSource) extractColumns(ctx context.Context, tableName string) ([]schema.Column, error) {
	query := `
		SELECT column_name, data_type, udt_name, is_nullable, ordinal_position::int
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position
	`

	rows, err := s.client.GetConnection().Query(ctx, query, s.schema, tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []schema.Column
	for rows.Next() {
		var col schema.Column
		var dataType, udtName, nullable string
		var position int32

		if err := rows.Scan(&col.Name, &dataType, &udtName, &nullable, &position); err != nil {
			return nil, err
		}

		col.Type = normalizePostgresType(dataType, udtName)
		col.Nullable = nullable == "YES"
		col.Position = int(position) - 1

		columns = append(columns, col)
	}

	return columns, rows.Err()
}

func (s *PostgresSource) extractPrimaryKey(ctx context.Context, tableName string) ([]string, error) {
	query := `
		SELECT kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		WHERE tc.table_schema = $1
			AND tc.table_name = $2
			AND tc.constraint_type = 'PRIMARY KEY'
		ORDER BY kcu.ordinal_position
	`

	rows, err := s.client.GetConnection().Query(ctx, query, s.schema, tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pk []string
	for rows.Next() {
		var colName string
		if err := rows.Scan(&colName); err != nil {
			return nil, err
		}
		pk = append(pk, colName)
	}

	return pk, rows.Err()
}

// ScanRows streams every row of the table in column declaration order
func (s *PostgresSource) ScanRows(ctx context.Context, table schema.Table, fn func(values []any) error) error {
	columns := make([]string, len(table.Columns))
	for i, col := range table.Columns {
		columns[i] = pgx.Identifier{col.Name}.Sanitize()
	}
	query := fmt.Sprintf("SELECT %s FROM %s",
		joinComma(columns), pgx.Identifier{s.schema, table.Name}.Sanitize())

	rows, err := s.client.GetConnection().Query(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return err
		}
		for i, v := range values {
			if values[i], err = toSQLiteValue(v); err != nil {
				return fmt.Errorf("column %s: %w", table.Columns[i].Name, err)
			}
		}
		if err := fn(values); err != nil {
			return err
		}
	}

	return rows.Err()
}
