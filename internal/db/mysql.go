package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/tordrt/tablegw/internal/schema"
)

// MySQLClient manages the connection to MySQL
type MySQLClient struct {
	db *sql.DB
}

// NewMySQLClient creates a new MySQL client
func NewMySQLClient(ctx context.Context, connString string) (*MySQLClient, error) {
	db, err := sql.Open("mysql", connString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &MySQLClient{db: db}, nil
}

// Close closes the database connection
func (c *MySQLClient) Close() error {
	return c.db.Close()
}

// GetDB returns the underlying database connection
func (c *MySQLClient) GetDB() *sql.DB {
	return c.db
}

// ParseDatabaseName returns the database named in a MySQL DSN
func ParseDatabaseName(connString string) (string, error) {
	cfg, err := mysql.ParseDSN(connString)
	if err != nil {
		return "", fmt.Errorf("failed to parse MySQL DSN: %w", err)
	}
	if cfg.DBName == "" {
		return "", fmt.Errorf("MySQL DSN does not name a database")
	}
	return cfg.DBName, nil
}

// MySQLSource reads tables out of one MySQL database
type MySQLSource struct {
	client     *MySQLClient
	schemaName string
}

// NewMySQLSource creates an import source for the given database
func NewMySQLSource(client *MySQLClient, schemaName string) *MySQLSource {
	return &MySQLSource{
		client:     client,
		schemaName: schemaName,
	}
}

// ExtractSchema extracts columns and primary keys for the specified tables
// If tables is empty, extracts all base tables in the database
func (s *MySQLSource) ExtractSchema(ctx context.Context, tables []string) (*schema.Schema, error) {
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
			return nil, fmt.Errorf("table %s.%s not found", s.schemaName, tableName)
		}
		if table.PrimaryKey, err = s.extractPrimaryKey(ctx, tableName); err != nil {
			return nil, fmt.Errorf("failed to extract primary key of %s: %w", tableName, err)
		}
		markPrimaryKey(&table)

		extractedTables = append(extractedTables, table)
	}

	return &schema.Schema{Tables: extractedTables}, nil
}

func (s *MySQLSource) getTableNames(ctx context.Context, requestedTables []string) ([]string, error) {
	if len(requestedTables) > 0 {
		return requestedTables, nil
	}

	query := `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = ? AND table_type = 'BASE TABLE'
		ORDER BY table_name
	`

	rows, err := s.client.GetDB().QueryContext(ctx, query, s.schemaName)
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

func (s *MySQLSource) extractColumns(ctx context.Context, tableName string) ([]schema.Column, error) {
	query := `
		SELECT column_name, data_type, is_nullable, ordinal_position
		FROM information_schema.columns
		WHERE table_schema = ? AND table_name = ?
		ORDER BY ordinal_position
	`

	rows, err := s.client.GetDB().QueryContext(ctx, query, s.schemaName, tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []schema.Column
	for rows.Next() {
		var col schema.Column
		var nullable string
		var position int

		if err := rows.Scan(&col.Name, &col.Type, &nullable, &position); err != nil {
			return nil, err
		}

		col.Nullable = nullable == "YES"
		col.Position = position - 1

		columns = append(columns, col)
	}

	return columns, rows.Err()
}

func (s *MySQLSource) extractPrimaryKey(ctx context.Context, tableName string) ([]string, error) {
	query := `
		SELECT column_name
		FROM information_schema.key_column_usage
		WHERE table_schema = ?
			AND table_name = ?
			AND constraint_name = 'PRIMARY'
		ORDER BY ordinal_position
	`

	rows, err := s.client.GetDB().QueryContext(ctx, query, s.schemaName, tableName)
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

func quoteMySQL(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// ScanRows streams every row of the table in column declaration order
func (s *MySQLSource) ScanRows(ctx context.Context, table schema.Table, fn func(values []any) error) error {
	columns := make([]string, len(table.Columns))
	for i, col := range table.Columns {
		columns[i] = quoteMySQL(col.Name)
	}
	query := fmt.Sprintf("SELECT %s FROM %s.%s",
		joinComma(columns), quoteMySQL(s.schemaName), quoteMySQL(table.Name))

	rows, err := s.client.GetDB().QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	// The text protocol returns every non-NULL value as []byte
	return scanAll(rows, len(table.Columns), true, fn)
}
