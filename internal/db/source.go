package db

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tordrt/tablegw/internal/schema"
)

// Source is a database tables can be imported from
type Source interface {
	// ExtractSchema describes the given tables, or every table when empty
	ExtractSchema(ctx context.Context, tables []string) (*schema.Schema, error)
	// ScanRows calls fn once per row with values in column declaration order
	ScanRows(ctx context.Context, table schema.Table, fn func(values []any) error) error
}

var (
	_ Source = (*SQLiteExtractor)(nil)
	_ Source = (*PostgresSource)(nil)
	_ Source = (*MySQLSource)(nil)
)

func markPrimaryKey(table *schema.Table) {
	for _, pk := range table.PrimaryKey {
		for i := range table.Columns {
			if table.Columns[i].Name == pk {
				table.Columns[i].PrimaryKey = true
			}
		}
	}
}

func joinComma(parts []string) string {
	return strings.Join(parts, ", ")
}

// SQLiteAffinity maps a source column type to the SQLite type affinity it
// should be declared with, following the rules of
// https://www.sqlite.org/datatype3.html#determination_of_column_affinity
func SQLiteAffinity(sourceType string) string {
	t := strings.ToUpper(sourceType)
	switch {
	case strings.Contains(t, "INT") && !strings.Contains(t, "INTERVAL") && !strings.Contains(t, "POINT"):
		return "INTEGER"
	case strings.Contains(t, "CHAR"), strings.Contains(t, "CLOB"), strings.Contains(t, "TEXT"),
		strings.Contains(t, "JSON"), strings.Contains(t, "UUID"), strings.Contains(t, "ENUM"),
		strings.Contains(t, "INTERVAL"), strings.Contains(t, "ARRAY"):
		return "TEXT"
	case strings.Contains(t, "BLOB"), strings.Contains(t, "BYTEA"), strings.Contains(t, "BINARY"):
		return "BLOB"
	case strings.Contains(t, "REAL"), strings.Contains(t, "FLOA"), strings.Contains(t, "DOUB"):
		return "REAL"
	case t == "":
		return "TEXT"
	default:
		// numeric, decimal, boolean, date and time types
		return "NUMERIC"
	}
}

// toSQLiteValue converts a value decoded by a source driver into one the
// sqlite3 driver can bind
func toSQLiteValue(v any) (any, error) {
	switch val := v.(type) {
	case nil, int64, float64, bool, string, []byte, time.Time:
		return val, nil
	case int:
		return int64(val), nil
	case int8:
		return int64(val), nil
	case int16:
		return int64(val), nil
	case int32:
		return int64(val), nil
	case uint8:
		return int64(val), nil
	case uint16:
		return int64(val), nil
	case uint32:
		return int64(val), nil
	case uint, uint64:
		u := fmt.Sprint(val)
		n, err := strconv.ParseInt(u, 10, 64)
		if err != nil {
			// does not fit in a signed 64-bit integer
			return u, nil
		}
		return n, nil
	case float32:
		return float64(val), nil
	case [16]byte:
		return fmt.Sprintf("%x-%x-%x-%x-%x", val[0:4], val[4:6], val[6:8], val[8:10], val[10:16]), nil
	case driver.Valuer:
		inner, err := val.Value()
		if err != nil {
			return nil, err
		}
		if _, again := inner.(driver.Valuer); again {
			return fmt.Sprint(inner), nil
		}
		return toSQLiteValue(inner)
	case fmt.Stringer:
		return val.String(), nil
	default:
		// maps, slices and other composite values are stored as JSON text
		b, err := json.Marshal(val)
		if err != nil {
			return nil, fmt.Errorf("unsupported value of type %T: %w", v, err)
		}
		return string(b), nil
	}
}
