package seed

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tordrt/tablegw/internal/db"
	"github.com/tordrt/tablegw/internal/gateway"
)

func newClient(t *testing.T) *db.SQLiteClient {
	t.Helper()
	client, err := db.NewSQLiteClient(context.Background(), filepath.Join(t.TempDir(), "seed.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSeed(t *testing.T) {
	ctx := context.Background()
	client := newClient(t)

	result, err := Seed(ctx, client, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, []string{"ABC", "EDF"}, result.Created)
	assert.Empty(t, result.Skipped)

	gw, err := gateway.New(client, gateway.Options{})
	require.NoError(t, err)

	tables, err := gw.ListTables(ctx)
	require.NoError(t, err)
	assert.Equal(t, TableNames(), tables)

	data, err := gw.GetTableData(ctx, "EDF")
	require.NoError(t, err)
	assert.Equal(t, []string{"price", "name", "age"}, data.Schema)
	require.Len(t, data.Rows, 3)
	assert.Equal(t, gateway.Row{"rowid": int64(2), "price": int64(20), "name": "Jane Doe", "age": int64(25)}, data.Rows[1])

	data, err = gw.GetTableData(ctx, "ABC")
	require.NoError(t, err)
	assert.Equal(t, []string{"fruit", "food", "ice"}, data.Schema)
	assert.Equal(t, "Orange", data.Rows[2]["fruit"])
}

func TestSeedSkipsExistingTables(t *testing.T) {
	ctx := context.Background()
	client := newClient(t)

	_, err := client.GetDB().ExecContext(ctx, `CREATE TABLE EDF (price INTEGER, name TEXT, age INTEGER)`)
	require.NoError(t, err)
	_, err = client.GetDB().ExecContext(ctx, `INSERT INTO EDF VALUES (99, 'Kept', 1)`)
	require.NoError(t, err)

	result, err := Seed(ctx, client, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, []string{"ABC"}, result.Created)
	assert.Equal(t, []string{"EDF"}, result.Skipped)

	var count int
	require.NoError(t, client.GetDB().QueryRowContext(ctx, `SELECT COUNT(*) FROM EDF`).Scan(&count))
	assert.Equal(t, 1, count)

	result, err = Seed(ctx, client, quietLogger())
	require.NoError(t, err)
	assert.Empty(t, result.Created)
	assert.Equal(t, []string{"ABC", "EDF"}, result.Skipped)
}

func TestDemoSourceFiltersTables(t *testing.T) {
	s, err := demoSource{}.ExtractSchema(context.Background(), []string{"EDF"})
	require.NoError(t, err)
	require.Len(t, s.Tables, 1)
	assert.Equal(t, "EDF", s.Tables[0].Name)
}
