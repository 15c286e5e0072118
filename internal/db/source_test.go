package db

import (
	"database/sql"
	"reflect"
	"testing"
	"time"
)

func TestSQLiteAffinity(t *testing.T) {
	tests := []struct {
		sourceType string
		want       string
	}{
		{"integer", "INTEGER"},
		{"BIGINT", "INTEGER"},
		{"tinyint(1)", "INTEGER"},
		{"character varying", "TEXT"},
		{"varchar(255)", "TEXT"},
		{"jsonb", "TEXT"},
		{"uuid", "TEXT"},
		{"enum('a','b')", "TEXT"},
		{"interval", "TEXT"},
		{"ARRAY", "TEXT"},
		{"bytea", "BLOB"},
		{"varbinary(16)", "BLOB"},
		{"double precision", "REAL"},
		{"float", "REAL"},
		{"numeric", "NUMERIC"},
		{"decimal(10,2)", "NUMERIC"},
		{"boolean", "NUMERIC"},
		{"timestamp with time zone", "NUMERIC"},
		{"point", "NUMERIC"},
		{"", "TEXT"},
	}

	for _, tt := range tests {
		if got := SQLiteAffinity(tt.sourceType); got != tt.want {
			t.Errorf("SQLiteAffinity(%q) = %q, want %q", tt.sourceType, got, tt.want)
		}
	}
}

type label string

func (l label) String() string { return "label:" + string(l) }

func TestToSQLiteValue(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		in   any
		want any
	}{
		{"nil", nil, nil},
		{"int64", int64(7), int64(7)},
		{"int32", int32(-3), int64(-3)},
		{"uint8", uint8(200), int64(200)},
		{"uint64 in range", uint64(42), int64(42)},
		{"uint64 overflow", uint64(18446744073709551615), "18446744073709551615"},
		{"float32", float32(1.5), float64(1.5)},
		{"string", "x", "x"},
		{"bytes", []byte{0, 1}, []byte{0, 1}},
		{"bool", true, true},
		{"time", now, now},
		{"uuid", [16]byte{0x12, 0x34, 0x56, 0x78, 0x9a, 0xbc, 0xde, 0xf0, 0x12, 0x34, 0x56, 0x78, 0x9a, 0xbc, 0xde, 0xf0},
			"12345678-9abc-def0-1234-56789abcdef0"},
		{"valuer", sql.NullString{String: "v", Valid: true}, "v"},
		{"null valuer", sql.NullInt64{}, nil},
		{"stringer", label("x"), "label:x"},
		{"map", map[string]int{"a": 1}, `{"a":1}`},
		{"slice", []string{"a", "b"}, `["a","b"]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := toSQLiteValue(tt.in)
			if err != nil {
				t.Fatalf("toSQLiteValue(%v) failed: %v", tt.in, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("toSQLiteValue(%v) = %#v, want %#v", tt.in, got, tt.want)
			}
		})
	}
}

func TestToSQLiteValueUnsupported(t *testing.T) {
	if _, err := toSQLiteValue(make(chan int)); err == nil {
		t.Error("Expected error for channel value")
	}
}
