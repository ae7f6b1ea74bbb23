package datasource

import (
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
)

func TestRenderValue(t *testing.T) {
	ts := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, "NULL"},
		{"string", "hello", "hello"},
		{"empty string stays empty", "", ""},
		{"int64", int64(-42), "-42"},
		{"int32", int32(7), "7"},
		{"int", 123, "123"},
		{"float64 no trailing zeros", float64(3.14), "3.14"},
		{"float64 whole number", float64(10), "10"},
		{"float32", float32(0.5), "0.5"},
		{"bool true", true, "true"},
		{"bool false", false, "false"},
		{"time RFC3339", ts, "2025-03-14T09:26:53Z"},
		{"bytes", []byte("raw"), "raw"},
		{
			"uuid byte array",
			[16]byte{0x12, 0x34, 0x56, 0x78, 0x9a, 0xbc, 0xde, 0xf0, 0x12, 0x34, 0x56, 0x78, 0x9a, 0xbc, 0xde, 0xf0},
			"12345678-9abc-def0-1234-56789abcdef0",
		},
		{"uuid", uuid.MustParse("0f3d4c6e-9b6a-4d3e-8f5c-2a1b0c9d8e7f"), "0f3d4c6e-9b6a-4d3e-8f5c-2a1b0c9d8e7f"},
		{"numeric", pgtype.Numeric{Int: big.NewInt(12345), Exp: -2, Valid: true}, "123.45"},
		{"numeric whole", pgtype.Numeric{Int: big.NewInt(7), Valid: true}, "7"},
		{"null numeric", pgtype.Numeric{}, "NULL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RenderValue(tt.in))
		})
	}
}

func TestRenderRow(t *testing.T) {
	row := RenderRow([]any{int64(1), "alice", nil, true})
	assert.Equal(t, []string{"1", "alice", "NULL", "true"}, row)
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0.00 B"},
		{-512, "0.00 B"},
		{512, "512.00 B"},
		{1024, "1.00 KB"},
		{1536, "1.50 KB"},
		{1048576, "1.00 MB"},
		{13006635, "12.40 MB"},
		{1073741824, "1.00 GB"},
		{1099511627776, "1.00 TB"},
		// Beyond TB stays in TB.
		{1125899906842624, "1024.00 TB"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatBytes(tt.in), "bytes=%d", tt.in)
	}
}
