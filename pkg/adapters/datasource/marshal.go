package datasource

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// NullLiteral is how NULL and undecodable cells are rendered in results.
const NullLiteral = "NULL"

// RenderValue renders one result cell as a string. Decoding falls through
// string, integer, float, bool, time, UUID, numeric, and []byte before
// giving up on %v. nil renders as the NULL literal.
func RenderValue(v any) string {
	switch val := v.(type) {
	case nil:
		return NullLiteral
	case string:
		return val
	case int64:
		return strconv.FormatInt(val, 10)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int:
		return strconv.Itoa(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(val)
	case time.Time:
		return val.Format(time.RFC3339)
	case [16]byte:
		// pgx decodes uuid columns to raw byte arrays.
		return uuid.UUID(val).String()
	case uuid.UUID:
		return val.String()
	case pgtype.Numeric:
		return renderNumeric(val)
	case []byte:
		return string(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// renderNumeric renders a pgx decimal in canonical text form.
func renderNumeric(n pgtype.Numeric) string {
	if !n.Valid {
		return NullLiteral
	}
	dv, err := n.Value()
	if err != nil {
		return fmt.Sprintf("%v", n)
	}
	if s, ok := dv.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", dv)
}

// RenderRow renders a driver row into strings, one cell per column.
func RenderRow(values []any) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = RenderValue(v)
	}
	return out
}

var byteUnits = []string{"B", "KB", "MB", "GB", "TB"}

// FormatBytes humanizes a byte count ("12.41 MB"). Negative counts render
// as "0.00 B".
func FormatBytes(bytes int64) string {
	size := float64(bytes)
	if size < 0 || math.IsNaN(size) {
		size = 0
	}
	unit := 0
	for size >= 1024 && unit < len(byteUnits)-1 {
		size /= 1024
		unit++
	}
	return fmt.Sprintf("%.2f %s", size, byteUnits[unit])
}
