package sql

import (
	"fmt"

	libinjection "github.com/corazawaf/libinjection-go"

	"github.com/sqlbridge-io/sqlbridge/pkg/apperrors"
)

// Filter values reach the database as bound parameters, so injection cannot
// change query shape. Screening them anyway rejects hostile payloads at the
// gateway boundary instead of forwarding them to a customer's database.

// InjectionError reports a value that matched an injection fingerprint.
// It unwraps to apperrors.ErrQuery so callers can classify it, while audit
// consumers can extract the structured fields with errors.As.
type InjectionError struct {
	Column      string
	Value       string
	Fingerprint string
}

func (e *InjectionError) Error() string {
	return fmt.Sprintf("%v: filter value for column %q matched injection fingerprint %s",
		apperrors.ErrQuery, e.Column, e.Fingerprint)
}

func (e *InjectionError) Unwrap() error { return apperrors.ErrQuery }

// ScreenValue checks one filter value for SQL injection patterns. Only
// strings are screened; numbers and booleans cannot carry a payload.
func ScreenValue(column string, value any) error {
	str, ok := value.(string)
	if !ok {
		return nil
	}

	if isSQLi, fingerprint := libinjection.IsSQLi(str); isSQLi {
		return &InjectionError{Column: column, Value: str, Fingerprint: fingerprint}
	}
	return nil
}

// ScreenFilters checks every value of a filter map. Array filters (IN
// semantics) are screened element by element. The first hit wins.
func ScreenFilters(filters map[string]any) error {
	for column, value := range filters {
		switch v := value.(type) {
		case []string:
			for _, item := range v {
				if err := ScreenValue(column, item); err != nil {
					return err
				}
			}
		case []any:
			for _, item := range v {
				if err := ScreenValue(column, item); err != nil {
					return err
				}
			}
		default:
			if err := ScreenValue(column, v); err != nil {
				return err
			}
		}
	}
	return nil
}
