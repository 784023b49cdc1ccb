package repository

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// ToPgUUID converts a google/uuid value to the pgtype representation.
func ToPgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

// FromPgUUID converts a pgtype UUID back to a google/uuid value.
func FromPgUUID(id pgtype.UUID) uuid.UUID {
	return uuid.UUID(id.Bytes)
}

// numericParam renders a decimal for binding into a numeric column. Amounts
// cross the wire as text and are cast in SQL, so no precision is lost.
func numericParam(d decimal.Decimal) string {
	return d.String()
}

// scanDecimal parses a numeric column selected with a ::text cast.
func scanDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("scan numeric %q: %w", s, err)
	}
	return d, nil
}

// emptyRefs normalizes nil maps so jsonb columns always hold an object.
func emptyRefs(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
