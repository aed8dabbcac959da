package database

import (
	"database/sql/driver"

	"github.com/jackc/pgx/v5/pgtype"
)

// Decimal is an exact decimal literal bound to a NUMERIC / DECIMAL column.
// It never passes through float64, so every digit reaches the database.
type Decimal string

// Value implements driver.Valuer; database/sql drivers send the literal
// as text and the server converts it.
func (d Decimal) Value() (driver.Value, error) {
	return string(d), nil
}

// NumericValue implements pgtype.NumericValuer so pgx can encode the
// literal in binary form, including inside COPY.
func (d Decimal) NumericValue() (pgtype.Numeric, error) {
	var n pgtype.Numeric
	if err := n.Scan(string(d)); err != nil {
		return pgtype.Numeric{}, err
	}
	return n, nil
}
