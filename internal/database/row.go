package database

import "github.com/koustreak/csvingest/internal/errs"

// ScanRows reads all rows from the result set and returns them as a slice
// of maps, where each key is the column name and each value is the Go-native
// representation of the DB value. Byte slices are converted to strings so
// the result can be rendered directly into reports.
//
// The returned slice is always non-nil (empty slice on zero rows).
// ScanRows always closes the Rows, so callers never call Close().
func ScanRows(rows Rows) ([]map[string]any, error) {
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindQueryFailed, "failed to read column names", err)
	}

	result := make([]map[string]any, 0)

	for rows.Next() {
		// Allocate scan targets as *any so the driver can write any type.
		dest := make([]any, len(columns))
		destPtrs := make([]any, len(columns))
		for i := range dest {
			destPtrs[i] = &dest[i]
		}

		if err := rows.Scan(destPtrs...); err != nil {
			return nil, errs.Wrap(errs.ErrKindQueryFailed, "failed to scan row", err)
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			if b, ok := dest[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = dest[i]
		}
		result = append(result, row)
	}

	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.ErrKindQueryFailed, "error during row iteration", err)
	}

	return result, nil
}

// ScanInt64 runs a single-value query (COUNT, SUM, …) and returns the
// result; a NULL result is reported as 0.
func ScanInt64(row Row) (int64, error) {
	var v *int64
	if err := row.Scan(&v); err != nil {
		return 0, err
	}
	if v == nil {
		return 0, nil
	}
	return *v, nil
}
