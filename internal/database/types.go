package database

import "strings"

// ColumnInfo describes a single column of an existing table.
type ColumnInfo struct {
	Name      string
	DataType  string // backend type name as reported by the catalog
	Nullable  bool
	Default   *string
	IsPrimary bool
	IsUnique  bool
	// AutoIncrement is true for identity / serial / AUTO_INCREMENT columns.
	AutoIncrement bool
}

// ForeignKey describes a foreign key column on a table.
type ForeignKey struct {
	Column    string
	RefTable  string
	RefColumn string
}

// TableInfo describes an existing table as reported by the backend.
type TableInfo struct {
	Name        string
	Columns     []*ColumnInfo
	PrimaryKey  []string
	ForeignKeys []*ForeignKey
}

// Column returns the column with the given name (case-insensitive), or nil.
func (t *TableInfo) Column(name string) *ColumnInfo {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return c
		}
	}
	return nil
}

// ColumnNames returns the column names in ordinal order.
func (t *TableInfo) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// MarkKeys flags the columns named in pks and uniques.
func (t *TableInfo) MarkKeys(pks, uniques []string) {
	pkSet := toSet(pks)
	uqSet := toSet(uniques)
	for _, c := range t.Columns {
		c.IsPrimary = c.IsPrimary || pkSet[c.Name]
		c.IsUnique = c.IsUnique || uqSet[c.Name]
	}
}

func toSet(ss []string) map[string]bool {
	m := make(map[string]bool, len(ss))
	for _, s := range ss {
		m[s] = true
	}
	return m
}
