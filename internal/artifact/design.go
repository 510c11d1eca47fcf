package artifact

import "strings"

// Column is a table column.
type Column struct {
	Name        string   `json:"name" jsonschema:"column name"`
	Type        string   `json:"type" jsonschema:"SQL data type such as UUID, VARCHAR(255), INTEGER, TIMESTAMP"`
	Constraints []string `json:"constraints,omitempty" jsonschema:"constraints such as PRIMARY KEY, NOT NULL, UNIQUE, REFERENCES users(id)"`
}

// HasConstraint reports whether any of the column's constraints contains
// constraint, ignoring case. "PRIMARY KEY" matches "primary key autoincrement".
func (c Column) HasConstraint(constraint string) bool {
	want := strings.ToUpper(strings.TrimSpace(constraint))
	for _, have := range c.Constraints {
		if strings.Contains(strings.ToUpper(have), want) {
			return true
		}
	}
	return false
}

// Table is a table definition. PrimaryKey is optional when a column carries
// a PRIMARY KEY constraint.
type Table struct {
	Name       string   `json:"name" jsonschema:"table name"`
	Columns    []Column `json:"columns" jsonschema:"columns in the table"`
	PrimaryKey string   `json:"primary_key,omitempty" jsonschema:"primary key column name"`
}

// Relation is a foreign key from one table column to another.
type Relation struct {
	FromTable  string `json:"from_table"`
	FromColumn string `json:"from_column"`
	ToTable    string `json:"to_table"`
	ToColumn   string `json:"to_column"`
}

// DatabaseDesign is the output of the database design stage.
type DatabaseDesign struct {
	Tables             []Table    `json:"tables" jsonschema:"tables in the schema"`
	Relations          []Relation `json:"relations,omitempty" jsonschema:"foreign keys between tables"`
	NormalizationLevel string     `json:"normalization_level,omitempty" jsonschema:"normalization level achieved, e.g. 3NF"`
	DesignRationale    []string   `json:"design_rationale,omitempty" jsonschema:"reasoning behind design decisions"`
	SQLSchema          string     `json:"sql_schema,omitempty" jsonschema:"CREATE TABLE statements for the schema"`
}

// Normalize defaults the normalization level to 3NF.
func (d *DatabaseDesign) Normalize() {
	if strings.TrimSpace(d.NormalizationLevel) == "" {
		d.NormalizationLevel = "3NF"
	}
}

// Validate checks shape only. Structural rules (tables, keys, references)
// belong to the validator stage, so a design with a missing primary key
// still conforms and is reported there with every other violation.
func (d *DatabaseDesign) Validate() error {
	var p problems
	if strings.TrimSpace(d.SQLSchema) == "" {
		p.addf("sql_schema is empty")
	}
	return p.err("database design")
}

// Table returns the table called name, compared case-insensitively.
func (d *DatabaseDesign) Table(name string) (Table, bool) {
	for _, t := range d.Tables {
		if strings.EqualFold(t.Name, name) {
			return t, true
		}
	}
	return Table{}, false
}

// Column returns the column called name, compared case-insensitively.
func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return Column{}, false
}
