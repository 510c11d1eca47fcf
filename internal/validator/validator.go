// Package validator checks a database design against structural rules.
//
// Validate is pure and deterministic: it performs no I/O, keeps no state and
// reports every violation it finds in table order, then relation order.
package validator

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/fyrsmithlabs/blueprint/internal/artifact"
)

// Violation codes.
const (
	CodeNoTables           = "NO_TABLES"
	CodeTableNameMissing   = "TABLE_NAME_MISSING"
	CodeDuplicateTable     = "DUPLICATE_TABLE"
	CodeNoColumns          = "NO_COLUMNS"
	CodeColumnNameMissing  = "COLUMN_NAME_MISSING"
	CodeColumnTypeMissing  = "COLUMN_TYPE_MISSING"
	CodeDuplicateColumn    = "DUPLICATE_COLUMN"
	CodePrimaryKeyMissing  = "PRIMARY_KEY_MISSING"
	CodePrimaryKeyUnknown  = "PRIMARY_KEY_UNKNOWN_COLUMN"
	CodeRelationBadTable   = "RELATION_UNKNOWN_TABLE"
	CodeRelationBadColumn  = "RELATION_UNKNOWN_COLUMN"
	CodeRelationIncomplete = "RELATION_INCOMPLETE"
)

// Violation is one broken rule.
type Violation struct {
	Code    string `json:"code"`
	Table   string `json:"table,omitempty"`
	Column  string `json:"column,omitempty"`
	Message string `json:"message"`
}

// Result is the outcome of Validate. OK is true exactly when Violations is empty.
type Result struct {
	OK         bool        `json:"ok"`
	Violations []Violation `json:"violations"`
}

// Messages returns the violation messages in order.
func (r Result) Messages() []string {
	out := make([]string, len(r.Violations))
	for i, v := range r.Violations {
		out[i] = v.Message
	}
	return out
}

// inlineRef matches REFERENCES table(column) inside a column constraint.
var inlineRef = regexp.MustCompile(`(?i)\bREFERENCES\s+["\x60]?([A-Za-z_][A-Za-z0-9_]*)["\x60]?\s*\(\s*["\x60]?([A-Za-z_][A-Za-z0-9_]*)["\x60]?\s*\)`)

// Validate checks design. It never stops at the first violation.
func Validate(design *artifact.DatabaseDesign) Result {
	v := &run{design: design}
	if design == nil || len(design.Tables) == 0 {
		v.add(Violation{Code: CodeNoTables, Message: "design has no tables"})
		return v.result()
	}

	seen := make(map[string]bool, len(design.Tables))
	for i, t := range design.Tables {
		label := t.Name
		if strings.TrimSpace(t.Name) == "" {
			label = fmt.Sprintf("table %d", i+1)
			v.add(Violation{Code: CodeTableNameMissing, Message: label + " is missing a name"})
		} else {
			key := strings.ToLower(t.Name)
			if seen[key] {
				v.add(Violation{Code: CodeDuplicateTable, Table: t.Name, Message: fmt.Sprintf("duplicate table name %q", t.Name)})
			}
			seen[key] = true
		}
		v.table(t, label)
	}

	for i, rel := range design.Relations {
		v.relation(rel, fmt.Sprintf("relation %d", i+1))
	}

	return v.result()
}

type run struct {
	design     *artifact.DatabaseDesign
	violations []Violation
}

func (v *run) add(violation Violation) {
	v.violations = append(v.violations, violation)
}

func (v *run) result() Result {
	if v.violations == nil {
		v.violations = []Violation{}
	}
	return Result{OK: len(v.violations) == 0, Violations: v.violations}
}

func (v *run) table(t artifact.Table, label string) {
	if len(t.Columns) == 0 {
		v.add(Violation{Code: CodeNoColumns, Table: t.Name, Message: label + " has zero columns"})
	}

	cols := make(map[string]bool, len(t.Columns))
	hasPKConstraint := false
	for j, c := range t.Columns {
		colLabel := c.Name
		if strings.TrimSpace(c.Name) == "" {
			colLabel = fmt.Sprintf("column %d", j+1)
			v.add(Violation{Code: CodeColumnNameMissing, Table: t.Name, Message: fmt.Sprintf("%s in %s is missing a name", colLabel, label)})
		} else {
			key := strings.ToLower(c.Name)
			if cols[key] {
				v.add(Violation{Code: CodeDuplicateColumn, Table: t.Name, Column: c.Name, Message: fmt.Sprintf("%s has duplicate column %q", label, c.Name)})
			}
			cols[key] = true
		}
		if strings.TrimSpace(c.Type) == "" {
			v.add(Violation{Code: CodeColumnTypeMissing, Table: t.Name, Column: c.Name, Message: fmt.Sprintf("%s.%s is missing a type", label, colLabel)})
		}

		if c.HasConstraint("PRIMARY KEY") {
			hasPKConstraint = true
		}
		for _, constraint := range c.Constraints {
			if m := inlineRef.FindStringSubmatch(constraint); m != nil {
				v.relation(artifact.Relation{FromTable: t.Name, FromColumn: c.Name, ToTable: m[1], ToColumn: m[2]},
					fmt.Sprintf("%s.%s", label, colLabel))
			}
		}
	}

	switch {
	case strings.TrimSpace(t.PrimaryKey) != "":
		for _, key := range strings.Split(t.PrimaryKey, ",") {
			key = strings.TrimSpace(key)
			if !cols[strings.ToLower(key)] {
				v.add(Violation{Code: CodePrimaryKeyUnknown, Table: t.Name, Column: key,
					Message: fmt.Sprintf("%s primary key %q is not a column", label, key)})
			}
		}
	case !hasPKConstraint:
		v.add(Violation{Code: CodePrimaryKeyMissing, Table: t.Name, Message: label + " has no primary key"})
	}
}

func (v *run) relation(rel artifact.Relation, label string) {
	if rel.FromTable == "" || rel.FromColumn == "" || rel.ToTable == "" || rel.ToColumn == "" {
		v.add(Violation{Code: CodeRelationIncomplete, Table: rel.FromTable, Column: rel.FromColumn,
			Message: label + " must name both tables and both columns"})
		return
	}
	v.endpoint(rel.FromTable, rel.FromColumn, label)
	v.endpoint(rel.ToTable, rel.ToColumn, label)
}

func (v *run) endpoint(table, column, label string) {
	t, ok := v.design.Table(table)
	if !ok {
		v.add(Violation{Code: CodeRelationBadTable, Table: table, Column: column,
			Message: fmt.Sprintf("%s references unknown table %q", label, table)})
		return
	}
	if _, ok := t.Column(column); !ok {
		v.add(Violation{Code: CodeRelationBadColumn, Table: table, Column: column,
			Message: fmt.Sprintf("%s references unknown column %s.%s", label, table, column)})
	}
}
