package validator

import (
	"encoding/json"
	"testing"

	"github.com/fyrsmithlabs/blueprint/internal/artifact"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func design(t *testing.T, raw string) *artifact.DatabaseDesign {
	t.Helper()
	var d artifact.DatabaseDesign
	require.NoError(t, json.Unmarshal([]byte(raw), &d))
	return &d
}

func codes(r Result) []string {
	out := make([]string, len(r.Violations))
	for i, v := range r.Violations {
		out[i] = v.Code
	}
	return out
}

func TestValidate_ZeroColumns(t *testing.T) {
	r := Validate(design(t, `{"tables": [{"name": "posts", "columns": []}]}`))

	assert.False(t, r.OK)
	assert.Contains(t, r.Messages(), "posts has zero columns")
}

func TestValidate_PrimaryKeyField(t *testing.T) {
	r := Validate(design(t, `{"tables": [{"name": "posts", "columns": [{"name": "id", "type": "int"}], "primary_key": "id"}]}`))

	assert.True(t, r.OK, "violations: %v", r.Messages())
	assert.Empty(t, r.Violations)
}

func TestValidate_PrimaryKeyConstraint(t *testing.T) {
	r := Validate(design(t, `{"tables": [{"name": "users", "columns": [
		{"name": "id", "type": "UUID", "constraints": ["primary key"]},
		{"name": "email", "type": "VARCHAR(255)", "constraints": ["NOT NULL", "UNIQUE"]}
	]}]}`))
	assert.True(t, r.OK, "violations: %v", r.Messages())
}

func TestValidate_ReportsEverything(t *testing.T) {
	d := design(t, `{
		"tables": [
			{"name": "users", "columns": [{"name": "id", "type": ""}, {"name": "ID", "type": "int"}]},
			{"name": "Users", "columns": [{"name": "", "type": "int", "constraints": ["PRIMARY KEY"]}]},
			{"name": "", "columns": []},
			{"name": "posts", "columns": [
				{"name": "id", "type": "int", "constraints": ["PRIMARY KEY"]},
				{"name": "author_id", "type": "int", "constraints": ["NOT NULL", "REFERENCES authors(id)"]}
			], "primary_key": "id, slug"}
		],
		"relations": [
			{"from_table": "posts", "from_column": "author_id", "to_table": "users", "to_column": "uuid"},
			{"from_table": "posts", "from_column": "", "to_table": "users", "to_column": "id"}
		]
	}`)

	r := Validate(d)
	require.False(t, r.OK)
	assert.Equal(t, []string{
		CodeColumnTypeMissing,  // users.id
		CodeDuplicateColumn,    // users.ID
		CodePrimaryKeyMissing,  // users
		CodeDuplicateTable,     // Users
		CodeColumnNameMissing,  // Users column 1
		CodeTableNameMissing,   // table 3
		CodeNoColumns,          // table 3
		CodePrimaryKeyMissing,  // table 3
		CodeRelationBadTable,   // posts.author_id -> authors
		CodePrimaryKeyUnknown,  // slug
		CodeRelationBadColumn,  // relation 1 -> users.uuid
		CodeRelationIncomplete, // relation 2
	}, codes(r))

	assert.Contains(t, r.Messages(), "table 3 has zero columns")
	assert.Contains(t, r.Messages(), `posts primary key "slug" is not a column`)
	assert.Contains(t, r.Messages(), `posts.author_id references unknown table "authors"`)
}

func TestValidate_NoTables(t *testing.T) {
	for _, d := range []*artifact.DatabaseDesign{nil, {}} {
		r := Validate(d)
		assert.False(t, r.OK)
		assert.Equal(t, []string{CodeNoTables}, codes(r))
	}
}

func TestValidate_ValidReferences(t *testing.T) {
	d := design(t, `{
		"tables": [
			{"name": "users", "columns": [{"name": "id", "type": "uuid"}], "primary_key": "id"},
			{"name": "memberships", "columns": [
				{"name": "user_id", "type": "uuid", "constraints": ["REFERENCES \"users\" ( id )"]},
				{"name": "org_id", "type": "uuid"}
			], "primary_key": "user_id,org_id"}
		],
		"relations": [{"from_table": "memberships", "from_column": "user_id", "to_table": "USERS", "to_column": "ID"}]
	}`)
	r := Validate(d)
	assert.True(t, r.OK, "violations: %v", r.Messages())
}

func TestValidate_Deterministic(t *testing.T) {
	d := design(t, `{"tables": [
		{"name": "a", "columns": []},
		{"name": "b", "columns": [{"name": "x", "type": ""}]},
		{"name": "a", "columns": [{"name": "id", "type": "int", "constraints": ["REFERENCES c(id)"]}]}
	]}`)

	first := Validate(d)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, Validate(d))
	}
}
