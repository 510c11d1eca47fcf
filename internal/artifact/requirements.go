package artifact

import "strings"

// Cardinality of a relationship between two entities.
type Cardinality string

const (
	OneToOne   Cardinality = "one-to-one"
	OneToMany  Cardinality = "one-to-many"
	ManyToOne  Cardinality = "many-to-one"
	ManyToMany Cardinality = "many-to-many"
)

// Valid reports whether c is a known cardinality.
func (c Cardinality) Valid() bool {
	switch c {
	case OneToOne, OneToMany, ManyToOne, ManyToMany:
		return true
	}
	return false
}

// Entity is a business domain entity extracted from the prompt.
type Entity struct {
	Name        string `json:"name" jsonschema:"name of the entity"`
	Description string `json:"description" jsonschema:"what this entity represents"`
}

// Relationship links two entities.
type Relationship struct {
	From    string      `json:"from" jsonschema:"source entity name"`
	To      string      `json:"to" jsonschema:"target entity name"`
	Type    Cardinality `json:"type" jsonschema:"one-to-one, one-to-many, many-to-one or many-to-many"`
	Through string      `json:"through,omitempty" jsonschema:"junction entity for many-to-many relationships"`
}

// Requirements is the output of the requirements stage.
type Requirements struct {
	Entities      []Entity       `json:"entities" jsonschema:"domain entities"`
	Relationships []Relationship `json:"relationships" jsonschema:"relationships between entities"`
	Assumptions   []string       `json:"assumptions" jsonschema:"assumptions made during analysis"`
	OutOfScope    []string       `json:"out_of_scope" jsonschema:"items explicitly out of scope"`
}

// Normalize lower-cases relationship cardinalities.
func (r *Requirements) Normalize() {
	for i := range r.Relationships {
		r.Relationships[i].Type = Cardinality(strings.ToLower(strings.TrimSpace(string(r.Relationships[i].Type))))
	}
}

// Validate checks that at least one named entity exists and every
// relationship has both ends and a known cardinality.
func (r *Requirements) Validate() error {
	var p problems
	if len(r.Entities) == 0 {
		p.addf("no entities")
	}
	for i, e := range r.Entities {
		if strings.TrimSpace(e.Name) == "" {
			p.addf("entity %d has no name", i+1)
		}
	}
	for i, rel := range r.Relationships {
		if rel.From == "" || rel.To == "" {
			p.addf("relationship %d is missing an endpoint", i+1)
		}
		if !rel.Type.Valid() {
			p.addf("relationship %d has unknown type %q", i+1, rel.Type)
		}
	}
	return p.err("requirements")
}

// EntityNames lists entity names in order.
func (r *Requirements) EntityNames() []string {
	names := make([]string, 0, len(r.Entities))
	for _, e := range r.Entities {
		names = append(names, e.Name)
	}
	return names
}
