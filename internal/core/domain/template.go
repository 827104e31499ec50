package domain

// FieldType tags a template field with the store's value type.
type FieldType string

const (
	FieldString      FieldType = "string"
	FieldFloat       FieldType = "float"
	FieldDate        FieldType = "date"
	FieldEnum        FieldType = "enum"
	FieldMultiSelect FieldType = "multiSelect"
)

// FieldDefinition is one named, typed slot in a metadata template.
type FieldDefinition struct {
	Key         string    `json:"key"`
	DisplayName string    `json:"display_name"`
	Type        FieldType `json:"type"`
	// Options constrains enum/multiSelect fields; nil otherwise.
	Options []string `json:"options,omitempty"`
}

// Template is a read-only copy of a metadata schema owned by the document
// store. Position is the store's creation order and is the tie-breaker for
// matching, so repeated runs stay reproducible.
type Template struct {
	ID          string            `json:"id"`
	DisplayName string            `json:"display_name"`
	Fields      []FieldDefinition `json:"fields"`
	Position    int               `json:"position"`
}

// Field returns the definition for key, if present.
func (t Template) Field(key string) (FieldDefinition, bool) {
	for _, f := range t.Fields {
		if f.Key == key {
			return f, true
		}
	}
	return FieldDefinition{}, false
}
