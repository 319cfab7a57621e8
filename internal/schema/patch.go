package schema

import "encoding/json"

// Op is a single patch operation on one field: either set the field to
// a value or delete it. Absence-as-removal is never put on the wire;
// the remote document store requires an explicit delete-marker, so the
// patch model makes the marker a first-class, type-checked value.
type Op struct {
	Value any  `json:"set,omitempty"`
	Unset bool `json:"unset,omitempty"`
}

// Set builds a set operation.
func Set(v any) Op {
	return Op{Value: v}
}

// Delete builds a delete-marker operation.
func Delete() Op {
	return Op{Unset: true}
}

// Patch is a field-keyed collection of operations. It is the unit of an
// update mutation: shallow-merged over the existing record.
type Patch map[string]Op

// FromValues converts a plain field/value map into a Patch. A nil value
// becomes a delete-marker; everything else becomes a set. This is the
// bridge for callers that still think in "absent means remove" terms.
func FromValues(values map[string]any) Patch {
	p := make(Patch, len(values))
	for field, v := range values {
		if v == nil {
			p[field] = Delete()
			continue
		}
		p[field] = Set(v)
	}
	return p
}

// Apply shallow-merges the patch over a document map, returning a new
// map. Delete-markers remove the field; sets replace it. The input is
// not modified.
func (p Patch) Apply(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc)+len(p))
	for k, v := range doc {
		out[k] = v
	}
	for field, op := range p {
		if op.Unset {
			delete(out, field)
			continue
		}
		out[field] = normalizeValue(op.Value)
	}
	return out
}

// Clone returns a copy of the patch.
func (p Patch) Clone() Patch {
	out := make(Patch, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Fields returns the set of field names the patch touches.
func (p Patch) Fields() []string {
	out := make([]string, 0, len(p))
	for field := range p {
		out = append(out, field)
	}
	return out
}

// normalizeValue round-trips a value through JSON so that typed values
// (int64 timestamps, structs) compare equal to their decoded wire form.
func normalizeValue(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}
