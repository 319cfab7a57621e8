package schema

// Meta holds the peripheral per-owner state synchronized by the
// debounced sync path: the tag taxonomy and lightweight preferences.
// It is deliberately low-stakes — losing a write here costs a tag
// rename, not user data — which is why it tolerates coalescing.
type Meta struct {
	Tags      []string          `json:"tags,omitempty"`
	Settings  map[string]string `json:"settings,omitempty"`
	UpdatedAt int64             `json:"updated_at"`
}

// CloneMeta returns a deep copy of m.
func CloneMeta(m Meta) Meta {
	out := Meta{UpdatedAt: m.UpdatedAt}
	out.Tags = append([]string(nil), m.Tags...)
	if len(out.Tags) == 0 {
		out.Tags = nil
	}
	if m.Settings != nil {
		out.Settings = make(map[string]string, len(m.Settings))
		for k, v := range m.Settings {
			out.Settings[k] = v
		}
	}
	return out
}
