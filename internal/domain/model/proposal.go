package model

import (
	"bytes"
	"encoding/json"
)

// Proposal is a sparse ordering of participant ids. An empty string is an
// empty slot and travels as JSON null.
type Proposal []string

// MarshalJSON writes empty slots as null.
func (p Proposal) MarshalJSON() ([]byte, error) {
	out := make([]*string, len(p))
	for i := range p {
		if p[i] != "" {
			v := p[i]
			out[i] = &v
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts any JSON array; entries that are not non-empty
// strings become empty slots.
func (p *Proposal) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*p = nil
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Proposal, len(raw))
	for i, r := range raw {
		var s string
		if err := json.Unmarshal(r, &s); err == nil {
			out[i] = s
		}
	}
	*p = out
	return nil
}
