package model

import (
	"encoding/json"
	"log/slog"
)

const redacted = "**********"

// Secret holds a credential that must not leak through fmt, slog or API
// responses. Its JSON form is the plaintext value, so it is only marshalled
// directly at the storage boundary.
type Secret struct {
	value string
}

func NewSecret(value string) Secret {
	return Secret{value: value}
}

// Reveal returns the plaintext value.
func (s Secret) Reveal() string {
	return s.value
}

func (s Secret) IsZero() bool {
	return s.value == ""
}

func (s Secret) String() string {
	if s.value == "" {
		return ""
	}
	return redacted
}

func (s Secret) GoString() string {
	return "model.Secret(" + s.String() + ")"
}

func (s Secret) LogValue() slog.Value {
	return slog.StringValue(s.String())
}

func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.value)
}

func (s *Secret) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &s.value)
}
