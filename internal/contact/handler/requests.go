package handler

import (
	"bytes"
	"encoding/json"
	"fmt"

	"idresolve/internal/contact/models"
)

// IdentifyRequest is the body of POST /identify.
type IdentifyRequest struct {
	Email       looseString `json:"email"`
	PhoneNumber looseString `json:"phoneNumber"`
}

// Validate normalizes the attributes and rejects a request with neither.
func (r *IdentifyRequest) Validate() error {
	obs, err := models.NewObservation(string(r.Email), string(r.PhoneNumber))
	if err != nil {
		return err
	}
	r.Email = looseString(obs.Email)
	r.PhoneNumber = looseString(obs.PhoneNumber)
	return nil
}

// looseString decodes a JSON string, number, or null. Numbers keep their
// literal text.
type looseString string

func (s *looseString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*s = ""
		return nil
	case len(b) > 0 && b[0] == '"':
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = looseString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	*s = looseString(n.String())
	return nil
}
