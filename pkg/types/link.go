package types

import (
	gojson "github.com/goccy/go-json"

	"github.com/ajitpratap0/datastore/pkg/errors"
)

// Link is a structured reference to an external artifact.
type Link struct {
	URI         string `json:"uri"`
	DisplayText string `json:"display_text,omitempty"`
	MimeType    string `json:"mime_type,omitempty"`
}

// Encode returns the canonical string form stored in files.
func (l Link) Encode() (string, error) {
	b, err := gojson.Marshal(l)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode link")
	}
	return string(b), nil
}

// DecodeLink parses the canonical string form produced by Encode.
func DecodeLink(s string) (Link, error) {
	var l Link
	if err := gojson.Unmarshal([]byte(s), &l); err != nil {
		return Link{}, errors.Wrap(err, errors.ErrorTypeIntegrity, "failed to decode link").
			WithDetail("encoded", s)
	}
	return l, nil
}

func (l Link) String() string {
	if l.DisplayText != "" {
		return l.DisplayText + " <" + l.URI + ">"
	}
	return "<" + l.URI + ">"
}
