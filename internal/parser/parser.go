// Package parser extracts structured fields from raw OCR text of Indonesian
// identity documents. Parsers are total: any input, including empty text,
// yields a valid record with possibly all-empty fields.
package parser

import (
	"encoding/json"

	"github.com/filot/docverify/internal/domain"
)

// Fields is a partial structured record. Absent fields are empty strings and
// omitted from the JSON encoding.
type Fields struct {
	NIK           string `json:"nik,omitempty"`
	Name          string `json:"name,omitempty"`
	BirthPlace    string `json:"birthPlace,omitempty"`
	BirthDate     string `json:"birthDate,omitempty"`
	Address       string `json:"address,omitempty"`
	Gender        string `json:"gender,omitempty"`
	Religion      string `json:"religion,omitempty"`
	MaritalStatus string `json:"maritalStatus,omitempty"`
	NPWPNumber    string `json:"npwpNumber,omitempty"`
}

// JSON encodes f, never failing for this struct shape.
func (f Fields) JSON() []byte {
	b, _ := json.Marshal(f)
	return b
}

// Parse selects the parser for docType. The caller must reject unknown types
// before processing; Parse returns ErrInvalidArgument for them so the worker
// fails the document without guessing.
func Parse(docType domain.DocumentType, ocrText string) (Fields, error) {
	switch docType {
	case domain.DocTypeKTP:
		return ParseKTP(ocrText), nil
	case domain.DocTypeNPWP:
		return ParseNPWP(ocrText), nil
	default:
		return Fields{}, domain.ErrInvalidArgument
	}
}
