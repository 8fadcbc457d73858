package parser

import "regexp"

var (
	npwpNumber = regexp.MustCompile(`\d{2}\.\d{3}\.\d{3}\.\d-\d{3}\.\d{3}`)
	npwpName   = regexp.MustCompile(`(?i)Nama\s*[:.]?\s*([A-Z][A-Z .,'-]+)`)
)

// ParseNPWP extracts NPWP fields from raw OCR text. All fields are optional.
func ParseNPWP(text string) Fields {
	var f Fields
	if m := npwpNumber.FindString(text); m != "" {
		f.NPWPNumber = m
	}
	if m := npwpName.FindStringSubmatch(text); m != nil {
		f.Name = trimField(m[1])
	}
	return f
}
