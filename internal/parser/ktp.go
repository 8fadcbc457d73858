package parser

import (
	"regexp"
	"strings"
)

// KTP OCR output is noisy; every extraction is label-anchored best effort with
// a looser fallback where the label is commonly lost.
var (
	ktpNIKLabeled  = regexp.MustCompile(`(?i)NIK\s*[:.]?\s*(\d{16})`)
	ktpNIKBare     = regexp.MustCompile(`\b(\d{16})\b`)
	ktpName        = regexp.MustCompile(`(?i)Nama\s*[:.]?\s*([A-Z][A-Z .,'-]+)`)
	ktpBirth       = regexp.MustCompile(`(?i)Tempat\s*/?\s*Tg?l\.?\s*Lahir\s*[:.]?\s*([A-Z .]+?)\s*,\s*(\d{2}[-/]\d{2}[-/]\d{4})`)
	ktpDateBare    = regexp.MustCompile(`\b(\d{2}[-/]\d{2}[-/]\d{4})\b`)
	ktpAddress     = regexp.MustCompile(`(?i)Alamat\s*[:.]?\s*([A-Z0-9 .,/-]+)`)
	ktpGender      = regexp.MustCompile(`(?i)Jenis\s*Kelamin\s*[:.]?\s*(LAKI-?LAKI|PEREMPUAN)`)
	ktpReligion    = regexp.MustCompile(`(?i)Agama\s*[:.]?\s*(ISLAM|KRISTEN|KATOLIK|HINDU|BUDHA|BUDDHA|KONGHUCU)`)
	ktpMarital     = regexp.MustCompile(`(?i)Status\s*Perkawinan\s*[:.]?\s*(BELUM\s+KAWIN|KAWIN|CERAI\s+HIDUP|CERAI\s+MATI)`)
	fieldBoundary  = regexp.MustCompile(`\s*[/\n|]\s*`)
)

// ParseKTP extracts KTP fields from raw OCR text. All fields are optional.
func ParseKTP(text string) Fields {
	var f Fields

	if m := ktpNIKLabeled.FindStringSubmatch(text); m != nil {
		f.NIK = m[1]
	} else if m := ktpNIKBare.FindStringSubmatch(text); m != nil {
		f.NIK = m[1]
	}

	if m := ktpName.FindStringSubmatch(text); m != nil {
		f.Name = trimField(m[1])
	}

	if m := ktpBirth.FindStringSubmatch(text); m != nil {
		f.BirthPlace = trimField(m[1])
		f.BirthDate = m[2]
	} else if m := ktpDateBare.FindStringSubmatch(text); m != nil {
		f.BirthDate = m[1]
	}

	if m := ktpAddress.FindStringSubmatch(text); m != nil {
		f.Address = trimField(m[1])
	}
	if m := ktpGender.FindStringSubmatch(text); m != nil {
		f.Gender = strings.ToUpper(m[1])
	}
	if m := ktpReligion.FindStringSubmatch(text); m != nil {
		f.Religion = strings.ToUpper(m[1])
	}
	if m := ktpMarital.FindStringSubmatch(text); m != nil {
		f.MaritalStatus = strings.ToUpper(strings.Join(strings.Fields(m[1]), " "))
	}
	return f
}

// trimField truncates a greedy capture at the first field boundary (slash,
// pipe or newline used as separators on scanned cards) and trims whitespace.
func trimField(s string) string {
	if loc := fieldBoundary.FindStringIndex(s); loc != nil {
		s = s[:loc[0]]
	}
	return strings.TrimSpace(s)
}
