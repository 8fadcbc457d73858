package observability

import "strings"

// PII masking helpers. Log sites must pass identity values through these
// before emitting them; raw NIK/NPWP/email/phone values never reach a log
// line.

// MaskNIK masks the middle digits of a 16-digit NIK, keeping the first four
// and last four. Shorter values are masked entirely.
func MaskNIK(nik string) string {
	if len(nik) < 10 {
		return strings.Repeat("*", len(nik))
	}
	return nik[:4] + strings.Repeat("*", len(nik)-8) + nik[len(nik)-4:]
}

// MaskNPWP masks the last block of a formatted NPWP number
// (NN.NNN.NNN.N-NNN.NNN -> NN.NNN.NNN.N-NNN.***).
func MaskNPWP(npwp string) string {
	i := strings.LastIndex(npwp, ".")
	if i < 0 || i+1 >= len(npwp) {
		return strings.Repeat("*", len(npwp))
	}
	return npwp[:i+1] + strings.Repeat("*", len(npwp)-i-1)
}

// MaskEmail keeps the first character of the local part and the full domain.
func MaskEmail(email string) string {
	at := strings.Index(email, "@")
	if at <= 0 {
		return strings.Repeat("*", len(email))
	}
	local := email[:at]
	if len(local) == 1 {
		return "*" + email[at:]
	}
	return local[:1] + strings.Repeat("*", len(local)-1) + email[at:]
}

// MaskPhone masks the middle digits of a phone number, keeping the first
// three and last two characters.
func MaskPhone(phone string) string {
	if len(phone) < 6 {
		return strings.Repeat("*", len(phone))
	}
	return phone[:3] + strings.Repeat("*", len(phone)-5) + phone[len(phone)-2:]
}

// Redacted is the stand-in for secrets and tokens; they are never partially
// logged.
const Redacted = "[REDACTED]"
