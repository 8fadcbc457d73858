package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskNIK(t *testing.T) {
	assert.Equal(t, "3201********0123", MaskNIK("3201234567890123"))
	assert.Equal(t, "*****", MaskNIK("12345"))
}

func TestMaskNPWP(t *testing.T) {
	assert.Equal(t, "01.234.567.8-901.***", MaskNPWP("01.234.567.8-901.234"))
	assert.Equal(t, "****", MaskNPWP("1234"))
}

func TestMaskEmail(t *testing.T) {
	assert.Equal(t, "b***@example.com", MaskEmail("budi@example.com"))
	assert.Equal(t, "*@x.id", MaskEmail("a@x.id"))
	assert.Equal(t, "*********", MaskEmail("not-email"))
}

func TestMaskPhone(t *testing.T) {
	assert.Equal(t, "081********78", MaskPhone("0812345678978"[:13]))
	assert.Equal(t, "*****", MaskPhone("12345"))
}
