package iomanager

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSumAndString(t *testing.T) {
	d := Sum([]byte("http://a/"))
	assert.Len(t, d.String(), 40)
	assert.Regexp(t, "^[0-9A-F]{40}$", d.String())
}

func TestParseHexRoundTrip(t *testing.T) {
	d := Sum([]byte("http://a/"))
	parsed, err := ParseHex(d.String())
	assert.NoError(t, err)
	assert.Equal(t, d, parsed)
}

func TestParseHexRejectsLowercase(t *testing.T) {
	_, err := ParseHex("0123456789abcdef0123456789abcdef01234567")
	assert.Error(t, err)
}

func TestParseHexRejectsWrongLength(t *testing.T) {
	_, err := ParseHex("01234")
	assert.Error(t, err)
}

func TestParseHexAcceptsValidUppercase(t *testing.T) {
	d, err := ParseHex("0123456789ABCDEF0123456789ABCDEF01234567")
	assert.NoError(t, err)
	assert.Equal(t, "0123456789ABCDEF0123456789ABCDEF01234567", d.String())
}
