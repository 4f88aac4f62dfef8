package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		email string
		want  bool
	}{
		{"alice@x.com", true},
		{"first.last+tag@mail-host.co.uk", true},
		{"", false},
		{"alice", false},
		{"alice@", false},
		{"alice@host", false},
		{"@host.com", false},
		{"al ice@host.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidateEmail(tt.email))
		})
	}
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		want     bool
	}{
		{"valid", "Valid123", true},
		{"special chars allowed", "p@ss w0rd!", true},
		{"too short", "short1", false},
		{"seven chars", "short12", false},
		{"no digit", "alllettersnonumber", false},
		{"no letter", "1234567890", false},
		{"only non-ascii letters", "ééééééé1", false},
		{"cyrillic letters only", "пароль12", false},
		{"non-ascii with one ascii letter", "éééééééa1", true},
		{"long", strings.Repeat("a", 72) + "1", true},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidatePassword(tt.password))
		})
	}
}

func TestValidateUsername(t *testing.T) {
	assert.True(t, ValidateUsername("alice"))
	assert.True(t, ValidateUsername("a"))
	assert.True(t, ValidateUsername("user_01"))
	assert.False(t, ValidateUsername(""))
	assert.False(t, ValidateUsername("bad-name"))
	assert.False(t, ValidateUsername("white space"))
}
