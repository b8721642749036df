package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsAutoReply(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    bool
	}{
		{"auto-replied flagged", map[string]string{"Auto-Submitted": "auto-replied"}, true},
		{"auto-generated flagged", map[string]string{"Auto-Submitted": "auto-generated"}, true},
		{"auto-submitted no not flagged alone", map[string]string{"Auto-Submitted": "no"}, false},
		{"suppress header flagged", map[string]string{"X-Auto-Response-Suppress": "All"}, true},
		{"precedence bulk flagged", map[string]string{"Precedence": "bulk"}, true},
		{"precedence junk flagged", map[string]string{"Precedence": "junk"}, true},
		{"precedence list flagged", map[string]string{"Precedence": "list"}, true},
		{"precedence normal not flagged", map[string]string{"Precedence": "normal"}, false},
		{"no relevant headers", map[string]string{"Subject": "hi"}, false},
		{"header name case insensitive", map[string]string{"auto-submitted": "auto-replied"}, true},
		{"empty headers", map[string]string{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsAutoReply(tt.headers))
		})
	}
}
