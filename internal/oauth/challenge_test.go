package oauth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseChallenge(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   Challenge
	}{
		{
			name:   "empty",
			header: "",
			want:   Challenge{Scheme: "Bearer"},
		},
		{
			name:   "scheme only",
			header: "Bearer",
			want:   Challenge{Scheme: "Bearer"},
		},
		{
			name:   "quoted resource metadata",
			header: `Bearer realm="mcp", resource_metadata="https://example.com/.well-known/oauth-protected-resource"`,
			want: Challenge{
				Scheme:           "Bearer",
				Realm:            "mcp",
				ResourceMetadata: "https://example.com/.well-known/oauth-protected-resource",
			},
		},
		{
			name:   "unquoted value",
			header: "Bearer resource_metadata=https://example.com/meta",
			want:   Challenge{Scheme: "Bearer", ResourceMetadata: "https://example.com/meta"},
		},
		{
			name:   "error and scope with comma in quotes",
			header: `Bearer error="insufficient_scope", scope="read, write", realm="x"`,
			want:   Challenge{Scheme: "Bearer", Error: "insufficient_scope", Scope: "read, write", Realm: "x"},
		},
		{
			name:   "escaped quote",
			header: `Bearer realm="a \"b\""`,
			want:   Challenge{Scheme: "Bearer", Realm: `a "b"`},
		},
		{
			name:   "params without scheme",
			header: `realm="x"`,
			want:   Challenge{Scheme: "Bearer", Realm: "x"},
		},
		{
			name:   "case insensitive keys",
			header: `Bearer Resource_Metadata="https://m"`,
			want:   Challenge{Scheme: "Bearer", ResourceMetadata: "https://m"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseChallenge(tt.header))
		})
	}
}
