package utils

import "testing"

func TestMaskToken(t *testing.T) {
	tests := []struct {
		name  string
		token string
		want  string
	}{
		{"short token fully hidden", "abc123", "***"},
		{"standard token", "ghu_16charsXYZabcdef", "ghu_...cdef"},
		{"session token keeps tid prefix", "tid=0123456789abcdef;exp=1716000000;sku=free", "tid=0123...cdef;***"},
		{"short tid falls through", "tid=12345;exp=99", "tid=...p=99"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MaskToken(tt.token); got != tt.want {
				t.Errorf("MaskToken(%q) = %q, want %q", tt.token, got, tt.want)
			}
		})
	}
}
