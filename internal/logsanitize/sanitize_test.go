package logsanitize

import "testing"

func TestSanitize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"clean string", "plain error text", "plain error text"},
		{"newline injection", "user\nFAKE LOG LINE", "user_FAKE LOG LINE"},
		{"carriage return", "a\rb", "a_b"},
		{"tab preserved", "col1\tcol2", "col1\tcol2"},
		{"null byte", "a\x00b", "a_b"},
		{"del and c1", "a\x7fb\x85c", "a_b_c"},
		{"unicode untouched", "código 123", "código 123"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sanitize(tt.input); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
