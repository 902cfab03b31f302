package mailbox

import (
	"strings"
	"testing"
)

func TestExtractCode(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
		ok   bool
	}{
		{
			name: "labeled verification code",
			body: "Your verification code: 481923\nThis code expires in 10 minutes.",
			want: "481923",
			ok:   true,
		},
		{
			name: "code is phrasing",
			body: "Hello,\nyour one-time code is 9274.",
			want: "9274",
			ok:   true,
		},
		{
			name: "labeled code wins over other digit runs",
			body: "Order 123456 confirmed. Verification code: 7788\nRef 998877",
			want: "7788",
			ok:   true,
		},
		{
			name: "bare six digit fallback",
			body: "Use 552901 to finish signing in.",
			want: "552901",
			ok:   true,
		},
		{
			name: "no code",
			body: "Welcome to your weekly training summary.",
			ok:   false,
		},
		{
			name: "digit runs outside code lengths ignored",
			body: "Call us at 18005551234 for support.",
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractCode(tt.body)
			if ok != tt.ok {
				t.Fatalf("ExtractCode ok = %v, want %v", ok, tt.ok)
			}
			if got != tt.want {
				t.Errorf("ExtractCode = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStripHTML(t *testing.T) {
	html := `<html><head><style>.x { color: red }</style></head>
<body><p>Your verification code:&nbsp;<b>314159</b></p>
<script>track();</script></body></html>`

	text := StripHTML(html)

	if code, ok := ExtractCode(text); !ok || code != "314159" {
		t.Errorf("code from stripped HTML = %q (ok=%v), want 314159", code, ok)
	}
	for _, fragment := range []string{"<b>", "track()", "color: red"} {
		if strings.Contains(text, fragment) {
			t.Errorf("stripped text still contains %q: %q", fragment, text)
		}
	}
}
