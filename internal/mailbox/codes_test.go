package mailbox

import (
	"testing"
	"time"
)

func TestExtractCode(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		want  string
		found bool
	}{
		{
			name:  "code after keyword",
			text:  "Your verification code is 482913",
			want:  "482913",
			found: true,
		},
		{
			name:  "code after keyword with colon",
			text:  "Security code: 9182",
			want:  "9182",
			found: true,
		},
		{
			name:  "code before keyword",
			text:  "975310 is your verification code",
			want:  "975310",
			found: true,
		},
		{
			name:  "prefixed code before keyword",
			text:  "G-482913 is your Google verification code",
			want:  "482913",
			found: true,
		},
		{
			name:  "otp keyword",
			text:  "Use OTP 55443 to continue",
			want:  "55443",
			found: true,
		},
		{
			name:  "pin keyword",
			text:  "Your PIN is 332211.",
			want:  "332211",
			found: true,
		},
		{
			name:  "one-time password",
			text:  "Your one-time password: 446688",
			want:  "446688",
			found: true,
		},
		{
			name:  "keyword form beats earlier bare digits",
			text:  "Order #98765432 is confirmed. Your pickup code is 4411.",
			want:  "4411",
			found: true,
		},
		{
			name:  "bare digits fallback",
			text:  "Hi, 55443 should get you in.",
			want:  "55443",
			found: true,
		},
		{
			name:  "case insensitive",
			text:  "CODE 7777",
			want:  "7777",
			found: true,
		},
		{
			name:  "nine digit run rejected",
			text:  "Call 123456789 now",
			found: false,
		},
		{
			name:  "pin inside shipping does not count",
			text:  "Your shipping number is 12345678901 for the parcel",
			found: false,
		},
		{
			name:  "too few digits",
			text:  "Gate 123 opens at noon",
			found: false,
		},
		{
			name:  "no digits",
			text:  "Your code will arrive shortly",
			found: false,
		},
		{
			name:  "empty",
			text:  "",
			found: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, found := ExtractCode(tt.text)
			if found != tt.found {
				t.Fatalf("ExtractCode(%q) found = %v, want %v", tt.text, found, tt.found)
			}
			if found && got != tt.want {
				t.Errorf("ExtractCode(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestExtractCode_MultilineBody(t *testing.T) {
	body := "Hello,\n\nWe received a request to sign in to your account.\n\n" +
		"Your verification code:\n\n  718294\n\nThis code expires in 10 minutes.\n"

	got, found := ExtractCode(body)
	if !found {
		t.Fatal("ExtractCode should find a code in a multiline body")
	}
	if got != "718294" {
		t.Errorf("ExtractCode = %q, want %q", got, "718294")
	}
}

func TestFormatAge(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{15 * time.Minute, "15m"},
		{90 * time.Minute, "1h30m"},
		{45 * time.Second, "1m"},
	}
	for _, tt := range tests {
		if got := formatAge(tt.d); got != tt.want {
			t.Errorf("formatAge(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
