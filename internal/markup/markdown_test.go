package markup

import "testing"

func TestEscape(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"hi", "hi"},
		{"hello.", "hello\\."},
		{"a_b*c", "a\\_b\\*c"},
		{"(1+1=2)!", "\\(1\\+1\\=2\\)\\!"},
		{"", ""},
		{"émoji ✅", "émoji ✅"},
	}
	for _, tt := range tests {
		if got := Escape(tt.in); got != tt.want {
			t.Errorf("Escape(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCode(t *testing.T) {
	if got := Code("abc123"); got != "`abc123`" {
		t.Fatalf("Code() = %q", got)
	}
	if got := Code("a`b"); got != "`a\\`b`" {
		t.Fatalf("Code() did not escape backtick: %q", got)
	}
}
