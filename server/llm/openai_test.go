package llm

import (
	"net/http"
	"testing"
)

func TestSetHeaderPreserveCase(t *testing.T) {
	hdr := http.Header{}
	setHeaderPreserveCase(hdr, "HTTP-Referer", "https://example.com/app")
	if vals := hdr["HTTP-Referer"]; len(vals) != 1 || vals[0] != "https://example.com/app" {
		t.Fatalf("expected HTTP-Referer slice to be preserved, got %+v", vals)
	}
	if _, exists := hdr["Http-Referer"]; exists {
		t.Fatalf("unexpected canonical header variant present: %+v", hdr)
	}

	setHeaderPreserveCase(hdr, "Referer", "https://example.com/app")
	if got := hdr.Get("Referer"); got != "https://example.com/app" {
		t.Fatalf("expected Referer to be set via canonical path, got %q", got)
	}

	// Blank values should be ignored.
	setHeaderPreserveCase(hdr, "  ", "value")
	setHeaderPreserveCase(hdr, "X-Test", "   ")
	if _, exists := hdr[" "]; exists {
		t.Fatalf("expected blank header keys to be ignored")
	}
	if got := hdr.Get("X-Test"); got != "" {
		t.Fatalf("expected blank header values to be skipped, got %q", got)
	}
}

func TestCoerceChoice(t *testing.T) {
	cases := []struct {
		name   string
		parsed map[string]any
		want   int
		ok     bool
	}{
		{"float", map[string]any{"choice": float64(3)}, 3, true},
		{"string", map[string]any{"choice": " 7 "}, 7, true},
		{"alt key action", map[string]any{"action": float64(2)}, 2, true},
		{"alt key bet", map[string]any{"bet": float64(5)}, 5, true},
		{"out of range high", map[string]any{"choice": float64(16)}, 0, false},
		{"out of range negative", map[string]any{"choice": float64(-1)}, 0, false},
		{"garbage string", map[string]any{"choice": "lots"}, 0, false},
		{"missing", map[string]any{"foo": float64(1)}, 0, false},
	}
	for _, tc := range cases {
		got, ok := coerceChoice(tc.parsed, 16)
		if ok != tc.ok || got != tc.want {
			t.Errorf("%s: got (%d,%v), want (%d,%v)", tc.name, got, ok, tc.want, tc.ok)
		}
	}
}

func TestExtractJSONObject(t *testing.T) {
	got := extractJSONObject("Here you go:\n```json\n{\"choice\": 4}\n```")
	if got != `{"choice": 4}` {
		t.Fatalf("unexpected extraction: %q", got)
	}
	if extractJSONObject("no braces here") != "" {
		t.Fatalf("expected empty for text without an object")
	}
}

func TestFirstInt(t *testing.T) {
	if n, ok := firstInt("I pick 12 this round"); !ok || n != 12 {
		t.Fatalf("got (%d,%v)", n, ok)
	}
	if _, ok := firstInt("no digits"); ok {
		t.Fatalf("expected no match")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("hello", 10); got != "hello" {
		t.Fatalf("short strings should pass through, got %q", got)
	}
	if got := truncate("hello world", 8); got != "hello..." {
		t.Fatalf("unexpected truncation: %q", got)
	}
}
