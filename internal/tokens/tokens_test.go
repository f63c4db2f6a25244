package tokens

import (
	"strings"
	"testing"
)

func TestCount(t *testing.T) {
	c := NewCounter()

	if got := c.Count(""); got != 0 {
		t.Errorf("Count(\"\") = %d, want 0", got)
	}
	// Non-empty input never rounds down to zero.
	if got := c.Count("a"); got != 1 {
		t.Errorf("Count(short) = %d, want 1", got)
	}
	if got := c.Count(strings.Repeat("a", 400)); got != 100 {
		t.Errorf("Count(400 chars) = %d, want 100", got)
	}
}

func TestCountMultibyte(t *testing.T) {
	c := NewCounter()
	// 8 runes, not 24 bytes.
	if got := c.Count("日本語のテキスト"); got != 2 {
		t.Errorf("Count(multibyte) = %d, want 2", got)
	}
}

func TestCustomRatio(t *testing.T) {
	c := NewCounterWithRatio(2)
	if got := c.Count("abcdefgh"); got != 4 {
		t.Errorf("Count ratio=2 = %d, want 4", got)
	}
	// Invalid ratio falls back to the default.
	c = NewCounterWithRatio(-1)
	if got := c.Count(strings.Repeat("a", 40)); got != 10 {
		t.Errorf("Count fallback ratio = %d, want 10", got)
	}
}

func TestTruncate(t *testing.T) {
	c := NewCounter()

	if got := c.Truncate("anything", 0); got != "" {
		t.Errorf("Truncate to 0 = %q, want empty", got)
	}

	short := "short text"
	if got := c.Truncate(short, 100); got != short {
		t.Errorf("Truncate of fitting text = %q, want unchanged", got)
	}

	long := strings.Repeat("word ", 200)
	cut := c.Truncate(long, 10)
	if c.Count(cut) > 10 {
		t.Errorf("Truncate result is %d tokens, want <= 10", c.Count(cut))
	}
	if strings.HasSuffix(cut, " ") {
		t.Errorf("Truncate left trailing whitespace: %q", cut)
	}
}

func TestTruncateBreaksAtWhitespace(t *testing.T) {
	c := NewCounter()
	long := strings.Repeat("alpha beta ", 100)
	cut := c.Truncate(long, 5)
	// The cut must not split a word when whitespace sits close enough.
	if !strings.HasSuffix(cut, "alpha") && !strings.HasSuffix(cut, "beta") {
		t.Errorf("Truncate split mid-word: %q", cut)
	}
}
