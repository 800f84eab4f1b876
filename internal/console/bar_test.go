package console

import (
	"bytes"
	"strings"
	"testing"
)

func TestRender(t *testing.T) {
	b := NewBar(&bytes.Buffer{}, "42", true)

	line := b.Render(5, 10, 2, 1500000)
	for _, want := range []string{"[Video:42]", "5/10", "1.5 MB/s", "skipped:2"} {
		if !strings.Contains(line, want) {
			t.Errorf("Expected %q in %q", want, line)
		}
	}
}

func TestRenderZeroTotal(t *testing.T) {
	b := NewBar(&bytes.Buffer{}, "1", true)

	line := b.Render(0, 0, 0, 0)
	if !strings.Contains(line, "0/0") || !strings.Contains(line, "0 B/s") {
		t.Errorf("Unexpected line %q", line)
	}
}

func TestUpdateAndFinish(t *testing.T) {
	var buf bytes.Buffer
	b := NewBar(&buf, "7", true)

	b.Update(1, 3, 0, 100)
	b.Update(3, 3, 1, 100)
	b.Finish()

	out := buf.String()
	if strings.Count(out, "\r") != 2 {
		t.Errorf("Expected 2 redraws, got %q", out)
	}
	if !strings.HasSuffix(out, "\n") {
		t.Errorf("Expected trailing newline, got %q", out)
	}
}

func TestDisabled(t *testing.T) {
	var buf bytes.Buffer
	b := NewBar(&buf, "7", false)

	b.Update(1, 3, 0, 100)
	b.Finish()

	if buf.Len() != 0 {
		t.Errorf("Expected no output, got %q", buf.String())
	}
}

func TestIsTerminal(t *testing.T) {
	if IsTerminal(&bytes.Buffer{}) {
		t.Error("Expected buffer not to be a terminal")
	}
}
