package wire

import (
	"bytes"
	"strings"
	"testing"
)

func TestReaderDecodesInputLine(t *testing.T) {
	r := NewReader(strings.NewReader(`{"type":"input","text":"hello"}` + "\n"))
	res, ok := r.Next()
	if !ok {
		t.Fatal("expected a line")
	}
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Message.Type != InTypeInput || res.Message.Text != "hello" {
		t.Errorf("got %+v", res.Message)
	}
}

func TestReaderMalformedLineReportsErrorAndContinues(t *testing.T) {
	r := NewReader(strings.NewReader("not json\n" + `{"type":"input","text":"ok"}` + "\n"))

	res1, ok := r.Next()
	if !ok {
		t.Fatal("expected first line")
	}
	if res1.Err == nil {
		t.Fatal("expected decode error on malformed line")
	}

	res2, ok := r.Next()
	if !ok {
		t.Fatal("expected second line")
	}
	if res2.Err != nil {
		t.Fatalf("unexpected error on valid line: %v", res2.Err)
	}
	if res2.Message.Text != "ok" {
		t.Errorf("got %+v", res2.Message)
	}
}

func TestReaderEOFReturnsFalse(t *testing.T) {
	r := NewReader(strings.NewReader(""))
	_, ok := r.Next()
	if ok {
		t.Error("expected ok=false at EOF")
	}
}

func TestWriterEmitsLineDelimitedJSON(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	if err := w.Write(Ready()); err != nil {
		t.Fatalf("Write(Ready): %v", err)
	}
	if err := w.Write(Output("Hello")); err != nil {
		t.Fatalf("Write(Output): %v", err)
	}
	if err := w.Write(ErrorMessage("boom")); err != nil {
		t.Fatalf("Write(ErrorMessage): %v", err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3: %q", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], `"type":"ready"`) {
		t.Errorf("line 0 = %q", lines[0])
	}
	if !strings.Contains(lines[1], `"type":"output"`) || !strings.Contains(lines[1], `"text":"Hello"`) {
		t.Errorf("line 1 = %q", lines[1])
	}
	if !strings.Contains(lines[2], `"type":"error"`) || !strings.Contains(lines[2], `"message":"boom"`) {
		t.Errorf("line 2 = %q", lines[2])
	}
}
