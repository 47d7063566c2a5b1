package identity

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile(%s): %v", name, err)
	}
}

func TestLoadFilesAllMissing(t *testing.T) {
	dir := t.TempDir()
	f, err := LoadFiles(dir)
	if err != nil {
		t.Fatalf("LoadFiles: %v", err)
	}
	if f.Soul != nil || f.Identity != nil || f.User != nil || f.Memory != nil || f.Agents != nil || f.Tools != nil {
		t.Errorf("expected all nil, got %+v", f)
	}
}

func TestLoadFilesTrimsContent(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "SOUL.md", "  \n  I am the soul.  \n\n")

	f, err := LoadFiles(dir)
	if err != nil {
		t.Fatalf("LoadFiles: %v", err)
	}
	if f.Soul == nil || *f.Soul != "I am the soul." {
		t.Errorf("Soul = %v, want trimmed content", f.Soul)
	}
}

func TestLoadFilesIdempotent(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "IDENTITY.md", "Name: Komatachi")

	first, err := LoadFiles(dir)
	if err != nil {
		t.Fatalf("LoadFiles: %v", err)
	}
	second, err := LoadFiles(dir)
	if err != nil {
		t.Fatalf("LoadFiles: %v", err)
	}
	if *first.Identity != *second.Identity {
		t.Errorf("repeated loads diverged: %q vs %q", *first.Identity, *second.Identity)
	}
}

func TestBuildSystemPromptSectionOrderAndHeadings(t *testing.T) {
	soul := "I persist."
	identityDoc := "I am Komatachi."
	user := "Ada, a researcher."
	memory := "We discussed goroutines."
	agents := "Be concise."
	files := Files{Soul: &soul, Identity: &identityDoc, User: &user, Memory: &memory, Agents: &agents}

	rt := Runtime{CurrentTime: time.Date(2026, 8, 3, 12, 0, 0, 0, time.UTC)}
	toolsText := "Tool: calc\nDescription: evaluate an expression\nParameters:\n"

	got := BuildSystemPrompt(files, toolsText, rt)

	wantOrder := []string{
		soul,
		identityDoc,
		"## About the User",
		user,
		"## Available Tools",
		"Tool: calc",
		"## Current Time",
		"2026-08-03T12:00:00Z",
		"## Memory",
		memory,
		"## Guidelines",
		agents,
	}
	lastIdx := -1
	for _, want := range wantOrder {
		idx := indexOf(got, want)
		if idx < 0 {
			t.Fatalf("missing expected fragment %q in prompt:\n%s", want, got)
		}
		if idx < lastIdx {
			t.Fatalf("fragment %q out of order in prompt:\n%s", want, got)
		}
		lastIdx = idx
	}
}

func TestBuildSystemPromptOmitsToolsSectionWhenAbsent(t *testing.T) {
	got := BuildSystemPrompt(Files{}, "", Runtime{CurrentTime: time.Now()})
	if indexOf(got, "## Available Tools") >= 0 {
		t.Errorf("expected no tools section, got:\n%s", got)
	}
}

func TestBuildSystemPromptOmitsMemoryAndGuidelinesWhenAbsent(t *testing.T) {
	got := BuildSystemPrompt(Files{}, "", Runtime{CurrentTime: time.Now()})
	if indexOf(got, "## Memory") >= 0 {
		t.Errorf("expected no memory section, got:\n%s", got)
	}
	if indexOf(got, "## Guidelines") >= 0 {
		t.Errorf("expected no guidelines section, got:\n%s", got)
	}
}

func TestBuildSystemPromptAlwaysHasCurrentTime(t *testing.T) {
	got := BuildSystemPrompt(Files{}, "", Runtime{CurrentTime: time.Now()})
	if indexOf(got, "## Current Time") < 0 {
		t.Errorf("expected current time section, got:\n%s", got)
	}
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}
