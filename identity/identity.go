// Package identity loads a runtime's user-editable identity files and
// assembles them into the system prompt sent with every model call.
// Files are reloaded on every turn — there is no caching — so identity
// edits take effect without a restart.
package identity

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Files holds the six optional identity documents. A nil field means the
// corresponding file was absent; any other read failure propagates from
// LoadFiles instead of being folded into this struct.
type Files struct {
	Soul     *string
	Identity *string
	User     *string
	Memory   *string
	Agents   *string
	Tools    *string
}

var filenames = struct {
	soul, identity, user, memory, agents, tools string
}{
	soul:     "SOUL.md",
	identity: "IDENTITY.md",
	user:     "USER.md",
	memory:   "MEMORY.md",
	agents:   "AGENTS.md",
	tools:    "TOOLS.md",
}

// LoadFiles reads the six fixed identity filenames from homeDir. A
// missing file yields a nil field; any other I/O error propagates.
func LoadFiles(homeDir string) (Files, error) {
	var f Files
	var err error

	if f.Soul, err = readOptional(homeDir, filenames.soul); err != nil {
		return Files{}, err
	}
	if f.Identity, err = readOptional(homeDir, filenames.identity); err != nil {
		return Files{}, err
	}
	if f.User, err = readOptional(homeDir, filenames.user); err != nil {
		return Files{}, err
	}
	if f.Memory, err = readOptional(homeDir, filenames.memory); err != nil {
		return Files{}, err
	}
	if f.Agents, err = readOptional(homeDir, filenames.agents); err != nil {
		return Files{}, err
	}
	if f.Tools, err = readOptional(homeDir, filenames.tools); err != nil {
		return Files{}, err
	}
	return f, nil
}

func readOptional(dir, name string) (*string, error) {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("identity: reading %s: %w", name, err)
	}
	trimmed := strings.TrimSpace(string(data))
	return &trimmed, nil
}

// Runtime carries the values BuildSystemPrompt needs beyond the identity
// files themselves.
type Runtime struct {
	CurrentTime time.Time
}

// BuildSystemPrompt assembles the identity files, a rendered tool
// description block, and runtime values into the system prompt, in fixed
// section order: who (SOUL/IDENTITY/USER), what it can do
// (toolsDescription/TOOLS.md), when (current time), what it remembers
// (MEMORY.md), how it should behave (AGENTS.md). toolsDescription is
// expected in the registry's own "Tool: ...\nDescription: ...\n" format;
// pass an empty string when there is no registry to describe. Non-empty
// sections are joined by a blank line.
func BuildSystemPrompt(files Files, toolsDescription string, runtime Runtime) string {
	var sections []string

	if s := aboutSection(files); s != "" {
		sections = append(sections, s)
	}
	if s := toolsSection(files, toolsDescription); s != "" {
		sections = append(sections, s)
	}
	sections = append(sections, "## Current Time\n\n"+runtime.CurrentTime.Format(time.RFC3339))
	if files.Memory != nil && *files.Memory != "" {
		sections = append(sections, "## Memory\n\n"+*files.Memory)
	}
	if files.Agents != nil && *files.Agents != "" {
		sections = append(sections, "## Guidelines\n\n"+*files.Agents)
	}

	return strings.Join(sections, "\n\n")
}

func aboutSection(files Files) string {
	var parts []string
	if files.Soul != nil && *files.Soul != "" {
		parts = append(parts, *files.Soul)
	}
	if files.Identity != nil && *files.Identity != "" {
		parts = append(parts, *files.Identity)
	}
	if files.User != nil && *files.User != "" {
		parts = append(parts, "## About the User\n\n"+*files.User)
	}
	return strings.Join(parts, "\n\n")
}

func toolsSection(files Files, toolsDescription string) string {
	hasTools := toolsDescription != ""
	hasToolsFile := files.Tools != nil && *files.Tools != ""
	if !hasTools && !hasToolsFile {
		return ""
	}

	var parts []string
	if hasTools {
		parts = append(parts, "## Available Tools\n\n"+toolsDescription)
	}
	if hasToolsFile {
		parts = append(parts, *files.Tools)
	}
	return strings.Join(parts, "\n\n")
}
