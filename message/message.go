// Package message defines the wire-visible conversation data model: roles,
// content blocks, and the metadata that rides alongside a persisted
// transcript.
//
// Information Hiding:
// - Tagged-union encoding of content blocks hidden behind MarshalJSON/UnmarshalJSON
// - Callers work with the Kind field and the typed accessors, never raw JSON
package message

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Role identifies who authored a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockKind tags the variant of a ContentBlock.
type BlockKind string

const (
	BlockText       BlockKind = "text"
	BlockToolUse    BlockKind = "tool_use"
	BlockToolResult BlockKind = "tool_result"
)

// ContentBlock is a tagged sum of the three block shapes a Message can
// carry. Exactly one of the payload fields is meaningful, selected by Kind.
type ContentBlock struct {
	Kind BlockKind

	// BlockText payload.
	Text string

	// BlockToolUse payload.
	ToolUseID    string
	ToolUseName  string
	ToolUseInput json.RawMessage

	// BlockToolResult payload.
	ToolResultToolUseID string
	ToolResultContent   ToolResultContent
	ToolResultIsError   bool
}

// ToolResultContent is itself a sum: a tool_result's content is either a
// plain string or a sequence of text blocks.
type ToolResultContent struct {
	Text  string
	Parts []ContentBlock // BlockText entries only, when not a plain string
}

// String renders the tool result content as flat text, concatenating parts
// when the content is a sequence rather than a plain string.
func (c ToolResultContent) String() string {
	if c.Parts == nil {
		return c.Text
	}
	out := ""
	for _, p := range c.Parts {
		out += p.Text
	}
	return out
}

// TextContent returns a ToolResultContent holding a plain string.
func TextContent(s string) ToolResultContent {
	return ToolResultContent{Text: s}
}

// NewText returns a text content block.
func NewText(text string) ContentBlock {
	return ContentBlock{Kind: BlockText, Text: text}
}

// NewToolUse returns a tool_use content block.
func NewToolUse(id, name string, input json.RawMessage) ContentBlock {
	return ContentBlock{Kind: BlockToolUse, ToolUseID: id, ToolUseName: name, ToolUseInput: input}
}

// NewToolResult returns a tool_result content block.
func NewToolResult(toolUseID string, content ToolResultContent, isError bool) ContentBlock {
	return ContentBlock{
		Kind:                BlockToolResult,
		ToolResultToolUseID: toolUseID,
		ToolResultContent:   content,
		ToolResultIsError:   isError,
	}
}

// Message is one turn of the transcript: a role plus content that is either
// a plain string or an ordered sequence of content blocks.
type Message struct {
	Role Role

	// Exactly one of Text or Blocks is populated; Blocks == nil means the
	// content is the plain string Text (including the empty string).
	Text   string
	Blocks []ContentBlock
}

// NewTextMessage builds a plain-string Message.
func NewTextMessage(role Role, text string) Message {
	return Message{Role: role, Text: text}
}

// NewBlockMessage builds a Message whose content is an ordered block sequence.
func NewBlockMessage(role Role, blocks []ContentBlock) Message {
	return Message{Role: role, Blocks: blocks}
}

// IsPlainText reports whether the message's content is a bare string.
func (m Message) IsPlainText() bool {
	return m.Blocks == nil
}

// ToolUseBlocks returns the tool_use blocks in m, in order.
func (m Message) ToolUseBlocks() []ContentBlock {
	var out []ContentBlock
	for _, b := range m.Blocks {
		if b.Kind == BlockToolUse {
			out = append(out, b)
		}
	}
	return out
}

// ToolResultBlocks returns the tool_result blocks in m, in order.
func (m Message) ToolResultBlocks() []ContentBlock {
	var out []ContentBlock
	for _, b := range m.Blocks {
		if b.Kind == BlockToolResult {
			out = append(out, b)
		}
	}
	return out
}

// Textualize flattens a message to plain text for token estimation:
// concatenated text blocks, JSON-encoded tool_use input, flattened
// tool_result content.
func (m Message) Textualize() string {
	if m.IsPlainText() {
		return m.Text
	}
	out := ""
	for _, b := range m.Blocks {
		switch b.Kind {
		case BlockText:
			out += b.Text
		case BlockToolUse:
			out += string(b.ToolUseInput)
		case BlockToolResult:
			out += b.ToolResultContent.String()
		}
	}
	return out
}

// --- JSON encoding -----------------------------------------------------

type wireMessage struct {
	Role    Role            `json:"role"`
	Content json.RawMessage `json:"content"`
}

type wireBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// MarshalJSON encodes Message per the on-disk/wire shape: content is a bare
// JSON string for plain-text messages, or an array of tagged blocks.
func (m Message) MarshalJSON() ([]byte, error) {
	var content json.RawMessage
	var err error

	if m.IsPlainText() {
		content, err = json.Marshal(m.Text)
		if err != nil {
			return nil, err
		}
	} else {
		blocks := make([]wireBlock, len(m.Blocks))
		for i, b := range m.Blocks {
			wb, err := encodeBlock(b)
			if err != nil {
				return nil, err
			}
			blocks[i] = wb
		}
		content, err = json.Marshal(blocks)
		if err != nil {
			return nil, err
		}
	}

	return json.Marshal(wireMessage{Role: m.Role, Content: content})
}

func encodeBlock(b ContentBlock) (wireBlock, error) {
	switch b.Kind {
	case BlockText:
		return wireBlock{Type: "text", Text: b.Text}, nil
	case BlockToolUse:
		input := b.ToolUseInput
		if input == nil {
			input = json.RawMessage("{}")
		}
		return wireBlock{Type: "tool_use", ID: b.ToolUseID, Name: b.ToolUseName, Input: input}, nil
	case BlockToolResult:
		var content json.RawMessage
		var err error
		if b.ToolResultContent.Parts != nil {
			parts := make([]wireBlock, len(b.ToolResultContent.Parts))
			for i, p := range b.ToolResultContent.Parts {
				parts[i] = wireBlock{Type: "text", Text: p.Text}
			}
			content, err = json.Marshal(parts)
		} else {
			content, err = json.Marshal(b.ToolResultContent.Text)
		}
		if err != nil {
			return wireBlock{}, err
		}
		return wireBlock{Type: "tool_result", ToolUseID: b.ToolResultToolUseID, Content: content, IsError: b.ToolResultIsError}, nil
	default:
		return wireBlock{}, fmt.Errorf("message: unknown block kind %q", b.Kind)
	}
}

// UnmarshalJSON decodes Message from the on-disk/wire shape.
func (m *Message) UnmarshalJSON(data []byte) error {
	var wm wireMessage
	if err := json.Unmarshal(data, &wm); err != nil {
		return fmt.Errorf("message: decode envelope: %w", err)
	}
	m.Role = wm.Role

	// Plain string content.
	var asString string
	if err := json.Unmarshal(wm.Content, &asString); err == nil {
		m.Text = asString
		m.Blocks = nil
		return nil
	}

	var wireBlocks []wireBlock
	if err := json.Unmarshal(wm.Content, &wireBlocks); err != nil {
		return fmt.Errorf("message: content is neither a string nor a block array: %w", err)
	}

	blocks := make([]ContentBlock, len(wireBlocks))
	for i, wb := range wireBlocks {
		b, err := decodeBlock(wb)
		if err != nil {
			return err
		}
		blocks[i] = b
	}
	m.Blocks = blocks
	m.Text = ""
	return nil
}

func decodeBlock(wb wireBlock) (ContentBlock, error) {
	switch wb.Type {
	case "text":
		return NewText(wb.Text), nil
	case "tool_use":
		return NewToolUse(wb.ID, wb.Name, wb.Input), nil
	case "tool_result":
		content, err := decodeToolResultContent(wb.Content)
		if err != nil {
			return ContentBlock{}, err
		}
		return NewToolResult(wb.ToolUseID, content, wb.IsError), nil
	default:
		return ContentBlock{}, fmt.Errorf("message: unknown block type %q", wb.Type)
	}
}

// ConversationMetadata is the small, advisory record stored alongside a
// transcript. CreatedAt is immutable after initialization; CompactionCount
// and UpdatedAt are monotonically non-decreasing.
type ConversationMetadata struct {
	CreatedAt       int64   `json:"createdAt"`
	UpdatedAt       int64   `json:"updatedAt"`
	CompactionCount int     `json:"compactionCount"`
	Model           *string `json:"model"`
}

// FileOperations tracks the file paths a turn's tool dispatches touched.
// ReadPaths holds every path recorded as read; FilesRead excludes any of
// them also present in Edited or Written — a file that was modified is
// not "merely read".
type FileOperations struct {
	ReadPaths    map[string]struct{}
	EditedPaths  map[string]struct{}
	WrittenPaths map[string]struct{}
}

// NewFileOperations returns an empty FileOperations.
func NewFileOperations() *FileOperations {
	return &FileOperations{
		ReadPaths:    make(map[string]struct{}),
		EditedPaths:  make(map[string]struct{}),
		WrittenPaths: make(map[string]struct{}),
	}
}

// RecordRead marks path as read.
func (f *FileOperations) RecordRead(path string) { f.ReadPaths[path] = struct{}{} }

// RecordEdited marks path as edited.
func (f *FileOperations) RecordEdited(path string) { f.EditedPaths[path] = struct{}{} }

// RecordWritten marks path as written.
func (f *FileOperations) RecordWritten(path string) { f.WrittenPaths[path] = struct{}{} }

// FilesRead returns the sorted set of paths that were only read: the
// read set minus anything also edited or written.
func (f *FileOperations) FilesRead() []string {
	var out []string
	for p := range f.ReadPaths {
		if _, edited := f.EditedPaths[p]; edited {
			continue
		}
		if _, written := f.WrittenPaths[p]; written {
			continue
		}
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// FilesModified returns the sorted union of edited and written paths.
func (f *FileOperations) FilesModified() []string {
	set := make(map[string]struct{})
	for p := range f.EditedPaths {
		set[p] = struct{}{}
	}
	for p := range f.WrittenPaths {
		set[p] = struct{}{}
	}
	var out []string
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func decodeToolResultContent(raw json.RawMessage) (ToolResultContent, error) {
	if len(raw) == 0 {
		return ToolResultContent{}, nil
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return TextContent(asString), nil
	}
	var wireBlocks []wireBlock
	if err := json.Unmarshal(raw, &wireBlocks); err != nil {
		return ToolResultContent{}, fmt.Errorf("message: tool_result content is neither string nor block array: %w", err)
	}
	parts := make([]ContentBlock, len(wireBlocks))
	for i, wb := range wireBlocks {
		parts[i] = NewText(wb.Text)
	}
	return ToolResultContent{Parts: parts}, nil
}
