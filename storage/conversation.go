package storage

import (
	"encoding/json"

	"github.com/komatachi/komatachi/internal/logging"
	"github.com/komatachi/komatachi/message"
)

const metadataFile = "metadata.json"
const transcriptFile = "transcript.jsonl"

// Conversation is the sole writer of one conversation's on-disk state. It
// exclusively owns the in-memory transcript and metadata once loaded, and
// every mutation goes through its methods.
type Conversation struct {
	fs      *FS
	dir     string
	log     *logging.Logger
	loaded  bool
	meta    message.ConversationMetadata
	history []message.Message
}

// Open returns a Conversation rooted at dir (a subdirectory of fs's base).
// Callers must call Initialize or Load before any other method.
func Open(fs *FS, dir string, log *logging.Logger) *Conversation {
	return &Conversation{fs: fs, dir: dir, log: log}
}

func (c *Conversation) metadataPath() string   { return c.fs.Path(c.dir, metadataFile) }
func (c *Conversation) transcriptPath() string { return c.fs.Path(c.dir, transcriptFile) }

// Initialize creates a fresh conversation: metadata with now/now/0/model,
// and an empty transcript file. Fails with KindAlreadyExists if
// metadata.json is already present.
func (c *Conversation) Initialize(now int64, model *string) error {
	if c.fs.Exists(c.metadataPath()) {
		return newErr(KindAlreadyExists, c.metadataPath(), nil)
	}
	meta := message.ConversationMetadata{
		CreatedAt:       now,
		UpdatedAt:       now,
		CompactionCount: 0,
		Model:           model,
	}
	if err := WriteJSONL[message.Message](c.fs, c.transcriptPath(), nil); err != nil {
		return err
	}
	if err := c.fs.WriteJSON(c.metadataPath(), meta); err != nil {
		return err
	}
	c.meta = meta
	c.history = nil
	c.loaded = true
	return nil
}

// Load reads metadata.json and transcript.jsonl from disk into memory.
// If the transcript's tail is an assistant message containing an
// unanswered tool_use block (the process crashed between appending the
// assistant turn and appending its tool_result), that trailing message is
// dropped so the reloaded transcript is always valid to resubmit to a
// model.
func (c *Conversation) Load() (message.ConversationMetadata, []message.Message, error) {
	var meta message.ConversationMetadata
	if err := c.fs.ReadJSON(c.metadataPath(), &meta); err != nil {
		return message.ConversationMetadata{}, nil, err
	}

	msgs, err := ReadAllJSONL(c.fs, c.transcriptPath(), func(line []byte) (message.Message, error) {
		var m message.Message
		err := json.Unmarshal(line, &m)
		return m, err
	})
	if err != nil {
		return message.ConversationMetadata{}, nil, err
	}

	msgs = repairUnpairedToolUse(msgs, c.log)

	c.meta = meta
	c.history = msgs
	c.loaded = true
	return c.meta, copyMessages(c.history), nil
}

// repairUnpairedToolUse drops a trailing assistant message that contains a
// tool_use block, since a valid transcript never ends on an unanswered
// tool call.
func repairUnpairedToolUse(msgs []message.Message, log *logging.Logger) []message.Message {
	if len(msgs) == 0 {
		return msgs
	}
	last := msgs[len(msgs)-1]
	if last.Role != message.RoleAssistant {
		return msgs
	}
	if len(last.ToolUseBlocks()) == 0 {
		return msgs
	}
	if log != nil {
		log.Warn("repairing unpaired tool_use at transcript tail")
	}
	return msgs[:len(msgs)-1]
}

// AppendMessage appends m to disk first, then updates the in-memory
// history and metadata.updatedAt, then rewrites metadata.json. A failed
// append leaves both memory and disk unchanged. A failed metadata write
// leaves the message appended on disk and in memory: metadata is
// advisory.
func (c *Conversation) AppendMessage(now int64, m message.Message) error {
	if !c.loaded {
		return newErr(KindNotLoaded, c.dir, nil)
	}
	if err := c.fs.AppendJSONL(c.transcriptPath(), m); err != nil {
		return err
	}
	c.history = append(c.history, m)
	c.meta.UpdatedAt = now
	return c.fs.WriteJSON(c.metadataPath(), c.meta)
}

// ReplaceTranscript atomically rewrites transcript.jsonl with ms, then
// replaces the in-memory history and updates metadata.updatedAt. Used
// only by compaction. The caller's slice is copied; it is never retained.
func (c *Conversation) ReplaceTranscript(now int64, ms []message.Message) error {
	if !c.loaded {
		return newErr(KindNotLoaded, c.dir, nil)
	}
	if err := WriteJSONL(c.fs, c.transcriptPath(), ms); err != nil {
		return err
	}
	c.history = copyMessages(ms)
	c.meta.UpdatedAt = now
	return c.fs.WriteJSON(c.metadataPath(), c.meta)
}

// MetadataPatch carries the fields UpdateMetadata may change.
type MetadataPatch struct {
	CompactionCount *int
	Model           *string
}

// UpdateMetadata merges the non-nil fields of patch into the existing
// metadata. CreatedAt is never updatable; UpdatedAt is set to now.
func (c *Conversation) UpdateMetadata(now int64, patch MetadataPatch) error {
	if !c.loaded {
		return newErr(KindNotLoaded, c.dir, nil)
	}
	if patch.CompactionCount != nil {
		c.meta.CompactionCount = *patch.CompactionCount
	}
	if patch.Model != nil {
		c.meta.Model = patch.Model
	}
	c.meta.UpdatedAt = now
	return c.fs.WriteJSON(c.metadataPath(), c.meta)
}

// GetMessages returns a defensive copy of the in-memory history.
func (c *Conversation) GetMessages() ([]message.Message, error) {
	if !c.loaded {
		return nil, newErr(KindNotLoaded, c.dir, nil)
	}
	return copyMessages(c.history), nil
}

// GetMetadata returns the in-memory metadata.
func (c *Conversation) GetMetadata() (message.ConversationMetadata, error) {
	if !c.loaded {
		return message.ConversationMetadata{}, newErr(KindNotLoaded, c.dir, nil)
	}
	return c.meta, nil
}

func copyMessages(ms []message.Message) []message.Message {
	if ms == nil {
		return nil
	}
	out := make([]message.Message, len(ms))
	copy(out, ms)
	return out
}
