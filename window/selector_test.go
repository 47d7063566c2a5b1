package window

import (
	"testing"

	"github.com/komatachi/komatachi/message"
)

func constTokens(n int) TokenEstimator {
	return func(message.Message) int { return n }
}

func textMsgs(n int) []message.Message {
	ms := make([]message.Message, n)
	for i := range ms {
		ms[i] = message.NewTextMessage(message.RoleUser, "hi")
	}
	return ms
}

func TestSelectMessagesEmptyInput(t *testing.T) {
	sel := SelectMessages(nil, 100, constTokens(10))
	if len(sel.Selected) != 0 {
		t.Errorf("Selected = %v, want empty", sel.Selected)
	}
	if sel.Overflow != nil {
		t.Errorf("Overflow = %+v, want nil", sel.Overflow)
	}
}

func TestSelectMessagesEverythingFits(t *testing.T) {
	ms := textMsgs(5)
	sel := SelectMessages(ms, 100, constTokens(10))
	if len(sel.Selected) != 5 {
		t.Fatalf("len(Selected) = %d, want 5", len(sel.Selected))
	}
	if sel.Overflow != nil {
		t.Errorf("Overflow = %+v, want nil", sel.Overflow)
	}
}

func TestSelectMessagesDropsOldestContiguousPrefix(t *testing.T) {
	ms := textMsgs(10)
	sel := SelectMessages(ms, 35, constTokens(10)) // fits 3 messages (30 <= 35, 4th would be 40 > 35)
	if len(sel.Selected) != 3 {
		t.Fatalf("len(Selected) = %d, want 3", len(sel.Selected))
	}
	if sel.Overflow == nil {
		t.Fatal("expected overflow")
	}
	if sel.Overflow.DroppedCount != 7 {
		t.Errorf("DroppedCount = %d, want 7", sel.Overflow.DroppedCount)
	}
	if sel.Overflow.EstimatedDroppedTokens != 70 {
		t.Errorf("EstimatedDroppedTokens = %d, want 70", sel.Overflow.EstimatedDroppedTokens)
	}
}

func TestSelectMessagesZeroBudgetDropsAll(t *testing.T) {
	ms := textMsgs(4)
	sel := SelectMessages(ms, 0, constTokens(1))
	if len(sel.Selected) != 0 {
		t.Errorf("Selected = %v, want empty", sel.Selected)
	}
	if sel.Overflow == nil || sel.Overflow.DroppedCount != 4 {
		t.Errorf("Overflow = %+v, want DroppedCount=4", sel.Overflow)
	}
}

func TestSelectMessagesNegativeBudgetDropsAll(t *testing.T) {
	ms := textMsgs(2)
	sel := SelectMessages(ms, -5, constTokens(1))
	if len(sel.Selected) != 0 {
		t.Errorf("Selected = %v, want empty", sel.Selected)
	}
	if sel.Overflow == nil || sel.Overflow.DroppedCount != 2 {
		t.Errorf("Overflow = %+v, want DroppedCount=2", sel.Overflow)
	}
}

func TestSelectMessagesSingleOversizedMessageNotForced(t *testing.T) {
	ms := textMsgs(1)
	sel := SelectMessages(ms, 5, constTokens(100))
	if len(sel.Selected) != 0 {
		t.Errorf("Selected = %v, want empty (oversized message not force-included)", sel.Selected)
	}
	if sel.Overflow == nil || sel.Overflow.DroppedCount != 1 {
		t.Errorf("Overflow = %+v, want DroppedCount=1", sel.Overflow)
	}
}

func TestSelectMessagesNeverSkipsToIncludeOlderMessage(t *testing.T) {
	// Newest message is oversized; an older, smaller message must not be
	// pulled in around it — selection stays contiguous from the tail.
	tokensOf := func(m message.Message) int {
		if m.Text == "big" {
			return 1000
		}
		return 1
	}
	ms := []message.Message{
		message.NewTextMessage(message.RoleUser, "small-old"),
		message.NewTextMessage(message.RoleUser, "big"),
	}
	sel := SelectMessages(ms, 10, tokensOf)
	if len(sel.Selected) != 0 {
		t.Errorf("Selected = %v, want empty — must not skip oversized tail message", sel.Selected)
	}
}

func TestEstimateStringTokensCeilsChars(t *testing.T) {
	cases := []struct {
		text string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{"abcdefgh", 2},
		{"abcdefghi", 3},
	}
	for _, c := range cases {
		got := EstimateStringTokens(c.text)
		if got != c.want {
			t.Errorf("EstimateStringTokens(%q) = %d, want %d", c.text, got, c.want)
		}
	}
}

func TestEstimateTokensTextualizesBlocks(t *testing.T) {
	m := message.NewBlockMessage(message.RoleAssistant, []message.ContentBlock{
		message.NewText("abcd"),
	})
	if got := EstimateTokens(m); got != 1 {
		t.Errorf("EstimateTokens = %d, want 1", got)
	}
}
