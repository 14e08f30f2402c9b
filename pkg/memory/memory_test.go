package memory_test

import (
	"context"
	"testing"

	"github.com/MrWong99/ana/pkg/memory"
)

func TestMemory_AppendDoesNotAlias(t *testing.T) {
	t.Parallel()

	base := memory.Memory{
		Context:  "summary",
		Messages: make([]memory.Message, 1, 8),
	}
	base.Messages[0] = memory.Message{Role: memory.RoleUser, Content: "look"}

	a := base.Append(memory.Message{Role: memory.RoleAssistant, Content: "A"})
	b := base.Append(memory.Message{Role: memory.RoleAssistant, Content: "B"})

	if a.Messages[1].Content != "A" || b.Messages[1].Content != "B" {
		t.Fatalf("appends alias each other: a=%+v b=%+v", a.Messages, b.Messages)
	}
	if len(base.Messages) != 1 {
		t.Errorf("base modified: %+v", base.Messages)
	}
	if a.Context != "summary" {
		t.Errorf("context = %q, want summary", a.Context)
	}
}

func TestMemory_IsEmpty(t *testing.T) {
	t.Parallel()

	if !(memory.Memory{}).IsEmpty() {
		t.Error("zero Memory should be empty")
	}
	if (memory.Memory{Context: "x"}).IsEmpty() {
		t.Error("memory with context should not be empty")
	}
	if (memory.Memory{Messages: []memory.Message{{}}}).IsEmpty() {
		t.Error("memory with messages should not be empty")
	}
}

func TestNop(t *testing.T) {
	t.Parallel()

	var wm memory.WorkingMemory = memory.Nop{}
	ctx := context.Background()
	if err := wm.Replace(ctx, "g", "narrator", memory.Memory{Context: "x"}); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	m, err := wm.Read(ctx, "g", "narrator")
	if err != nil || !m.IsEmpty() {
		t.Errorf("Read = %+v, %v; want empty, nil", m, err)
	}
	if err := wm.Delete(ctx, "g", "narrator"); err != nil {
		t.Errorf("Delete: %v", err)
	}
}
