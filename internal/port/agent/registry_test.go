package agent_test

import (
	"context"
	"slices"
	"testing"

	"github.com/Strob0t/phasegate/internal/domain/story"
	"github.com/Strob0t/phasegate/internal/port/agent"
)

type testExecutor struct {
	name string
}

func (e *testExecutor) Name() string { return e.name }
func (e *testExecutor) Execute(_ context.Context, _ agent.Request) (story.Output, error) {
	return story.Output{}, nil
}

func TestRegisterAndNew(t *testing.T) {
	agent.Register("test-agent", func(_ map[string]string) (agent.Executor, error) {
		return &testExecutor{name: "test-agent"}, nil
	})

	e, err := agent.New("test-agent", nil)
	if err != nil {
		t.Fatal(err)
	}
	if e.Name() != "test-agent" {
		t.Fatalf("expected test-agent, got %s", e.Name())
	}
	if !slices.Contains(agent.Available(), "test-agent") {
		t.Fatal("expected test-agent in available executors")
	}
}

func TestNewUnknownExecutor(t *testing.T) {
	if _, err := agent.New("nonexistent", nil); err == nil {
		t.Fatal("expected error for unknown executor")
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	agent.Register("dup-agent", func(_ map[string]string) (agent.Executor, error) { return nil, nil })
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	agent.Register("dup-agent", func(_ map[string]string) (agent.Executor, error) { return nil, nil })
}
