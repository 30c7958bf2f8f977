package logger

import (
	"context"
	"testing"
)

func TestContextWithLoggerFromData(t *testing.T) {
	data := []byte(`{"requestID":"req-1","agentID":"agent-1"}`)
	ctx := ContextWithLoggerFromData(context.Background(), data)

	rlog := FromContext(ctx)
	if rlog.Data[requestIDLoggerKey] != "req-1" {
		t.Fatal("request id not carried over:", rlog.Data)
	}
	if rlog.Data[agentIDLoggerKey] != "agent-1" {
		t.Fatal("agent id not carried over:", rlog.Data)
	}
}

// invalid task data falls back to a fresh request id
func TestContextWithLoggerFromDataInvalid(t *testing.T) {
	ctx := ContextWithLoggerFromData(context.Background(), []byte("not json"))
	rlog := FromContext(ctx)
	if id, ok := rlog.Data[requestIDLoggerKey].(string); !ok || id == "" {
		t.Fatal("expected a fresh request id:", rlog.Data)
	}
}

func TestContextWithLoggerAgentID(t *testing.T) {
	ctx, rlog := ContextWithLoggerAgentID(context.Background(), "agent-1")
	if rlog.Data[agentIDLoggerKey] != "agent-1" {
		t.Fatal("agent id missing:", rlog.Data)
	}
	if FromContext(ctx).Data[agentIDLoggerKey] != "agent-1" {
		t.Fatal("context logger must carry the agent id")
	}
}
