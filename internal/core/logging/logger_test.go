package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	log.Logger = zerolog.New(&buf)

	logger := Component("engine")
	logger.Info().Msg("test message")

	var logEntry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("failed to parse log: %v", err)
	}

	if cmp := logEntry["cmp"]; cmp != "engine" {
		t.Errorf("Component() cmp = %q, want %q", cmp, "engine")
	}

	if msg := logEntry["message"]; msg != "test message" {
		t.Errorf("Component() message = %q, want %q", msg, "test message")
	}
}

func TestComponent_ContextFieldsFlow(t *testing.T) {
	var buf bytes.Buffer
	log.Logger = zerolog.New(&buf)

	ctx := WithPhase(WithTaskID(context.Background(), "t1"), "plan")

	logger := Component("engine")
	logger.Info().Ctx(ctx).Msg("with context")

	var logEntry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("failed to parse log: %v", err)
	}

	if logEntry["task_id"] != "t1" {
		t.Errorf("expected task_id %q, got %v", "t1", logEntry["task_id"])
	}
	if logEntry["phase"] != "plan" {
		t.Errorf("expected phase %q, got %v", "plan", logEntry["phase"])
	}
}
