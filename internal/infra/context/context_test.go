package context_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	context_ "github.com/mkrupp/homecase-accounts/internal/infra/context"
)

func TestActor(t *testing.T) {
	t.Parallel()

	_, ok := context_.ActorFromContext(context.Background())
	assert.False(t, ok)

	_, ok = context_.ActorFromContext(context_.WithActor(context.Background(), ""))
	assert.False(t, ok, "empty actor counts as absent")

	actor, ok := context_.ActorFromContext(context_.WithActor(context.Background(), "system_admin"))
	assert.True(t, ok)
	assert.Equal(t, "system_admin", actor)
}

func TestTraceID(t *testing.T) {
	t.Parallel()

	ctx := context_.WithTraceID(context.Background(), "01h0")

	traceID, ok := context_.TraceIDFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "01h0", traceID)

	_, ok = context_.TraceIDFromContext(context.Background())
	assert.False(t, ok)
}
