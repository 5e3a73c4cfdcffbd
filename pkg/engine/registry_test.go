package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/500Foods/Philement-sub005/pkg/engine"
	"github.com/500Foods/Philement-sub005/pkg/engine/enginetest"
)

func TestRegisterAndLookup(t *testing.T) {
	tag := engine.Tag("test-registry-tag")
	drv := enginetest.New()

	engine.Register(tag, drv)

	got := engine.Lookup(tag)
	require.NotNil(t, got)

	h, err := got.Connect(context.Background(), &engine.ConnectionConfig{EngineTag: tag})
	require.NoError(t, err)
	assert.Equal(t, tag, h.EngineTag)
}

func TestLookupUnregisteredReturnsNil(t *testing.T) {
	assert.Nil(t, engine.Lookup(engine.Tag("does-not-exist")))
}

func TestRegisteredIncludesRegisteredTags(t *testing.T) {
	tag := engine.Tag("test-registered-listing")
	engine.Register(tag, enginetest.New())

	tags := engine.Registered()
	assert.Contains(t, tags, tag)
}
