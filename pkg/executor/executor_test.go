package executor_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/500Foods/Philement-sub005/pkg/cache"
	"github.com/500Foods/Philement-sub005/pkg/engine"
	"github.com/500Foods/Philement-sub005/pkg/engine/enginetest"
	"github.com/500Foods/Philement-sub005/pkg/executor"
)

func TestValidateEnvelopeAcceptsWellFormed(t *testing.T) {
	_, err := executor.ValidateEnvelope([]byte(`{"STRING":{"name":"alice"},"INTEGER":{"age":30}}`))
	assert.NoError(t, err)
}

func TestValidateEnvelopeAcceptsEmpty(t *testing.T) {
	_, err := executor.ValidateEnvelope(nil)
	assert.NoError(t, err)
}

func TestValidateEnvelopeRejectsUnknownTypeTag(t *testing.T) {
	kind, err := executor.ValidateEnvelope([]byte(`{"WEIRD":{"x":1}}`))
	assert.Error(t, err)
	assert.Equal(t, engine.ErrUnsupportedParameterType, kind)
}

func TestValidateEnvelopeRejectsMalformedJSON(t *testing.T) {
	kind, err := executor.ValidateEnvelope([]byte(`not json`))
	assert.Error(t, err)
	assert.Equal(t, engine.ErrInvalidArgument, kind)
}

func TestValidateEnvelopeRejectsNonObjectBucket(t *testing.T) {
	kind, err := executor.ValidateEnvelope([]byte(`{"INTEGER":42}`))
	assert.Error(t, err)
	assert.Equal(t, engine.ErrInvalidArgument, kind)
}

func TestExecuteRunsDirectQueryWithoutPreparedName(t *testing.T) {
	ctx := context.Background()
	drv := enginetest.New()
	h, err := drv.Connect(ctx, &engine.ConnectionConfig{EngineTag: engine.TagSQLite})
	require.NoError(t, err)

	result := executor.Execute(ctx, drv, h, nil, &engine.QueryRequest{SQLTemplate: "SELECT 1"})
	assert.True(t, result.Success)
	assert.Len(t, drv.Queries, 1)
}

func TestExecuteUsesPreparedStatementCache(t *testing.T) {
	ctx := context.Background()
	drv := enginetest.New()
	h, err := drv.Connect(ctx, &engine.ConnectionConfig{EngineTag: engine.TagSQLite})
	require.NoError(t, err)

	c, err := cache.New(drv, h, 4)
	require.NoError(t, err)

	name := "find_widget"
	req := &engine.QueryRequest{SQLTemplate: "SELECT * FROM widgets WHERE id = :id", PreparedName: &name}

	result := executor.Execute(ctx, drv, h, c, req)
	assert.True(t, result.Success)
	assert.Equal(t, 1, c.Len())
}

func TestExecuteRejectsUnknownTypeTagBeforeExecution(t *testing.T) {
	ctx := context.Background()
	drv := enginetest.New()
	h, _ := drv.Connect(ctx, &engine.ConnectionConfig{EngineTag: engine.TagSQLite})

	result := executor.Execute(ctx, drv, h, nil, &engine.QueryRequest{
		SQLTemplate:    "SELECT 1",
		ParametersJSON: []byte(`{"WEIRD":{"x":1}}`),
	})
	assert.False(t, result.Success)
	assert.Equal(t, engine.ErrUnsupportedParameterType, result.ErrorKind)
	assert.Empty(t, drv.Queries)
}

func TestExecuteRejectsMalformedEnvelope(t *testing.T) {
	ctx := context.Background()
	drv := enginetest.New()
	h, _ := drv.Connect(ctx, &engine.ConnectionConfig{EngineTag: engine.TagSQLite})

	result := executor.Execute(ctx, drv, h, nil, &engine.QueryRequest{
		SQLTemplate:    "SELECT 1",
		ParametersJSON: []byte(`not json`),
	})
	assert.False(t, result.Success)
	assert.Equal(t, engine.ErrInvalidArgument, result.ErrorKind)
}

func TestExecuteWithNilDriverReportsNoDriver(t *testing.T) {
	result := executor.Execute(context.Background(), nil, nil, nil, &engine.QueryRequest{})
	assert.False(t, result.Success)
	assert.Equal(t, engine.ErrNoDriver, result.ErrorKind)
}
