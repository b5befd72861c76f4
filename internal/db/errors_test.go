package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionError(t *testing.T) {
	cause := errors.New("connection refused")
	err := ConnectionError(cause, 3)

	assert.True(t, IsConnectionError(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Contains(t, err.Error(), "connection refused")

	assert.False(t, IsSchemaError(err))
	assert.False(t, IsQueryError(err))
}

func TestConnectionErrorSingleAttempt(t *testing.T) {
	err := ConnectionError(errors.New("refused"), 1)
	assert.NotContains(t, err.Error(), "attempts")
}

func TestSchemaError(t *testing.T) {
	err := SchemaError(fmt.Errorf("required column missing"), TableClientDailyStats, "date")

	assert.True(t, IsSchemaError(err))
	assert.Contains(t, err.Error(), "client_daily_stats.date")

	tableErr := SchemaError(fmt.Errorf("table not found"), TableGPUAssets, "")
	assert.Contains(t, tableErr.Error(), "table gpu_assets")
}

func TestQueryErrorCarriesTemplateAndArgs(t *testing.T) {
	cause := errors.New("relation does not exist")
	template := "SELECT date FROM client_daily_stats WHERE client_id = $1"
	err := QueryError(cause, template, []any{[]byte{0x11}})

	require.True(t, IsQueryError(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), template)
	assert.Contains(t, err.Error(), QueryFingerprint(template))
}

func TestErrorKindsAreDistinct(t *testing.T) {
	conn := ConnectionError(errors.New("x"), 1)
	schema := SchemaError(errors.New("x"), "t", "c")
	query := QueryError(errors.New("x"), "SELECT 1", nil)

	assert.False(t, errors.Is(conn, ErrSchema))
	assert.False(t, errors.Is(schema, ErrQuery))
	assert.False(t, errors.Is(query, ErrConnection))
}
