package obs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitTracer_NoEndpointIsNoop(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), "discuno-payments", "test", "")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
