package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupIsNoopWithoutEndpoint(t *testing.T) {
	shutdown, err := Setup(context.Background(), "circulation", "")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestSetupInstallsProvider(t *testing.T) {
	// Non-routable address; nothing is exported before shutdown.
	shutdown, err := Setup(context.Background(), "circulation", "http://192.0.2.1:4318")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}
