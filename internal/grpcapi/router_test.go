package grpcapi_test

import (
	"context"
	"testing"

	"github.com/Elenore23/dshackle/internal/grpcapi"
	"github.com/Elenore23/dshackle/internal/upstreams"
	"github.com/Elenore23/dshackle/pkg/chains"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouterNativeCallFailsForUnconfiguredChain(t *testing.T) {
	router := grpcapi.NewRouter()

	_, err := router.NativeCall(context.Background(), chains.ETHEREUM, upstreams.NativeCallRequest{Method: "eth_call"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}

func TestRouterSubscribeFailsForUnconfiguredChain(t *testing.T) {
	router := grpcapi.NewRouter()

	_, err := router.Subscribe(chains.ETHEREUM, "test")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}

func TestRouterSubscribeHeadFailsForUnconfiguredChain(t *testing.T) {
	router := grpcapi.NewRouter()

	_, err := router.SubscribeHead(context.Background(), chains.ETHEREUM)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}

func TestRouterRegisterRoutesToTheRightMultistream(t *testing.T) {
	router := grpcapi.NewRouter()
	ms := upstreams.NewMultistream(context.Background(), chains.POLYGON, nil)
	ms.Start()
	router.Register(chains.POLYGON, ms)

	_, err := router.NativeCall(context.Background(), chains.POLYGON, upstreams.NativeCallRequest{Method: "eth_call"})

	// No member upstreams are registered, so the call fails past routing,
	// inside Multistream's own selection - which proves it reached the
	// right chain's aggregate rather than erroring out at the router.
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "not configured")
}
