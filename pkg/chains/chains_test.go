package chains_test

import (
	"testing"

	"github.com/Elenore23/dshackle/pkg/chains"
	"github.com/stretchr/testify/assert"
)

func TestGetChainResolvesConfiguredShortName(t *testing.T) {
	chain := chains.GetChain("eth")

	assert.Equal(t, chains.ETHEREUM, chain.Chain)
	assert.NotEqual(t, chains.UnknownChain, chain)
}

func TestGetChainFallsBackToUnknown(t *testing.T) {
	chain := chains.GetChain("not-a-real-chain")

	assert.Equal(t, chains.UnknownChain, chain)
}

func TestChainStringRoundTripsKnownChains(t *testing.T) {
	assert.Equal(t, "ethereum", chains.ETHEREUM.String())
	assert.Equal(t, "polygon", chains.POLYGON.String())
	assert.Equal(t, "unknown", chains.Chain(999).String())
}
