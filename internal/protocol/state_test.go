package protocol_test

import (
	"math/big"
	"testing"

	"github.com/Elenore23/dshackle/internal/protocol"
	"github.com/stretchr/testify/assert"
)

func TestBlockRefBeatsByWeight(t *testing.T) {
	current := protocol.NewBlockRef(650246, "0x50d26e", big.NewInt(100))
	higher := protocol.NewBlockRef(650247, "0x35bbde", big.NewInt(200))
	tie := protocol.NewBlockRef(650300, "0xaaaa", big.NewInt(100))
	lower := protocol.NewBlockRef(650200, "0xbbbb", big.NewInt(50))

	assert.True(t, higher.Beats(current))
	assert.False(t, tie.Beats(current))
	assert.False(t, lower.Beats(current))
	assert.True(t, current.Beats(nil))
}

func TestBlockRefBeatsByHeightWithoutWeight(t *testing.T) {
	current := protocol.NewBlockRef(100, "a", nil)
	higher := protocol.NewBlockRef(101, "b", nil)
	same := protocol.NewBlockRef(100, "c", nil)

	assert.True(t, higher.Beats(current))
	assert.False(t, same.Beats(current))
}

func TestUnionMethods(t *testing.T) {
	a := protocol.NewSetMethods("eth_call", "eth_getLogs")
	b := protocol.NewSetMethods("eth_getBalance")

	union := protocol.UnionMethods(a, b)

	assert.True(t, union.IsAllowed("eth_call"))
	assert.True(t, union.IsAllowed("eth_getLogs"))
	assert.True(t, union.IsAllowed("eth_getBalance"))
	assert.False(t, union.IsAllowed("eth_sendRawTransaction"))
}

func TestWorstAvailability(t *testing.T) {
	assert.Equal(t, protocol.Unavailable, protocol.Worst(protocol.Ok, protocol.Unavailable))
	assert.Equal(t, protocol.Lagging, protocol.Worst(protocol.Ok, protocol.Lagging))
}
