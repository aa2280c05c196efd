package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/Elenore23/dshackle/internal/cache"
	"github.com/Elenore23/dshackle/internal/protocol"
	"github.com/Elenore23/dshackle/internal/upstreams"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUSinkPutAndTagged(t *testing.T) {
	sink, err := cache.NewLRUSink(16, 0)
	require.NoError(t, err)

	head := protocol.NewBlockRef(100, "a", nil)
	require.NoError(t, sink.Put(context.Background(), "ethereum", upstreams.TagLatest, head))

	tagged, ok := sink.Tagged("ethereum", upstreams.TagLatest)
	assert.True(t, ok)
	assert.Equal(t, head, tagged)
}

func TestLRUSinkTaggedMissingKey(t *testing.T) {
	sink, err := cache.NewLRUSink(16, 0)
	require.NoError(t, err)

	_, ok := sink.Tagged("ethereum", upstreams.TagLatest)
	assert.False(t, ok)
}

func TestLRUSinkTaggedExpiresAfterTtl(t *testing.T) {
	sink, err := cache.NewLRUSink(16, 20*time.Millisecond)
	require.NoError(t, err)

	head := protocol.NewBlockRef(100, "a", nil)
	require.NoError(t, sink.Put(context.Background(), "ethereum", upstreams.TagLatest, head))

	_, ok := sink.Tagged("ethereum", upstreams.TagLatest)
	assert.True(t, ok)

	time.Sleep(40 * time.Millisecond)

	_, ok = sink.Tagged("ethereum", upstreams.TagLatest)
	assert.False(t, ok)
}

func TestLRUSinkTracksHeadPerChain(t *testing.T) {
	sink, err := cache.NewLRUSink(16, 0)
	require.NoError(t, err)

	head := protocol.NewBlockRef(100, "a", nil)
	require.NoError(t, sink.SetHead(context.Background(), "ethereum", head))

	assert.Equal(t, head, sink.GetHead("ethereum"))
	assert.Nil(t, sink.GetHead("polygon"))
}
