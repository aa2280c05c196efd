package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/Elenore23/dshackle/internal/cache"
	"github.com/Elenore23/dshackle/internal/protocol"
	"github.com/Elenore23/dshackle/internal/upstreams"
	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisSinkPutEncodesHeadAsJson(t *testing.T) {
	db, mock := redismock.NewClientMock()
	sink := cache.NewRedisSinkWithClient(db, time.Minute)

	head := protocol.NewBlockRef(100, "a", nil)
	mock.Regexp().ExpectSet("dshackle:tag:latest:ethereum", `.*"Height":100.*`, time.Minute).SetVal("OK")

	require.NoError(t, sink.Put(context.Background(), "ethereum", upstreams.TagLatest, head))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisSinkTaggedDecodesFromJson(t *testing.T) {
	db, mock := redismock.NewClientMock()
	sink := cache.NewRedisSinkWithClient(db, time.Minute)

	mock.ExpectGet("dshackle:tag:latest:ethereum").SetVal(`{"Height":100,"Hash":"a","Weight":null}`)

	head, err := sink.Tagged(context.Background(), "ethereum", upstreams.TagLatest)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), head.Height)
	assert.Equal(t, "a", head.Hash)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisSinkSetHeadEncodesAsJson(t *testing.T) {
	db, mock := redismock.NewClientMock()
	sink := cache.NewRedisSinkWithClient(db, time.Minute)

	head := protocol.NewBlockRef(100, "a", nil)
	mock.Regexp().ExpectSet("dshackle:head:ethereum", `.*"Height":100.*`, 0).SetVal("OK")

	require.NoError(t, sink.SetHead(context.Background(), "ethereum", head))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisSinkGetHeadDecodesFromJson(t *testing.T) {
	db, mock := redismock.NewClientMock()
	sink := cache.NewRedisSinkWithClient(db, time.Minute)

	mock.ExpectGet("dshackle:head:ethereum").SetVal(`{"Height":100,"Hash":"a","Weight":null}`)

	head, err := sink.GetHead(context.Background(), "ethereum")
	require.NoError(t, err)
	assert.Equal(t, uint64(100), head.Height)
	assert.Equal(t, "a", head.Hash)
	require.NoError(t, mock.ExpectationsWereMet())
}
