package upstreams

import (
	"context"

	"github.com/Elenore23/dshackle/internal/protocol"
)

// Tag names a well-known slot a CacheSink stores a BlockRef under, distinct
// from the sink's own per-chain "current head" accessor.
type Tag string

const TagLatest Tag = "latest"

// CacheSink is the minimal external-storage collaborator the aggregate Head
// rebinds on every promotion. It never blocks a caller on the request path:
// Put/SetHead failures are logged and swallowed, since a cache miss just
// means a refetch next time. Response-body caching is a separate concern
// this interface deliberately does not carry.
type CacheSink interface {
	Put(ctx context.Context, chain string, tag Tag, head *protocol.BlockRef) error
	SetHead(ctx context.Context, chain string, head *protocol.BlockRef) error
}
