package upstreams

import (
	"context"

	"github.com/Elenore23/dshackle/internal/protocol"
	"github.com/Elenore23/dshackle/pkg/chains"
	"github.com/Elenore23/dshackle/pkg/utils"
)

// Upstream is a single configured RPC source for a chain: either a native
// endpoint reached over HTTP/WS, or another Multistream reached as a peer.
// A single Upstream never blocks on the network from the caller's goroutine
// beyond NativeCall itself; everything else is observed through the change
// subscription.
type Upstream interface {
	utils.Lifecycle

	Id() string
	Chain() chains.Chain
	Role() protocol.Role

	// NodeId and ClientVersion are self-reported identity: a byte the node
	// operator assigns out of band, and whatever the node's client_version
	// style call returns. Neither drives routing decisions on its own.
	NodeId() byte
	ClientVersion() string

	Subscribe(name string) *utils.Subscription[protocol.UpstreamChangeEvent]
	State() *protocol.UpstreamState

	// SetLag and GetLag let the owning Multistream assign this upstream's
	// lag externally; a driver never computes its own lag, it only reports
	// whatever was last assigned.
	SetLag(lag *uint64)
	GetLag() *uint64

	NativeCall(ctx context.Context, request NativeCallRequest) (NativeCallReply, error)
}

// NativeCallRequest is the payload forwarded to an upstream's own wire
// protocol, opaque to Multistream beyond the method name used for routing.
type NativeCallRequest struct {
	Method string
	Params []any
}

type NativeCallReply struct {
	Result []byte
	Error  error
}
