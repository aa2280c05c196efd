package grpcapi

import (
	"context"
	"fmt"

	"github.com/Elenore23/dshackle/internal/protocol"
	"github.com/Elenore23/dshackle/internal/upstreams"
	"github.com/Elenore23/dshackle/pkg/chains"
	"github.com/Elenore23/dshackle/pkg/utils"
)

// Router is the process-wide ingress surface a gRPC service would sit in
// front of: one Multistream per configured chain, addressed by chain id.
// It is expressed purely as Go interfaces/types here since wiring an
// actual grpc.Server is outside this module's scope; a transport adapter
// only needs to translate wire messages into these calls.
type Router struct {
	chains map[chains.Chain]*upstreams.Multistream
}

func NewRouter() *Router {
	return &Router{chains: map[chains.Chain]*upstreams.Multistream{}}
}

func (r *Router) Register(chain chains.Chain, ms *upstreams.Multistream) {
	r.chains[chain] = ms
}

func (r *Router) NativeCall(ctx context.Context, chain chains.Chain, request upstreams.NativeCallRequest) (upstreams.NativeCallReply, error) {
	ms, ok := r.chains[chain]
	if !ok {
		return upstreams.NativeCallReply{}, fmt.Errorf("chain %s is not configured", chain.String())
	}
	return ms.NativeCall(ctx, request)
}

func (r *Router) Subscribe(chain chains.Chain, name string) (*utils.Subscription[protocol.MultistreamStateEvent], error) {
	ms, ok := r.chains[chain]
	if !ok {
		return nil, fmt.Errorf("chain %s is not configured", chain.String())
	}
	return ms.Subscribe(name), nil
}

// SubscribeHead feeds a ChainHead stream from the chain's aggregate Head,
// translating every MultistreamState update into the wire-friendly shape
// until the caller's context is done.
func (r *Router) SubscribeHead(ctx context.Context, chain chains.Chain) (<-chan protocol.ChainHead, error) {
	sub, err := r.Subscribe(chain, fmt.Sprintf("subscribe-head-%p", ctx))
	if err != nil {
		return nil, err
	}

	heads := make(chan protocol.ChainHead)
	go func() {
		defer sub.Unsubscribe()
		defer close(heads)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-sub.Events:
				if !ok {
					return
				}
				if event.State == nil || event.State.Head == nil {
					continue
				}
				select {
				case heads <- protocol.NewChainHead(chain, event.State.Head):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return heads, nil
}

var _ upstreams.NativeCallService = (*Router)(nil)
