package upstreams

import (
	"context"
	"fmt"

	"github.com/Elenore23/dshackle/internal/config"
	"github.com/Elenore23/dshackle/internal/protocol"
	"github.com/Elenore23/dshackle/pkg/chains"
	"github.com/Elenore23/dshackle/pkg/utils"
	"github.com/rs/zerolog/log"
)

// PeerUpstream adapts another Multistream (this process's own, or a remote
// one reached through a PeerHeadSource/NativeCallService pair) into a plain
// Upstream, so a chain can be configured with another chain's aggregate as
// just one more member. This is how a Multistream nests recursively.
type PeerUpstream struct {
	*utils.BaseLifecycle

	id    string
	chain chains.Chain
	role  protocol.Role
	cfg   *config.Upstream

	peer     NativeCallService
	headOnly PeerHeadSource

	subs  *utils.SubscriptionManager[protocol.UpstreamChangeEvent]
	state *utils.Atomic[*protocol.UpstreamState]
	lag   *utils.Atomic[*uint64]
}

// NativeCallService is the ingress contract a peer exposes: the same
// surface the public gRPC layer would offer, modeled here purely as a Go
// interface so this package has no dependency on any transport library.
type NativeCallService interface {
	NativeCall(ctx context.Context, chain chains.Chain, request NativeCallRequest) (NativeCallReply, error)
	Subscribe(chain chains.Chain, name string) (*utils.Subscription[protocol.MultistreamStateEvent], error)
	SubscribeHead(ctx context.Context, chain chains.Chain) (<-chan protocol.ChainHead, error)
}

// PeerHeadSource is the minimal contract a remote gRPC-upstream peer offers
// when only its head stream is wanted, without pulling in the rest of
// NativeCallService - the shape a bare SubscribeHead client satisfies.
type PeerHeadSource interface {
	Subscribe(ctx context.Context) (<-chan protocol.ChainHead, error)
}

func NewPeerUpstream(ctx context.Context, cfg *config.Upstream, chain chains.Chain, peer NativeCallService) *PeerUpstream {
	role := peerRole(cfg)

	state := utils.NewAtomic[*protocol.UpstreamState]()
	state.Store(peerInitialState(role, cfg))

	return &PeerUpstream{
		BaseLifecycle: utils.NewBaseLifecycle(fmt.Sprintf("peer-upstream-%s", cfg.Id), ctx),
		id:            cfg.Id,
		chain:         chain,
		role:          role,
		cfg:           cfg,
		peer:          peer,
		subs:          utils.NewSubscriptionManager[protocol.UpstreamChangeEvent](cfg.Id),
		state:         state,
		lag:           utils.NewAtomic[*uint64](),
	}
}

// NewPeerUpstreamFromHeadSource builds a PeerUpstream driven only by a
// remote gRPC-upstream peer's own SubscribeHead stream: it carries head and
// availability, but never a method/capability set, since nothing besides
// the head is exposed by a bare PeerHeadSource.
func NewPeerUpstreamFromHeadSource(ctx context.Context, cfg *config.Upstream, chain chains.Chain, source PeerHeadSource) *PeerUpstream {
	role := peerRole(cfg)

	state := utils.NewAtomic[*protocol.UpstreamState]()
	state.Store(peerInitialState(role, cfg))

	return &PeerUpstream{
		BaseLifecycle: utils.NewBaseLifecycle(fmt.Sprintf("peer-upstream-%s", cfg.Id), ctx),
		id:            cfg.Id,
		chain:         chain,
		role:          role,
		cfg:           cfg,
		headOnly:      source,
		subs:          utils.NewSubscriptionManager[protocol.UpstreamChangeEvent](cfg.Id),
		state:         state,
		lag:           utils.NewAtomic[*uint64](),
	}
}

func peerRole(cfg *config.Upstream) protocol.Role {
	if cfg.Role == "primary" || cfg.Role == "" {
		return protocol.Primary
	}
	return protocol.Fallback
}

func peerInitialState(role protocol.Role, cfg *config.Upstream) *protocol.UpstreamState {
	state := protocol.NewUpstreamState(role)
	if cfg.Labels != nil {
		state.Labels = cfg.Labels
	}
	if cfg.Options != nil {
		state.Priority = cfg.Options.Priority
	}
	return state
}

func (p *PeerUpstream) Id() string          { return p.id }
func (p *PeerUpstream) Chain() chains.Chain { return p.chain }
func (p *PeerUpstream) Role() protocol.Role { return p.role }

func (p *PeerUpstream) Subscribe(name string) *utils.Subscription[protocol.UpstreamChangeEvent] {
	return p.subs.Subscribe(name)
}

func (p *PeerUpstream) State() *protocol.UpstreamState {
	state := *p.state.Load()
	state.Lag = p.lag.Load()
	return &state
}

func (p *PeerUpstream) SetLag(lag *uint64) { p.lag.Store(lag) }
func (p *PeerUpstream) GetLag() *uint64    { return p.lag.Load() }

func (p *PeerUpstream) NodeId() byte {
	if p.cfg == nil || p.cfg.Options == nil {
		return 0
	}
	return p.cfg.Options.NodeId
}

func (p *PeerUpstream) ClientVersion() string {
	if p.cfg == nil || p.cfg.Options == nil {
		return ""
	}
	return p.cfg.Options.ClientVersion
}

func (p *PeerUpstream) Start() {
	p.BaseLifecycle.Start(func(ctx context.Context) error {
		if p.headOnly != nil {
			go p.relayHeadOnly(ctx)
		} else {
			go p.relay(ctx)
		}
		return nil
	})
}

func (p *PeerUpstream) relay(ctx context.Context) {
	sub, err := p.peer.Subscribe(p.chain, fmt.Sprintf("peer-%s", p.id))
	if err != nil {
		log.Warn().Err(err).Str("peer", p.id).Msg("unable to subscribe to peer state")
		p.markUnavailable(err)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.Events:
			if !ok {
				return
			}
			next := &protocol.UpstreamState{
				Availability: event.State.Availability,
				Head:         event.State.Head,
				Methods:      event.State.Methods,
				Capabilities: event.State.Capabilities,
				Role:         p.role,
				Labels:       p.state.Load().Labels,
				Priority:     p.state.Load().Priority,
			}
			p.state.Store(next)
			p.subs.Publish(protocol.UpstreamChangeEvent{
				UpstreamId: p.id,
				Chain:      p.chain,
				Type:       protocol.UpstreamUpdated,
				State:      next,
			})
		}
	}
}

// relayHeadOnly drives state purely from a remote peer's own SubscribeHead
// stream: availability tracks whether the stream is flowing, since nothing
// else about the remote node is observable through a bare PeerHeadSource.
func (p *PeerUpstream) relayHeadOnly(ctx context.Context) {
	heads, err := p.headOnly.Subscribe(ctx)
	if err != nil {
		log.Warn().Err(err).Str("peer", p.id).Msg("unable to subscribe to peer head stream")
		p.markUnavailable(err)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case head, ok := <-heads:
			if !ok {
				return
			}
			current := p.state.Load()
			next := *current
			next.Availability = protocol.Ok
			next.Error = nil
			next.Head = head.ToBlockRef()
			p.state.Store(&next)
			p.subs.Publish(protocol.UpstreamChangeEvent{
				UpstreamId: p.id,
				Chain:      p.chain,
				Type:       protocol.UpstreamUpdated,
				State:      &next,
			})
		}
	}
}

func (p *PeerUpstream) markUnavailable(cause error) {
	current := p.state.Load()
	next := *current
	next.Availability = protocol.Unavailable
	next.Error = cause
	p.state.Store(&next)
	p.subs.Publish(protocol.UpstreamChangeEvent{
		UpstreamId: p.id,
		Chain:      p.chain,
		Type:       protocol.UpstreamUpdated,
		State:      &next,
	})
}

func (p *PeerUpstream) NativeCall(ctx context.Context, request NativeCallRequest) (NativeCallReply, error) {
	if p.peer == nil {
		return NativeCallReply{}, protocol.NewUpstreamErrorWithData(protocol.BaseError, "peer upstream has no native-call service", p.id)
	}
	return p.peer.NativeCall(ctx, p.chain, request)
}

var _ Upstream = (*PeerUpstream)(nil)
var _ Upstream = (*NativeUpstream)(nil)
