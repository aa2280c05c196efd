package upstreams_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Elenore23/dshackle/internal/config"
	"github.com/Elenore23/dshackle/internal/protocol"
	"github.com/Elenore23/dshackle/internal/upstreams"
	"github.com/Elenore23/dshackle/pkg/chains"
	"github.com/Elenore23/dshackle/pkg/utils"
	"github.com/stretchr/testify/assert"
)

// fakePeer is a hand-rolled NativeCallService standing in for a remote
// Multistream reached through the gRPC ingress surface.
type fakePeer struct {
	subs *utils.SubscriptionManager[protocol.MultistreamStateEvent]
	call func(ctx context.Context, chain chains.Chain, request upstreams.NativeCallRequest) (upstreams.NativeCallReply, error)
}

func newFakePeer() *fakePeer {
	return &fakePeer{subs: utils.NewSubscriptionManager[protocol.MultistreamStateEvent]("fake-peer")}
}

func (f *fakePeer) NativeCall(ctx context.Context, chain chains.Chain, request upstreams.NativeCallRequest) (upstreams.NativeCallReply, error) {
	if f.call != nil {
		return f.call(ctx, chain, request)
	}
	return upstreams.NativeCallReply{}, nil
}

func (f *fakePeer) Subscribe(chain chains.Chain, name string) (*utils.Subscription[protocol.MultistreamStateEvent], error) {
	return f.subs.Subscribe(name), nil
}

func (f *fakePeer) SubscribeHead(ctx context.Context, chain chains.Chain) (<-chan protocol.ChainHead, error) {
	heads := make(chan protocol.ChainHead)
	go func() {
		<-ctx.Done()
		close(heads)
	}()
	return heads, nil
}

func TestPeerUpstreamRelaysPeerStateAsUpstreamEvents(t *testing.T) {
	peer := newFakePeer()
	up := upstreams.NewPeerUpstream(context.Background(), &config.Upstream{Id: "peer-1", Role: "fallback"}, chains.ETHEREUM, peer)

	sub := up.Subscribe("test")
	up.Start()
	defer up.Stop()

	peer.subs.Publish(protocol.MultistreamStateEvent{
		Chain: chains.ETHEREUM,
		State: &protocol.MultistreamState{
			Availability: protocol.Ok,
			Head:         protocol.NewBlockRef(100, "a", nil),
			Methods:      protocol.NewSetMethods("eth_call"),
		},
	})

	select {
	case event := <-sub.Events:
		assert.Equal(t, protocol.UpstreamUpdated, event.Type)
		assert.Equal(t, protocol.Ok, event.State.Availability)
		assert.Equal(t, protocol.Fallback, event.State.Role)
		assert.Equal(t, uint64(100), event.State.Head.Height)
	case <-time.After(time.Second):
		t.Fatal("peer upstream never relayed the peer's state")
	}
}

// fakeHeadSource is a hand-rolled PeerHeadSource standing in for a bare
// remote gRPC-upstream peer that only exposes its head stream.
type fakeHeadSource struct {
	heads chan protocol.ChainHead
	err   error
}

func newFakeHeadSource() *fakeHeadSource {
	return &fakeHeadSource{heads: make(chan protocol.ChainHead, 1)}
}

func (f *fakeHeadSource) Subscribe(ctx context.Context) (<-chan protocol.ChainHead, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.heads, nil
}

func TestPeerUpstreamFromHeadSourceRelaysHeadOnly(t *testing.T) {
	source := newFakeHeadSource()
	up := upstreams.NewPeerUpstreamFromHeadSource(context.Background(), &config.Upstream{Id: "peer-head"}, chains.ETHEREUM, source)

	sub := up.Subscribe("test")
	up.Start()
	defer up.Stop()

	source.heads <- protocol.NewChainHead(chains.ETHEREUM, protocol.NewBlockRef(100, "a", nil))

	select {
	case event := <-sub.Events:
		assert.Equal(t, protocol.Ok, event.State.Availability)
		assert.Equal(t, uint64(100), event.State.Head.Height)
	case <-time.After(time.Second):
		t.Fatal("head-only peer upstream never relayed a head")
	}
}

func TestPeerUpstreamMarksUnavailableWhenSubscribeFails(t *testing.T) {
	up := upstreams.NewPeerUpstream(context.Background(), &config.Upstream{Id: "peer-1"}, chains.ETHEREUM, failingPeer{})

	sub := up.Subscribe("test")
	up.Start()
	defer up.Stop()

	select {
	case event := <-sub.Events:
		assert.Equal(t, protocol.Unavailable, event.State.Availability)
	case <-time.After(time.Second):
		t.Fatal("peer upstream never reported unavailable after a failed subscribe")
	}
}

type failingPeer struct{}

func (failingPeer) NativeCall(ctx context.Context, chain chains.Chain, request upstreams.NativeCallRequest) (upstreams.NativeCallReply, error) {
	return upstreams.NativeCallReply{}, nil
}

func (failingPeer) Subscribe(chain chains.Chain, name string) (*utils.Subscription[protocol.MultistreamStateEvent], error) {
	return nil, errors.New("peer unreachable")
}

func (failingPeer) SubscribeHead(ctx context.Context, chain chains.Chain) (<-chan protocol.ChainHead, error) {
	return nil, errors.New("peer unreachable")
}

func TestPeerUpstreamNativeCallDelegatesToPeer(t *testing.T) {
	peer := newFakePeer()
	peer.call = func(ctx context.Context, chain chains.Chain, request upstreams.NativeCallRequest) (upstreams.NativeCallReply, error) {
		assert.Equal(t, chains.ETHEREUM, chain)
		assert.Equal(t, "eth_call", request.Method)
		return upstreams.NativeCallReply{Result: []byte(`"0x1"`)}, nil
	}
	up := upstreams.NewPeerUpstream(context.Background(), &config.Upstream{Id: "peer-1"}, chains.ETHEREUM, peer)

	reply, err := up.NativeCall(context.Background(), upstreams.NativeCallRequest{Method: "eth_call"})

	assert.NoError(t, err)
	assert.Equal(t, `"0x1"`, string(reply.Result))
}
