package upstreams

import (
	"context"
	"sync"
	"time"

	"github.com/Elenore23/dshackle/internal/protocol"
	"github.com/rs/zerolog/log"
)

// AggregateHead tracks the chain-wide head across every member upstream
// under the fork-choice rule: a candidate replaces the current head only if
// its weight (or, absent a weight, its height) strictly exceeds the
// current's. Ties are left untouched so the first upstream to report a
// given block keeps credit for it.
type AggregateHead struct {
	mu      sync.Mutex
	current *protocol.BlockRef
	sink    CacheSink
	chain   string
}

func NewAggregateHead(chain string, sink CacheSink) *AggregateHead {
	return &AggregateHead{chain: chain, sink: sink}
}

// Observe folds a single upstream's reported head into the aggregate,
// returning the resulting chain-wide head and whether it changed.
func (h *AggregateHead) Observe(ref *protocol.BlockRef) (*protocol.BlockRef, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ref == nil {
		return h.current, false
	}
	if !ref.Beats(h.current) {
		return h.current, false
	}
	h.current = ref
	if h.sink != nil {
		if err := h.sink.Put(context.Background(), h.chain, TagLatest, ref); err != nil {
			log.Warn().Err(err).Str("chain", h.chain).Msg("unable to cache latest head")
		}
		if err := h.sink.SetHead(context.Background(), h.chain, ref); err != nil {
			log.Warn().Err(err).Str("chain", h.chain).Msg("unable to rebind head in cache sink")
		}
	}
	return h.current, true
}

func (h *AggregateHead) Current() *protocol.BlockRef {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

// HeadLagObserver reports, for each member upstream, how far behind the
// chain-wide head it is, and pushes that value back into the owning
// Upstream via onLag. With a single upstream present there's nothing to lag
// behind, so its lag is forced to zero rather than left stale.
type HeadLagObserver struct {
	mu       sync.Mutex
	heads    map[string]uint64
	ticker   *time.Ticker
	lagGauge prometheusLagGauge
	onLag    func(upstreamId string, lag *uint64)
	chain    string
	stopped  chan struct{}
}

type prometheusLagGauge interface {
	Set(chain, upstream string, lag uint64)
	Delete(chain, upstream string)
}

func NewHeadLagObserver(chain string, gauge prometheusLagGauge, onLag func(upstreamId string, lag *uint64)) *HeadLagObserver {
	return &HeadLagObserver{
		heads:    map[string]uint64{},
		chain:    chain,
		lagGauge: gauge,
		onLag:    onLag,
		stopped:  make(chan struct{}),
	}
}

func (o *HeadLagObserver) Update(upstreamId string, height uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.heads[upstreamId] = height
	o.recompute()
}

func (o *HeadLagObserver) Remove(upstreamId string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.heads, upstreamId)
	if o.lagGauge != nil {
		o.lagGauge.Delete(o.chain, upstreamId)
	}
	if o.onLag != nil {
		o.onLag(upstreamId, nil)
	}
	o.recompute()
}

func (o *HeadLagObserver) recompute() {
	if len(o.heads) == 0 {
		return
	}
	if len(o.heads) == 1 {
		for upstreamId := range o.heads {
			o.setLag(upstreamId, 0)
		}
		return
	}

	var max uint64
	for _, height := range o.heads {
		if height > max {
			max = height
		}
	}
	for upstreamId, height := range o.heads {
		lag := uint64(0)
		if max > height {
			lag = max - height
		}
		o.setLag(upstreamId, lag)
	}
}

func (o *HeadLagObserver) setLag(upstreamId string, lag uint64) {
	if o.lagGauge != nil {
		o.lagGauge.Set(o.chain, upstreamId, lag)
	}
	if o.onLag != nil {
		o.onLag(upstreamId, &lag)
	}
}

func (o *HeadLagObserver) Stop() {
	select {
	case <-o.stopped:
	default:
		close(o.stopped)
	}
}
