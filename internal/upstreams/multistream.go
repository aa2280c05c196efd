package upstreams

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Elenore23/dshackle/internal/config"
	"github.com/Elenore23/dshackle/internal/protocol"
	"github.com/Elenore23/dshackle/internal/upstreams/selector"
	"github.com/Elenore23/dshackle/pkg/chains"
	"github.com/Elenore23/dshackle/pkg/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// maxRotationSeed bounds the rotation counter so it never drifts into
// territory where its wraparound behavior would depend on the underlying
// integer width.
const maxRotationSeed = math.MaxInt32 / 2

var availabilityMetric = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: config.AppName,
		Subsystem: "upstreams",
		Name:      "availability_status",
		Help:      "Current availability status of the upstream, lower is better",
	},
	[]string{"chain", "upstream"},
)

var lagMetric = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: config.AppName,
		Subsystem: "upstreams",
		Name:      "lag",
		Help:      "Blocks behind the chain-wide aggregate head",
	},
	[]string{"chain", "upstream"},
)

func init() {
	prometheus.MustRegister(availabilityMetric, lagMetric)
}

type metricLagGauge struct{}

func (metricLagGauge) Set(chain, upstream string, lag uint64) {
	lagMetric.WithLabelValues(chain, upstream).Set(float64(lag))
}

func (metricLagGauge) Delete(chain, upstream string) {
	lagMetric.DeleteLabelValues(chain, upstream)
}

// Multistream is the single-chain aggregate of every configured Upstream: it
// serializes all member state changes through one ingress goroutine,
// re-derives the chain-wide MultistreamState on every change. It does not
// implement Upstream itself (its Subscribe carries MultistreamStateEvent);
// one Multistream joins another as a member through a PeerUpstream.
type Multistream struct {
	*utils.BaseLifecycle

	chain chains.Chain

	eventsChan chan protocol.UpstreamChangeEvent
	upstreams  *utils.CMap[string, Upstream]
	states     *utils.CMap[string, *protocol.UpstreamState]

	state *utils.Atomic[*protocol.MultistreamState]
	head  *AggregateHead
	lag   *HeadLagObserver

	subs         *utils.SubscriptionManager[protocol.MultistreamStateEvent]
	observedSubs *utils.SubscriptionManager[protocol.UpstreamChangeEvent]
	statusSubs   *utils.SubscriptionManager[protocol.UpstreamAvailability]

	statusReducer *FilterBestAvailability
	lastStatus    *utils.Atomic[*protocol.UpstreamAvailability]

	sink CacheSink

	// ownLag holds the lag this Multistream has been assigned by whatever
	// aggregate it's itself nested under as a peer; a Multistream never
	// computes this for itself.
	ownLag *utils.Atomic[*uint64]

	// rotationSeed is the monotonic counter behind getApiSource's rotation:
	// every call advances it by one so repeated identical requests don't pin
	// one upstream, wrapping well before it could overflow any integer width
	// a seed might eventually be narrowed to.
	rotationSeed atomic.Uint64
}

func Identity(chain chains.Chain) string {
	return fmt.Sprintf("!all:%s", chain.String())
}

func NewMultistream(ctx context.Context, chain chains.Chain, sink CacheSink) *Multistream {
	state := utils.NewAtomic[*protocol.MultistreamState]()
	state.Store(protocol.NewMultistreamState())

	m := &Multistream{
		BaseLifecycle: utils.NewBaseLifecycle(fmt.Sprintf("multistream-%s", chain.String()), ctx),
		chain:         chain,
		eventsChan:    make(chan protocol.UpstreamChangeEvent, 200),
		upstreams:     utils.NewCMap[string, Upstream](),
		states:        utils.NewCMap[string, *protocol.UpstreamState](),
		state:         state,
		head:          NewAggregateHead(chain.String(), sink),
		subs:          utils.NewSubscriptionManager[protocol.MultistreamStateEvent](chain.String()),
		observedSubs:  utils.NewSubscriptionManager[protocol.UpstreamChangeEvent](fmt.Sprintf("%s-observed", chain.String())),
		statusSubs:    utils.NewSubscriptionManager[protocol.UpstreamAvailability](fmt.Sprintf("%s-status", chain.String())),
		statusReducer: NewFilterBestAvailability(),
		lastStatus:    utils.NewAtomic[*protocol.UpstreamAvailability](),
		sink:          sink,
		ownLag:        utils.NewAtomic[*uint64](),
	}
	m.lag = NewHeadLagObserver(chain.String(), metricLagGauge{}, m.applyLag)
	return m
}

// applyLag is the HeadLagObserver's callback for pushing a freshly computed
// lag back down into the owning member upstream (the spec-mandated
// setLag(long) on the Upstream contract) and into this chain's own cached
// per-member state, which is what getApiSource sorts candidates by.
func (m *Multistream) applyLag(upstreamId string, lag *uint64) {
	if up, ok := m.upstreams.Load(upstreamId); ok {
		up.SetLag(lag)
	}
	if state, ok := m.states.Load(upstreamId); ok {
		updated := *state
		updated.Lag = lag
		m.states.Store(upstreamId, &updated)
	}
}

func (m *Multistream) SetLag(lag *uint64) { m.ownLag.Store(lag) }
func (m *Multistream) GetLag() *uint64    { return m.ownLag.Load() }

func (m *Multistream) Id() string          { return Identity(m.chain) }
func (m *Multistream) Chain() chains.Chain { return m.chain }
func (m *Multistream) Role() protocol.Role { return protocol.Primary }

// NodeId and ClientVersion are zero-valued: a Multistream is an aggregate
// of nodes, not a node itself.
func (m *Multistream) NodeId() byte          { return 0 }
func (m *Multistream) ClientVersion() string { return "" }

func (m *Multistream) Start() {
	m.BaseLifecycle.Start(func(ctx context.Context) error {
		go m.processEvents(ctx)
		go m.monitorLoop(ctx)
		return nil
	})
}

// AddUpstream registers and starts a new member upstream, subscribing
// Multistream's own ingress loop to its change events. A duplicate id is a
// no-op: it returns false without touching the existing member, starting
// nothing, and emitting nothing.
func (m *Multistream) AddUpstream(up Upstream) bool {
	_, loaded := m.upstreams.LoadOrStore(up.Id(), up)
	if loaded {
		return false
	}

	go func() {
		sub := up.Subscribe(fmt.Sprintf("multistream-%s", m.chain.String()))
		up.Start()
		for event := range sub.Events {
			m.Publish(event)
			if event.Type == protocol.UpstreamFatalSettingsErrorRemoved {
				m.RemoveUpstream(event.UpstreamId, false)
				sub.Unsubscribe()
				return
			}
		}
	}()
	return true
}

// RemoveUpstream tears down a member upstream and evicts every trace of it
// from the aggregate. An unknown id is a no-op returning false. stopUpstream
// is false for the FATAL_SETTINGS_ERROR_REMOVED path, where the driver has
// already stopped itself before reporting in.
func (m *Multistream) RemoveUpstream(upstreamId string, stopUpstream bool) bool {
	up, ok := m.upstreams.LoadAndDelete(upstreamId)
	if !ok {
		return false
	}
	if stopUpstream {
		up.Stop()
	}
	m.Publish(protocol.UpstreamChangeEvent{
		UpstreamId: upstreamId,
		Chain:      m.chain,
		Type:       protocol.UpstreamRemoved,
	})
	return true
}

func (m *Multistream) Publish(event protocol.UpstreamChangeEvent) {
	m.eventsChan <- event
}

func (m *Multistream) State() *protocol.UpstreamState {
	state := m.state.Load()
	return &protocol.UpstreamState{
		Availability: state.Availability,
		Head:         state.Head,
		Methods:      state.Methods,
		Capabilities: state.Capabilities,
		Role:         protocol.Primary,
		Lag:          m.ownLag.Load(),
	}
}

func (m *Multistream) GetState() *protocol.MultistreamState {
	return m.state.Load()
}

func (m *Multistream) Subscribe(name string) *utils.Subscription[protocol.MultistreamStateEvent] {
	return m.subs.Subscribe(name)
}

func (m *Multistream) UpstreamIds() []string {
	ids := make([]string, 0)
	m.states.Range(func(id string, _ *protocol.UpstreamState) bool {
		ids = append(ids, id)
		return true
	})
	slices.Sort(ids)
	return ids
}

func (m *Multistream) UpstreamState(id string) *protocol.UpstreamState {
	state, ok := m.states.Load(id)
	if !ok {
		return nil
	}
	return state
}

// GetApiSource builds a fresh FilteredApis sequence for one call, filtered
// down to upstreams allowed to serve the given method. Availability is not
// filtered here: an unavailable upstream is still a candidate, just sorted
// to the back by FilteredApis so it's only reached as a last resort.
func (m *Multistream) GetApiSource(method string, seed uint64) *selector.FilteredApis {
	matcher := selector.NewMultiMatcher(selector.NewMethodMatcher(method))
	return selector.NewFilteredApis(m, matcher, seed)
}

// nextSeed advances the rotation counter by one call, wrapping at
// maxRotationSeed, so repeated getApiSource calls for the same filter rotate
// through candidates deterministically rather than by wall-clock noise.
func (m *Multistream) nextSeed() uint64 {
	for {
		cur := m.rotationSeed.Load()
		next := cur + 1
		if next > maxRotationSeed {
			next = 0
		}
		if m.rotationSeed.CompareAndSwap(cur, next) {
			return cur
		}
	}
}

// NativeCall walks the filtered candidate sequence until one upstream's call
// round-trips successfully at the transport level, falling through to the
// next candidate only on a Go-level dispatch error. A non-nil
// NativeCallReply.Error is a valid JSON-RPC application error and is
// returned immediately rather than treated as cause to try another upstream.
func (m *Multistream) NativeCall(ctx context.Context, request NativeCallRequest) (NativeCallReply, error) {
	source := m.GetApiSource(request.Method, m.nextSeed())

	var lastErr error
	for {
		id, reason := source.Next()
		if id == selector.NoUpstream {
			if lastErr != nil {
				return NativeCallReply{}, lastErr
			}
			cause := "no available upstreams"
			if reason != nil {
				cause = reason.Cause()
			}
			return NativeCallReply{}, protocol.NewUpstreamErrorWithData(protocol.BaseError, cause, request.Method)
		}

		up, ok := m.upstreams.Load(id)
		if !ok {
			lastErr = protocol.NewUpstreamErrorWithData(protocol.BaseError, "upstream disappeared mid-selection", id)
			continue
		}

		reply, err := up.NativeCall(ctx, request)
		if err == nil {
			return reply, nil
		}
		lastErr = err
	}
}

func (m *Multistream) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			m.statusSubs.Publish(protocol.Unavailable)
			return
		case event, ok := <-m.eventsChan:
			if !ok {
				return
			}
			m.handleEvent(event)
		}
	}
}

func (m *Multistream) handleEvent(event protocol.UpstreamChangeEvent) {
	switch event.Type {
	case protocol.UpstreamObserved:
		// An observed-but-not-yet-member upstream never joins the aggregate;
		// subscribers watch this stream to catch it, then watch the upstream
		// itself for the ADDED that makes re-firing OBSERVED(u) a no-op.
		m.observedSubs.Publish(event)
		return
	case protocol.UpstreamRemoved, protocol.UpstreamFatalSettingsErrorRemoved:
		m.states.Delete(event.UpstreamId)
		availabilityMetric.DeleteLabelValues(m.chain.String(), event.UpstreamId)
		m.lag.Remove(event.UpstreamId)
		m.publishStatus(m.statusReducer.Remove(event.UpstreamId))
	default:
		if event.State == nil {
			return
		}
		m.states.Store(event.UpstreamId, event.State)
		availabilityMetric.WithLabelValues(m.chain.String(), event.UpstreamId).Set(float64(event.State.Availability))
		if event.State.Head != nil {
			m.lag.Update(event.UpstreamId, event.State.Head.Height)
		}
		m.publishStatus(m.statusReducer.Update(event.UpstreamId, event.State.Availability))
	}

	m.recompute()
}

// publishStatus emits onto the best-availability status stream, dropping
// consecutive duplicates so a subscriber only ever sees actual transitions.
func (m *Multistream) publishStatus(status protocol.UpstreamAvailability) {
	last := m.lastStatus.Load()
	if last != nil && *last == status {
		return
	}
	m.lastStatus.Store(&status)
	m.statusSubs.Publish(status)
}

// ObserveUpstreams streams every upstream this Multistream has seen reported
// as OBSERVED - known to a driver but not yet a member.
func (m *Multistream) ObserveUpstreams(name string) *utils.Subscription[protocol.UpstreamChangeEvent] {
	return m.observedSubs.Subscribe(name)
}

// ObserveStatus streams the best (most available) status seen across every
// current member, deduplicated, terminating with UNAVAILABLE once this
// Multistream stops.
func (m *Multistream) ObserveStatus(name string) *utils.Subscription[protocol.UpstreamAvailability] {
	return m.statusSubs.Subscribe(name)
}

// recompute folds every member's current UpstreamState into a fresh
// MultistreamState, publishing a change event when the result differs from
// what's currently stored.
func (m *Multistream) recompute() {
	next := protocol.NewMultistreamState()
	next.Availability = protocol.Ok

	m.states.Range(func(id string, state *protocol.UpstreamState) bool {
		s := *state
		next.Availability = protocol.Worst(next.Availability, s.Availability)
		next.Methods = protocol.UnionMethods(next.Methods, s.Methods)
		if s.Capabilities != nil {
			next.Capabilities = next.Capabilities.Union(s.Capabilities)
		}
		for kind, height := range s.LowerBounds {
			if current, ok := next.LowerBounds[kind]; !ok || height < current {
				next.LowerBounds[kind] = height
			}
		}
		for kind, ref := range s.Finalizations {
			if current, ok := next.Finalizations[kind]; !ok || (ref != nil && ref.Height < current.Height) {
				next.Finalizations[kind] = ref
			}
		}
		if s.Head != nil {
			if head, changed := m.head.Observe(s.Head); changed {
				_ = head
			}
		}
		next.QuorumLabels[labelSetKey(s.Labels)]++
		return true
	})

	if len(m.statesLen()) == 0 {
		next.Availability = protocol.Unavailable
	}
	next.Head = m.head.Current()

	if reflect.DeepEqual(m.state.Load(), next) {
		return
	}
	m.state.Store(next)
	m.subs.Publish(protocol.MultistreamStateEvent{Chain: m.chain, State: next})
}

func (m *Multistream) statesLen() []string {
	return m.UpstreamIds()
}

// labelSetKey canonicalizes an upstream's label set into a stable string so
// QuorumLabels can group members that declare the identical label set,
// regardless of map iteration order.
func labelSetKey(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+labels[k])
	}
	return strings.Join(pairs, ",")
}

func (m *Multistream) monitorLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(30 * time.Second):
			m.printStatus()
		}
	}
}

func (m *Multistream) printStatus() {
	state := m.state.Load()
	var height string
	if state.Head != nil {
		height = fmt.Sprintf("%d", state.Head.Height)
	} else {
		height = "?"
	}

	statuses := make(map[protocol.UpstreamAvailability]int)
	var weak []string
	m.states.Range(func(id string, s *protocol.UpstreamState) bool {
		statuses[(*s).Availability]++
		if (*s).Availability != protocol.Ok {
			weak = append(weak, id)
		}
		return true
	})

	pairs := make([]string, 0, len(statuses))
	for status, count := range statuses {
		pairs = append(pairs, fmt.Sprintf("%s/%d", status, count))
	}

	log.Info().Msgf("state of %s: height=%s, statuses=[%s], weak=[%s]",
		strings.ToUpper(m.chain.String()), height, strings.Join(pairs, ", "), strings.Join(weak, ", "))
}
