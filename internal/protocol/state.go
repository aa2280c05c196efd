package protocol

import (
	"math/big"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/Elenore23/dshackle/pkg/chains"
)

// UpstreamAvailability orders from best to worst. The zero value is the best
// status so an unset UpstreamState never looks worse than it is.
type UpstreamAvailability int

const (
	Ok UpstreamAvailability = iota
	Lagging
	Syncing
	Immature
	Unavailable
)

func (a UpstreamAvailability) String() string {
	switch a {
	case Ok:
		return "ok"
	case Lagging:
		return "lagging"
	case Syncing:
		return "syncing"
	case Immature:
		return "immature"
	case Unavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Worst returns the lower-ranked (worse) of the two statuses.
func Worst(a, b UpstreamAvailability) UpstreamAvailability {
	if a > b {
		return a
	}
	return b
}

type Role string

const (
	Primary  Role = "primary"
	Fallback Role = "fallback"
)

type Cap string

const (
	CapWs      Cap = "ws"
	CapTrace   Cap = "trace"
	CapDebug   Cap = "debug"
	CapArchive Cap = "archive"
)

// BlockRef is a pointer into a chain: a height/hash pair plus the raw
// fork-choice weight used to decide whether it supersedes another BlockRef.
// Weight is nil for chains that don't expose a total-difficulty-like value,
// in which case height is used as the tiebreaker.
type BlockRef struct {
	Height uint64
	Hash   string
	Weight *big.Int
}

func NewBlockRef(height uint64, hash string, weight *big.Int) *BlockRef {
	return &BlockRef{Height: height, Hash: hash, Weight: weight}
}

// Beats reports whether this BlockRef should replace current as the
// aggregate head. A strictly greater weight wins; with no weight on either
// side, a strictly greater height wins. Ties keep the current value.
func (b *BlockRef) Beats(current *BlockRef) bool {
	if current == nil {
		return b != nil
	}
	if b == nil {
		return false
	}
	if b.Weight != nil && current.Weight != nil {
		return b.Weight.Cmp(current.Weight) > 0
	}
	return b.Height > current.Height
}

// ChainHead is the wire-friendly shape a SubscribeHead stream carries: a
// BlockRef with its hash as bare hex (no "0x") and its weight as big-endian
// bytes, ready for a transport adapter to marshal without touching BlockRef
// itself.
type ChainHead struct {
	Chain  chains.Chain
	BlockId string
	Height  uint64
	Weight  []byte
}

// NewChainHead converts an aggregate BlockRef into the wire shape a
// SubscribeHead stream emits.
func NewChainHead(chain chains.Chain, ref *BlockRef) ChainHead {
	if ref == nil {
		return ChainHead{Chain: chain}
	}
	head := ChainHead{Chain: chain, BlockId: strings.TrimPrefix(ref.Hash, "0x"), Height: ref.Height}
	if ref.Weight != nil {
		head.Weight = ref.Weight.Bytes()
	}
	return head
}

// ToBlockRef reconstructs the BlockRef a ChainHead was derived from; the
// hash stays in the bare-hex form the ChainHead carries.
func (c ChainHead) ToBlockRef() *BlockRef {
	var weight *big.Int
	if len(c.Weight) > 0 {
		weight = new(big.Int).SetBytes(c.Weight)
	}
	return NewBlockRef(c.Height, c.BlockId, weight)
}

type LowerBoundType string

const (
	SafeLowerBound      LowerBoundType = "safe"
	RecommendedLowerBound LowerBoundType = "recommended"
)

type FinalizationType string

const (
	SafeBlock      FinalizationType = "safe"
	FinalizedBlock FinalizationType = "finalized"
)

// Methods reports which call methods an upstream is willing to serve.
// UpstreamMethods is the only implementation shipped; it's a plain set
// with config-driven enable/disable overlaid on a protocol default.
type Methods interface {
	IsAllowed(method string) bool
	Names() mapset.Set[string]
}

type SetMethods struct {
	allowed mapset.Set[string]
}

func NewSetMethods(methods ...string) *SetMethods {
	return &SetMethods{allowed: mapset.NewThreadUnsafeSet(methods...)}
}

func (m *SetMethods) IsAllowed(method string) bool {
	if m == nil || m.allowed == nil {
		return false
	}
	return m.allowed.Contains(method)
}

func (m *SetMethods) Names() mapset.Set[string] {
	if m == nil || m.allowed == nil {
		return mapset.NewThreadUnsafeSet[string]()
	}
	return m.allowed.Clone()
}

// UnionMethods merges two method sets, as happens when an upstream's
// methods are folded into the chain-wide aggregate.
func UnionMethods(a, b Methods) Methods {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return &SetMethods{allowed: a.Names().Union(b.Names())}
}

// UpstreamState is the full, self-contained snapshot an upstream publishes
// whenever anything about it changes. Multistream only ever reads a
// consistent UpstreamState as a whole, never a partial update.
type UpstreamState struct {
	Availability  UpstreamAvailability
	Head          *BlockRef
	Methods       Methods
	Capabilities  mapset.Set[Cap]
	Role          Role
	LowerBounds   map[LowerBoundType]uint64
	Finalizations map[FinalizationType]*BlockRef
	Error         error
	// Lag is how far behind the chain-wide aggregate head this upstream is,
	// in blocks. It's nil until the owning Multistream's HeadLagObserver has
	// assigned it at least once; a driver never computes its own lag.
	Lag *uint64
	// Labels is the upstream's own config-declared label set, queried by
	// LabelSelectorMatcher when a caller's filter requires specific labels
	// (a particular region or provider, for instance).
	Labels map[string]string
	// Priority breaks ties FilteredApis would otherwise leave to rotation:
	// among upstreams equally available and equally lagged, the higher
	// priority value sorts first. Zero (the default) ranks below any
	// upstream that declares a positive priority.
	Priority int
}

func NewUpstreamState(role Role) *UpstreamState {
	return &UpstreamState{
		Availability:  Unavailable,
		Methods:       NewSetMethods(),
		Capabilities:  mapset.NewThreadUnsafeSet[Cap](),
		Role:          role,
		LowerBounds:   map[LowerBoundType]uint64{},
		Finalizations: map[FinalizationType]*BlockRef{},
		Labels:        map[string]string{},
	}
}

type UpstreamChangeEventType int

const (
	UpstreamAdded UpstreamChangeEventType = iota
	UpstreamRemoved
	UpstreamRevalidated
	UpstreamUpdated
	UpstreamObserved
	UpstreamFatalSettingsErrorRemoved
)

func (t UpstreamChangeEventType) String() string {
	switch t {
	case UpstreamAdded:
		return "added"
	case UpstreamRemoved:
		return "removed"
	case UpstreamRevalidated:
		return "revalidated"
	case UpstreamUpdated:
		return "updated"
	case UpstreamObserved:
		return "observed"
	case UpstreamFatalSettingsErrorRemoved:
		return "fatal_settings_error_removed"
	default:
		return "unknown"
	}
}

// UpstreamChangeEvent is what an Upstream publishes on its own change
// subscription and what Multistream consumes on its single ingress
// goroutine.
type UpstreamChangeEvent struct {
	UpstreamId string
	Chain      chains.Chain
	Type       UpstreamChangeEventType
	State      *UpstreamState
}

// MultistreamStateEvent is emitted whenever the aggregate, chain-wide state
// changes as a result of folding in an UpstreamChangeEvent.
type MultistreamStateEvent struct {
	Chain chains.Chain
	State *MultistreamState
}

// MultistreamState is the chain-wide reduction over every member upstream's
// UpstreamState: the worst availability, the union of callable methods and
// capabilities, the best head, and the min lower bound/finalization per
// type. It is recomputed in full on every ingress event rather than
// incrementally patched, so it's always internally consistent.
type MultistreamState struct {
	Availability  UpstreamAvailability
	Head          *BlockRef
	Methods       Methods
	Capabilities  mapset.Set[Cap]
	QuorumLabels  map[string]int
	LowerBounds   map[LowerBoundType]uint64
	Finalizations map[FinalizationType]*BlockRef
}

func NewMultistreamState() *MultistreamState {
	return &MultistreamState{
		Availability:  Unavailable,
		Methods:       NewSetMethods(),
		Capabilities:  mapset.NewThreadUnsafeSet[Cap](),
		QuorumLabels:  map[string]int{},
		LowerBounds:   map[LowerBoundType]uint64{},
		Finalizations: map[FinalizationType]*BlockRef{},
	}
}
