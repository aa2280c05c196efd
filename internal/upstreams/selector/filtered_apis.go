package selector

import (
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/Elenore23/dshackle/internal/protocol"
)

const NoUpstream = ""

// UpstreamFilter is anything that can be asked for a member upstream's
// current state by id, and for the full, stable-sorted id list.
type UpstreamFilter interface {
	UpstreamIds() []string
	UpstreamState(id string) *protocol.UpstreamState
}

// FilteredApis is a lazily-ordered sequence of upstream ids matching a
// request's requirements: PRIMARY upstreams are offered before FALLBACK
// ones, and within each role the starting point rotates call to call so
// repeated identical requests don't pin one upstream indefinitely.
type FilteredApis struct {
	filter   UpstreamFilter
	matcher  Matcher
	selected mapset.Set[string]
	seed     uint64
}

func NewFilteredApis(filter UpstreamFilter, matcher Matcher, seed uint64) *FilteredApis {
	return &FilteredApis{
		filter:   filter,
		matcher:  matcher,
		selected: mapset.NewThreadUnsafeSet[string](),
		seed:     seed,
	}
}

// Next returns the next unselected upstream id that satisfies the matcher,
// preferring PRIMARY upstreams over FALLBACK ones, or NoUpstream plus the
// worst reason encountered if nothing qualifies. With no candidate ids at
// all the reason is nil.
func (f *FilteredApis) Next() (string, MatchResponse) {
	primary, fallback := f.partition()
	if len(primary) == 0 && len(fallback) == 0 {
		return NoUpstream, nil
	}

	if id, reason := f.scan(primary); id != NoUpstream {
		return id, nil
	} else if id, reason2 := f.scan(fallback); id != NoUpstream {
		return id, nil
	} else {
		return NoUpstream, worstOf(reason, reason2)
	}
}

func (f *FilteredApis) partition() ([]string, []string) {
	ids := f.filter.UpstreamIds()
	var primary, fallback []string
	for _, id := range ids {
		state := f.filter.UpstreamState(id)
		if state != nil && state.Role == protocol.Fallback {
			fallback = append(fallback, id)
		} else {
			primary = append(primary, id)
		}
	}

	primary, fallback = rotate(primary, f.seed), rotate(fallback, f.seed)
	f.sortByAvailabilityAndLag(primary)
	f.sortByAvailabilityAndLag(fallback)
	return primary, fallback
}

// sortByAvailabilityAndLag stable-sorts a rotated id list so unavailable
// upstreams fall behind available ones, within equal availability the
// least-lagging upstream comes first, and within equal availability and lag
// the higher-priority upstream comes first - without excluding anything, so
// a degraded upstream is still reachable as a last resort.
func (f *FilteredApis) sortByAvailabilityAndLag(ids []string) {
	sort.SliceStable(ids, func(i, j int) bool {
		si, sj := f.filter.UpstreamState(ids[i]), f.filter.UpstreamState(ids[j])
		ai, aj := availabilityOf(si), availabilityOf(sj)
		if ai != aj {
			return ai < aj
		}
		li, lj := lagOf(si), lagOf(sj)
		if li != lj {
			return li < lj
		}
		return priorityOf(si) > priorityOf(sj)
	})
}

func priorityOf(state *protocol.UpstreamState) int {
	if state == nil {
		return 0
	}
	return state.Priority
}

func availabilityOf(state *protocol.UpstreamState) protocol.UpstreamAvailability {
	if state == nil {
		return protocol.Unavailable
	}
	return state.Availability
}

func lagOf(state *protocol.UpstreamState) uint64 {
	if state == nil || state.Lag == nil {
		return 0
	}
	return *state.Lag
}

func (f *FilteredApis) scan(ids []string) (string, MatchResponse) {
	var worst MatchResponse = AvailabilityResponse{}
	for _, id := range ids {
		if f.selected.ContainsOne(id) {
			continue
		}
		state := f.filter.UpstreamState(id)
		matched := f.matcher.Match(id, state)
		if matched.Type() == SuccessType {
			f.selected.Add(id)
			return id, nil
		}
		if matched.Type() < worst.Type() {
			worst = matched
		}
	}
	return NoUpstream, worst
}

func rotate(ids []string, seed uint64) []string {
	if len(ids) == 0 {
		return ids
	}
	pos := seed % uint64(len(ids))
	rotated := make([]string, len(ids))
	copy(rotated, ids[pos:])
	copy(rotated[len(ids)-int(pos):], ids[:pos])
	return rotated
}

func worstOf(a, b MatchResponse) MatchResponse {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if a.Type() < b.Type() {
		return a
	}
	return b
}
