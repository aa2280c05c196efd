package upstreams

import (
	"github.com/Elenore23/dshackle/internal/protocol"
	"github.com/Elenore23/dshackle/pkg/utils"
)

// FilterBestAvailability folds every member upstream's last-known
// availability down to the single best (lowest-ordinal) one seen across the
// whole set, the optimistic counterpart to MultistreamState.Availability's
// worst-wins reduction: it answers "is anything usable" rather than "is
// everything healthy". Entries are evicted on Remove so a churned-out
// upstream's status can never hold the reduction hostage.
type FilterBestAvailability struct {
	byUpstream *utils.CMap[string, protocol.UpstreamAvailability]
}

func NewFilterBestAvailability() *FilterBestAvailability {
	return &FilterBestAvailability{byUpstream: utils.NewCMap[string, protocol.UpstreamAvailability]()}
}

// Update records an upstream's latest availability and returns the best one
// across every upstream currently tracked, itself included.
func (f *FilterBestAvailability) Update(upstreamId string, status protocol.UpstreamAvailability) protocol.UpstreamAvailability {
	f.byUpstream.Store(upstreamId, status)
	return f.best()
}

// Remove evicts an upstream from the reduction and returns the best
// availability across whatever remains, or UNAVAILABLE if nothing does.
func (f *FilterBestAvailability) Remove(upstreamId string) protocol.UpstreamAvailability {
	f.byUpstream.Delete(upstreamId)
	return f.best()
}

func (f *FilterBestAvailability) best() protocol.UpstreamAvailability {
	best := protocol.Unavailable
	found := false
	f.byUpstream.Range(func(_ string, status protocol.UpstreamAvailability) bool {
		found = true
		if status < best {
			best = status
		}
		return true
	})
	if !found {
		return protocol.Unavailable
	}
	return best
}
