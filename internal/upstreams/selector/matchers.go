package selector

import (
	"fmt"

	"github.com/Elenore23/dshackle/internal/protocol"
	"github.com/rs/zerolog/log"
)

type MatchResponseType int

const (
	MethodType MatchResponseType = iota
	CapabilityType
	AvailabilityType
	SuccessType
)

type MatchResponse interface {
	Cause() string
	Type() MatchResponseType
}

type SuccessResponse struct{}

func (s SuccessResponse) Type() MatchResponseType { return SuccessType }
func (s SuccessResponse) Cause() string           { return "" }

type AvailabilityResponse struct {
	status protocol.UpstreamAvailability
}

func (a AvailabilityResponse) Type() MatchResponseType { return AvailabilityType }
func (a AvailabilityResponse) Cause() string {
	return fmt.Sprintf("upstream is %s", a.status)
}

type MethodResponse struct {
	method string
}

func (m MethodResponse) Type() MatchResponseType { return MethodType }
func (m MethodResponse) Cause() string           { return fmt.Sprintf("method %s is not supported", m.method) }

type CapabilityResponse struct {
	cap protocol.Cap
}

func (c CapabilityResponse) Type() MatchResponseType { return CapabilityType }
func (c CapabilityResponse) Cause() string           { return fmt.Sprintf("capability %s is missing", c.cap) }

type LabelResponse struct {
	key, value string
}

func (l LabelResponse) Type() MatchResponseType { return MethodType }
func (l LabelResponse) Cause() string           { return fmt.Sprintf("label %s=%s is not satisfied", l.key, l.value) }

// Matcher checks a single concern against a member upstream's state. Pass
// several to MultiMatcher to combine, AND-style, into one decision.
type Matcher interface {
	Match(upstreamId string, state *protocol.UpstreamState) MatchResponse
}

type AvailabilityMatcher struct {
	worst protocol.UpstreamAvailability
}

func NewAvailabilityMatcher(worst protocol.UpstreamAvailability) *AvailabilityMatcher {
	return &AvailabilityMatcher{worst: worst}
}

func (a *AvailabilityMatcher) Match(_ string, state *protocol.UpstreamState) MatchResponse {
	if state.Availability <= a.worst {
		return SuccessResponse{}
	}
	return AvailabilityResponse{status: state.Availability}
}

type MethodMatcher struct {
	method string
}

func NewMethodMatcher(method string) *MethodMatcher {
	return &MethodMatcher{method: method}
}

func (m *MethodMatcher) Match(_ string, state *protocol.UpstreamState) MatchResponse {
	if state.Methods == nil || state.Methods.IsAllowed(m.method) {
		return SuccessResponse{}
	}
	return MethodResponse{method: m.method}
}

type CapabilityMatcher struct {
	cap protocol.Cap
}

func NewCapabilityMatcher(cap protocol.Cap) *CapabilityMatcher {
	return &CapabilityMatcher{cap: cap}
}

func (c *CapabilityMatcher) Match(_ string, state *protocol.UpstreamState) MatchResponse {
	if state.Capabilities != nil && state.Capabilities.ContainsOne(c.cap) {
		return SuccessResponse{}
	}
	return CapabilityResponse{cap: c.cap}
}

// MultiMatcher combines several matchers and reports the single worst
// response. Any non-success response disqualifies the upstream.
type MultiMatcher struct {
	matchers []Matcher
}

func NewMultiMatcher(matchers ...Matcher) *MultiMatcher {
	return &MultiMatcher{matchers: matchers}
}

func (m *MultiMatcher) Match(upId string, state *protocol.UpstreamState) MatchResponse {
	var response MatchResponse = SuccessResponse{}
	for _, matcher := range m.matchers {
		matched := matcher.Match(upId, state)
		if matched.Type() != SuccessType {
			log.Debug().Msgf("upstream %s check: %s", upId, matched.Cause())
		}
		if matched.Type() < response.Type() {
			response = matched
		}
	}
	return response
}

// LabelSelectorMatcher requires an upstream to carry every label/value pair
// a caller asked for (region=eu, provider=infra, and so on). An upstream
// with no labels at all never satisfies a non-empty requirement.
type LabelSelectorMatcher struct {
	required map[string]string
}

func NewLabelSelectorMatcher(required map[string]string) *LabelSelectorMatcher {
	return &LabelSelectorMatcher{required: required}
}

func (l *LabelSelectorMatcher) Match(_ string, state *protocol.UpstreamState) MatchResponse {
	for key, value := range l.required {
		if state.Labels == nil || state.Labels[key] != value {
			return LabelResponse{key: key, value: value}
		}
	}
	return SuccessResponse{}
}

// OrMatcher combines several matchers and succeeds as soon as any one of
// them does, unlike MultiMatcher which requires all of them to. With no
// matchers configured it always succeeds.
type OrMatcher struct {
	matchers []Matcher
}

func NewOrMatcher(matchers ...Matcher) *OrMatcher {
	return &OrMatcher{matchers: matchers}
}

func (o *OrMatcher) Match(upId string, state *protocol.UpstreamState) MatchResponse {
	if len(o.matchers) == 0 {
		return SuccessResponse{}
	}
	var worst MatchResponse
	for _, matcher := range o.matchers {
		matched := matcher.Match(upId, state)
		if matched.Type() == SuccessType {
			return matched
		}
		if worst == nil || matched.Type() < worst.Type() {
			worst = matched
		}
	}
	return worst
}
