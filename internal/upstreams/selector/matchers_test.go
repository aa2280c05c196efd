package selector_test

import (
	"testing"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/Elenore23/dshackle/internal/protocol"
	"github.com/Elenore23/dshackle/internal/upstreams/selector"
	"github.com/stretchr/testify/assert"
)

func availableState(methods ...string) *protocol.UpstreamState {
	return &protocol.UpstreamState{
		Availability: protocol.Ok,
		Methods:      protocol.NewSetMethods(methods...),
		Capabilities: mapset.NewThreadUnsafeSet[protocol.Cap](),
	}
}

func TestMultiMatcherPicksWorstResponse(t *testing.T) {
	matcher := selector.NewMultiMatcher(
		selector.NewAvailabilityMatcher(protocol.Ok),
		selector.NewMethodMatcher("eth_call"),
	)

	state := availableState("eth_getBalance")
	response := matcher.Match("up1", state)

	assert.Equal(t, selector.MethodType, response.Type())
}

func TestMultiMatcherSuccess(t *testing.T) {
	matcher := selector.NewMultiMatcher(
		selector.NewAvailabilityMatcher(protocol.Ok),
		selector.NewMethodMatcher("eth_call"),
	)

	state := availableState("eth_call")
	response := matcher.Match("up1", state)

	assert.Equal(t, selector.SuccessType, response.Type())
}

func TestAvailabilityMatcherRejectsWorseThanThreshold(t *testing.T) {
	matcher := selector.NewAvailabilityMatcher(protocol.Lagging)
	state := availableState()
	state.Availability = protocol.Syncing

	response := matcher.Match("up1", state)

	assert.Equal(t, selector.AvailabilityType, response.Type())
}

func TestCapabilityMatcher(t *testing.T) {
	matcher := selector.NewCapabilityMatcher(protocol.CapWs)
	state := availableState()

	assert.Equal(t, selector.CapabilityType, matcher.Match("up1", state).Type())

	state.Capabilities.Add(protocol.CapWs)
	assert.Equal(t, selector.SuccessType, matcher.Match("up1", state).Type())
}

func TestLabelSelectorMatcherRequiresEveryLabel(t *testing.T) {
	matcher := selector.NewLabelSelectorMatcher(map[string]string{"region": "eu"})
	state := availableState()

	assert.NotEqual(t, selector.SuccessType, matcher.Match("up1", state).Type())

	state.Labels = map[string]string{"region": "eu", "provider": "infra"}
	assert.Equal(t, selector.SuccessType, matcher.Match("up1", state).Type())
}

func TestLabelSelectorMatcherWithNoRequirementsAlwaysSucceeds(t *testing.T) {
	matcher := selector.NewLabelSelectorMatcher(nil)
	assert.Equal(t, selector.SuccessType, matcher.Match("up1", availableState()).Type())
}

func TestOrMatcherSucceedsIfAnyMatcherSucceeds(t *testing.T) {
	matcher := selector.NewOrMatcher(
		selector.NewMethodMatcher("eth_getLogs"),
		selector.NewMethodMatcher("eth_call"),
	)
	state := availableState("eth_call")

	assert.Equal(t, selector.SuccessType, matcher.Match("up1", state).Type())
}

func TestOrMatcherFailsIfEveryMatcherFails(t *testing.T) {
	matcher := selector.NewOrMatcher(
		selector.NewMethodMatcher("eth_getLogs"),
		selector.NewMethodMatcher("eth_traceBlock"),
	)
	state := availableState("eth_call")

	assert.NotEqual(t, selector.SuccessType, matcher.Match("up1", state).Type())
}
