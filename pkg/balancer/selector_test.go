package balancer

import (
	"testing"

	"convoproxy/pkg/models"
	"convoproxy/pkg/registry"

	"github.com/stretchr/testify/suite"
)

// SelectorTestSuite tests eligibility filtering, fallback and affinity
type SelectorTestSuite struct {
	suite.Suite
	registry *registry.Registry
}

// SetupTest runs before each test
func (s *SelectorTestSuite) SetupTest() {
	s.registry = registry.New()
}

func (s *SelectorTestSuite) add(ids ...string) {
	for _, id := range ids {
		s.Require().NoError(s.registry.Add(models.NewEndpoint(id, "http://"+id, 1)))
	}
}

func (s *SelectorTestSuite) markDown(id string) {
	ep, ok := s.registry.Get(id)
	s.Require().True(ok)
	ep.Transition(func(models.Status, int) (models.Status, int) {
		return models.StatusDown, 0
	})
}

// TestPickSkipsDownEndpoints tests the core eligibility invariant
func (s *SelectorTestSuite) TestPickSkipsDownEndpoints() {
	s.add("cw-1", "cw-2")
	s.markDown("cw-1")

	selector := NewSelector(s.registry, &RoundRobin{}, false)
	for i := 0; i < 5; i++ {
		ep, decision, err := selector.Pick("", nil)
		s.Require().NoError(err)
		s.Equal("cw-2", ep.ID)
		s.Equal(StrategyRoundRobin, decision.Strategy)
	}
}

// TestPickAllDownWithoutFallback tests the empty-candidate error
func (s *SelectorTestSuite) TestPickAllDownWithoutFallback() {
	s.add("cw-1", "cw-2")
	s.markDown("cw-1")
	s.markDown("cw-2")

	selector := NewSelector(s.registry, &RoundRobin{}, false)
	_, _, err := selector.Pick("", nil)
	s.ErrorIs(err, ErrNoEligibleEndpoint)
}

// TestPickAllDownWithFallback tests fallback-to-any
func (s *SelectorTestSuite) TestPickAllDownWithFallback() {
	s.add("cw-1")
	s.markDown("cw-1")

	selector := NewSelector(s.registry, &RoundRobin{}, true)
	ep, _, err := selector.Pick("", nil)
	s.Require().NoError(err)
	s.Equal("cw-1", ep.ID)
}

// TestPickEmptyRegistry tests a pool with zero endpoints
func (s *SelectorTestSuite) TestPickEmptyRegistry() {
	selector := NewSelector(s.registry, &RoundRobin{}, true)
	_, _, err := selector.Pick("", nil)
	s.ErrorIs(err, ErrNoEligibleEndpoint)
}

// TestPickHonorsExclusions tests failover exclusion of failed endpoints
func (s *SelectorTestSuite) TestPickHonorsExclusions() {
	s.add("cw-1", "cw-2")

	selector := NewSelector(s.registry, &RoundRobin{}, false)
	exclude := map[string]struct{}{"cw-1": {}}
	for i := 0; i < 4; i++ {
		ep, _, err := selector.Pick("", exclude)
		s.Require().NoError(err)
		s.Equal("cw-2", ep.ID)
	}
}

// TestRoundRobinCursorResetsOnPoolChange tests the documented
// reset-on-pool-change semantics
func (s *SelectorTestSuite) TestRoundRobinCursorResetsOnPoolChange() {
	s.add("cw-1", "cw-2", "cw-3")

	selector := NewSelector(s.registry, &RoundRobin{}, false)
	ep, _, _ := selector.Pick("", nil)
	s.Equal("cw-1", ep.ID)
	ep, _, _ = selector.Pick("", nil)
	s.Equal("cw-2", ep.ID)

	// Membership change rewinds the rotation
	s.registry.Remove("cw-3")
	ep, _, _ = selector.Pick("", nil)
	s.Equal("cw-1", ep.ID)
}

// TestAffinityPinsRouteKey tests consistent routing for a route key
func (s *SelectorTestSuite) TestAffinityPinsRouteKey() {
	s.add("cw-1", "cw-2", "cw-3")
	selector := NewSelector(s.registry, &RoundRobin{}, false)

	first, decision, err := selector.Pick("conversation-42", nil)
	s.Require().NoError(err)
	s.Equal("affinity", decision.Strategy)

	for i := 0; i < 20; i++ {
		ep, _, err := selector.Pick("conversation-42", nil)
		s.Require().NoError(err)
		s.Equal(first.ID, ep.ID)
	}
}

// TestAffinityYieldsWhenOwnerIneligible tests that a pinned endpoint
// going DOWN hands the request to the strategy
func (s *SelectorTestSuite) TestAffinityYieldsWhenOwnerIneligible() {
	s.add("cw-1", "cw-2", "cw-3")
	selector := NewSelector(s.registry, &RoundRobin{}, false)

	owner, _, err := selector.Pick("conversation-42", nil)
	s.Require().NoError(err)
	s.markDown(owner.ID)

	ep, decision, err := selector.Pick("conversation-42", nil)
	s.Require().NoError(err)
	s.NotEqual(owner.ID, ep.ID)
	s.Equal(StrategyRoundRobin, decision.Strategy)
}

// TestAffinityDistributesKeys tests that distinct keys spread across
// the pool rather than clustering on one endpoint
func (s *SelectorTestSuite) TestAffinityDistributesKeys() {
	s.add("cw-1", "cw-2", "cw-3")
	selector := NewSelector(s.registry, &RoundRobin{}, false)

	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		ep, _, err := selector.Pick("conversation-"+string(rune('a'+i%26))+string(rune('0'+i%10)), nil)
		s.Require().NoError(err)
		seen[ep.ID] = true
	}
	s.GreaterOrEqual(len(seen), 2)
}

// TestSelectorTestSuite runs the test suite
func TestSelectorTestSuite(t *testing.T) {
	suite.Run(t, new(SelectorTestSuite))
}
