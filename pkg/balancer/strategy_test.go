package balancer

import (
	"testing"

	"convoproxy/pkg/models"

	"github.com/stretchr/testify/suite"
)

// StrategyTestSuite tests the selection strategies
type StrategyTestSuite struct {
	suite.Suite
}

func (s *StrategyTestSuite) pool(weights map[string]int, ids ...string) []*models.Endpoint {
	out := make([]*models.Endpoint, 0, len(ids))
	for _, id := range ids {
		w := 1
		if weights != nil {
			w = weights[id]
		}
		out = append(out, models.NewEndpoint(id, "http://"+id, w))
	}
	return out
}

// TestRoundRobinFairness tests the distribution bound: over K calls
// each candidate is visited floor(K/n) to ceil(K/n) times
func (s *StrategyTestSuite) TestRoundRobinFairness() {
	candidates := s.pool(nil, "cw-1", "cw-2", "cw-3")
	rr := &RoundRobin{}

	const k = 100
	counts := map[string]int{}
	for i := 0; i < k; i++ {
		ep, err := rr.Select(candidates)
		s.Require().NoError(err)
		counts[ep.ID]++
	}

	for id, n := range counts {
		s.GreaterOrEqual(n, k/len(candidates), "endpoint %s under-visited", id)
		s.LessOrEqual(n, k/len(candidates)+1, "endpoint %s over-visited", id)
	}
}

// TestRoundRobinWrapsInOrder tests cursor wrap-around
func (s *StrategyTestSuite) TestRoundRobinWrapsInOrder() {
	candidates := s.pool(nil, "cw-2", "cw-1")
	rr := &RoundRobin{}

	var visited []string
	for i := 0; i < 4; i++ {
		ep, _ := rr.Select(candidates)
		visited = append(visited, ep.ID)
	}
	// Insertion order, not identifier order, and wraps after two
	s.Equal([]string{"cw-2", "cw-1", "cw-2", "cw-1"}, visited)
}

// TestRoundRobinReset tests the pool-change reset semantics
func (s *StrategyTestSuite) TestRoundRobinReset() {
	candidates := s.pool(nil, "cw-1", "cw-2", "cw-3")
	rr := &RoundRobin{}

	rr.Select(candidates)
	rr.Select(candidates)
	rr.Reset()

	ep, _ := rr.Select(candidates)
	s.Equal("cw-1", ep.ID)
}

// TestRoundRobinEmpty tests the empty-pool error
func (s *StrategyTestSuite) TestRoundRobinEmpty() {
	rr := &RoundRobin{}
	_, err := rr.Select(nil)
	s.ErrorIs(err, ErrNoEligibleEndpoint)
}

// TestWeightedRandomDistribution tests the weight proportionality over
// a large sample: weights {A:1, B:3} put A in 20%-30% and B in 70%-80%
func (s *StrategyTestSuite) TestWeightedRandomDistribution() {
	candidates := s.pool(map[string]int{"cw-a": 1, "cw-b": 3}, "cw-a", "cw-b")
	wr := &WeightedRandom{}

	const draws = 10000
	counts := map[string]int{}
	for i := 0; i < draws; i++ {
		ep, err := wr.Select(candidates)
		s.Require().NoError(err)
		counts[ep.ID]++
	}

	shareA := float64(counts["cw-a"]) / draws
	shareB := float64(counts["cw-b"]) / draws
	s.InDelta(0.25, shareA, 0.05)
	s.InDelta(0.75, shareB, 0.05)
}

// TestWeightedRandomZeroWeightExcluded tests that weight 0 never wins
func (s *StrategyTestSuite) TestWeightedRandomZeroWeightExcluded() {
	candidates := s.pool(map[string]int{"cw-a": 0, "cw-b": 2}, "cw-a", "cw-b")
	wr := &WeightedRandom{}

	for i := 0; i < 500; i++ {
		ep, err := wr.Select(candidates)
		s.Require().NoError(err)
		s.Equal("cw-b", ep.ID)
	}
}

// TestWeightedRandomAllZero tests that an all-zero pool is unselectable
func (s *StrategyTestSuite) TestWeightedRandomAllZero() {
	candidates := s.pool(map[string]int{"cw-a": 0, "cw-b": 0}, "cw-a", "cw-b")
	wr := &WeightedRandom{}

	_, err := wr.Select(candidates)
	s.ErrorIs(err, ErrNoEligibleEndpoint)
}

// TestLeastConnectionsPicksSmallest tests the primary criterion
func (s *StrategyTestSuite) TestLeastConnectionsPicksSmallest() {
	candidates := s.pool(nil, "cw-1", "cw-2", "cw-3")
	candidates[0].BeginRequest()
	candidates[0].BeginRequest()
	candidates[2].BeginRequest()

	lc := &LeastConnections{}
	ep, err := lc.Select(candidates)
	s.Require().NoError(err)
	s.Equal("cw-2", ep.ID)
}

// TestLeastConnectionsTieBreak tests deterministic rotation over the
// tied set ordered by identifier
func (s *StrategyTestSuite) TestLeastConnectionsTieBreak() {
	candidates := s.pool(nil, "cw-b", "cw-a", "cw-c")
	lc := &LeastConnections{}

	// All tied at zero: rotation starts at the lowest identifier
	ep, _ := lc.Select(candidates)
	s.Equal("cw-a", ep.ID)
	ep, _ = lc.Select(candidates)
	s.Equal("cw-b", ep.ID)
	ep, _ = lc.Select(candidates)
	s.Equal("cw-c", ep.ID)
	ep, _ = lc.Select(candidates)
	s.Equal("cw-a", ep.ID)
}

// TestNewStrategy tests configuration-name resolution
func (s *StrategyTestSuite) TestNewStrategy() {
	for name, want := range map[string]string{
		"":                 StrategyRoundRobin,
		"round_robin":      StrategyRoundRobin,
		"weighted_random":  StrategyWeightedRandom,
		"least_connections": StrategyLeastConnections,
	} {
		strategy, err := NewStrategy(name)
		s.Require().NoError(err)
		s.Equal(want, strategy.Name())
	}

	_, err := NewStrategy("bogus")
	s.ErrorIs(err, ErrNoStrategy)
}

// TestStrategyTestSuite runs the test suite
func TestStrategyTestSuite(t *testing.T) {
	suite.Run(t, new(StrategyTestSuite))
}
