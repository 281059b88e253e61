package health

import "convoproxy/pkg/models"

// Thresholds configure the demotion steps of the health state machine.
// DegradeAfter consecutive failures demote HEALTHY to DEGRADED;
// DownAfter additional consecutive failures demote DEGRADED to DOWN.
type Thresholds struct {
	DegradeAfter int
	DownAfter    int
}

// DefaultThresholds matches the documented defaults: 3 failures to
// degrade, 3 more to go down.
var DefaultThresholds = Thresholds{DegradeAfter: 3, DownAfter: 3}

// next is the transition table of the health state machine.
//
//	HEALTHY  --DegradeAfter consecutive failures-->  DEGRADED
//	DEGRADED --DownAfter consecutive failures----->  DOWN
//	any success: counter resets and the status promotes exactly one
//	step (DOWN -> DEGRADED -> HEALTHY), never skipping a step, so a
//	single probe can not flap an endpoint from DOWN straight to
//	HEALTHY.
//
// The failure counter resets on every status change, so the DOWN
// demotion requires DownAfter failures counted after the DEGRADED
// transition.
func next(cur models.Status, fails int, success bool, t Thresholds) (models.Status, int) {
	if success {
		switch cur {
		case models.StatusDown:
			return models.StatusDegraded, 0
		case models.StatusDegraded:
			return models.StatusHealthy, 0
		default:
			return models.StatusHealthy, 0
		}
	}

	fails++
	switch cur {
	case models.StatusHealthy:
		if fails >= t.DegradeAfter {
			return models.StatusDegraded, 0
		}
		return models.StatusHealthy, fails
	case models.StatusDegraded:
		if fails >= t.DownAfter {
			return models.StatusDown, 0
		}
		return models.StatusDegraded, fails
	default:
		// Already DOWN; nothing further to demote to.
		return models.StatusDown, fails
	}
}
