package transport

import "time"

const (
	alpha = 0.125
	beta  = 0.25
)

type rttEstimator struct {
	smoothedRTT time.Duration
	rttVar      time.Duration
	rto         time.Duration
	minRTO      time.Duration
	maxRTO      time.Duration
}

func newRTTEstimator(initial, min, max time.Duration) *rttEstimator {
	r := &rttEstimator{minRTO: min, maxRTO: max}
	r.rto = r.clamp(initial)
	return r
}

// update folds in one sample. Callers must not pass samples taken from a
// retransmitted frame.
func (r *rttEstimator) update(rtt time.Duration) {
	if r.smoothedRTT == 0 {
		r.smoothedRTT = rtt
		r.rttVar = rtt / 2
	} else {
		rttDiff := r.smoothedRTT - rtt
		if rttDiff < 0 {
			rttDiff = -rttDiff
		}

		r.rttVar = time.Duration((1-beta)*float64(r.rttVar) + beta*float64(rttDiff))
		r.smoothedRTT = time.Duration((1-alpha)*float64(r.smoothedRTT) + alpha*float64(rtt))
	}

	r.rto = r.clamp(r.smoothedRTT + 4*r.rttVar)
}

func (r *rttEstimator) RTO() time.Duration {
	return r.rto
}

func (r *rttEstimator) clamp(d time.Duration) time.Duration {
	if d < r.minRTO {
		return r.minRTO
	}
	if r.maxRTO > 0 && d > r.maxRTO {
		return r.maxRTO
	}
	return d
}
