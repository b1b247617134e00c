package ioselector

import (
	"slices"
)

// quantileEstimator estimates a single quantile of a stream in constant
// space, using the P-Square algorithm (Jain and Chlamtac, 1985). Five
// markers track the minimum, the p/2, p and (1+p)/2 quantiles, and the
// maximum, adjusted by piecewise-parabolic interpolation.
//
// Not thread-safe.
type quantileEstimator struct {
	heights [5]float64
	pos     [5]int
	desired [5]float64
	incr    [5]float64
	warmup  [5]float64
	p       float64
	count   int
}

func newQuantileEstimator(p float64) *quantileEstimator {
	p = min(max(p, 0), 1)
	return &quantileEstimator{
		p:    p,
		incr: [5]float64{0, p / 2, p, (1 + p) / 2, 1},
	}
}

func (e *quantileEstimator) Observe(x float64) {
	e.count++
	if e.count <= 5 {
		e.warmup[e.count-1] = x
		if e.count == 5 {
			e.heights = e.warmup
			slices.Sort(e.heights[:])
			e.pos = [5]int{0, 1, 2, 3, 4}
			e.desired = [5]float64{0, 2 * e.p, 4 * e.p, 2 + 2*e.p, 4}
		}
		return
	}

	var k int
	switch {
	case x < e.heights[0]:
		e.heights[0] = x
	case x >= e.heights[4]:
		e.heights[4] = x
		k = 3
	default:
		for k = 0; k < 3 && x >= e.heights[k+1]; k++ {
		}
	}
	for i := k + 1; i < 5; i++ {
		e.pos[i]++
	}
	for i := range e.desired {
		e.desired[i] += e.incr[i]
	}

	for i := 1; i < 4; i++ {
		d := e.desired[i] - float64(e.pos[i])
		if (d >= 1 && e.pos[i+1]-e.pos[i] > 1) || (d <= -1 && e.pos[i-1]-e.pos[i] < -1) {
			s := 1
			if d < 0 {
				s = -1
			}
			h := e.parabolic(i, s)
			if e.heights[i-1] >= h || h >= e.heights[i+1] {
				h = e.linear(i, s)
			}
			e.heights[i] = h
			e.pos[i] += s
		}
	}
}

func (e *quantileEstimator) parabolic(i, s int) float64 {
	d := float64(s)
	n0, n1, n2 := float64(e.pos[i-1]), float64(e.pos[i]), float64(e.pos[i+1])
	q0, q1, q2 := e.heights[i-1], e.heights[i], e.heights[i+1]
	return q1 + d/(n2-n0)*((n1-n0+d)*(q2-q1)/(n2-n1)+(n2-n1-d)*(q1-q0)/(n1-n0))
}

func (e *quantileEstimator) linear(i, s int) float64 {
	return e.heights[i] + float64(s)*(e.heights[i+s]-e.heights[i])/float64(e.pos[i+s]-e.pos[i])
}

// Value returns the current estimate, or 0 with no observations.
func (e *quantileEstimator) Value() float64 {
	switch {
	case e.count == 0:
		return 0
	case e.count < 5:
		buf := slices.Clone(e.warmup[:e.count])
		slices.Sort(buf)
		return buf[min(int(e.p*float64(e.count)), e.count-1)]
	default:
		return e.heights[2]
	}
}
