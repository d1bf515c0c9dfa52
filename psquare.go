package reactor

// pSquare is a streaming quantile estimator implementing the P² algorithm
// (Jain & Chlamtac, CACM 28(10), 1985). It estimates a single quantile in
// O(1) per observation with five markers and no sample retention, which
// keeps per-callback latency tracking off the allocation path.
//
// Not safe for concurrent use; the metrics collector synchronizes.
type pSquare struct {
	p    float64    // target quantile in [0, 1]
	q    [5]float64 // marker heights
	n    [5]int     // marker positions
	np   [5]float64 // desired marker positions
	dn   [5]float64 // desired position increments
	buf  [5]float64 // first observations, pre-initialization
	seen int
}

func newPSquare(p float64) *pSquare {
	if p < 0 {
		p = 0
	} else if p > 1 {
		p = 1
	}
	return &pSquare{
		p:  p,
		dn: [5]float64{0, p / 2, p, (1 + p) / 2, 1},
	}
}

// observe folds one observation into the estimate.
func (ps *pSquare) observe(x float64) {
	ps.seen++
	if ps.seen <= 5 {
		ps.buf[ps.seen-1] = x
		if ps.seen == 5 {
			ps.initMarkers()
		}
		return
	}

	// Locate the cell k with q[k] <= x < q[k+1], extending the extremes.
	var k int
	switch {
	case x < ps.q[0]:
		ps.q[0] = x
		k = 0
	case x >= ps.q[4]:
		ps.q[4] = x
		k = 3
	default:
		for k = 0; k < 4; k++ {
			if ps.q[k] <= x && x < ps.q[k+1] {
				break
			}
		}
	}

	for i := k + 1; i < 5; i++ {
		ps.n[i]++
	}
	for i := 0; i < 5; i++ {
		ps.np[i] += ps.dn[i]
	}

	// Nudge interior markers toward their desired positions, parabolic
	// where the result stays ordered, linear otherwise.
	for i := 1; i < 4; i++ {
		d := ps.np[i] - float64(ps.n[i])
		if (d >= 1 && ps.n[i+1]-ps.n[i] > 1) || (d <= -1 && ps.n[i-1]-ps.n[i] < -1) {
			sign := 1
			if d < 0 {
				sign = -1
			}
			h := ps.parabolic(i, sign)
			if ps.q[i-1] < h && h < ps.q[i+1] {
				ps.q[i] = h
			} else {
				ps.q[i] = ps.linear(i, sign)
			}
			ps.n[i] += sign
		}
	}
}

func (ps *pSquare) initMarkers() {
	for i := 1; i < 5; i++ {
		key := ps.buf[i]
		j := i - 1
		for j >= 0 && ps.buf[j] > key {
			ps.buf[j+1] = ps.buf[j]
			j--
		}
		ps.buf[j+1] = key
	}
	for i := 0; i < 5; i++ {
		ps.q[i] = ps.buf[i]
		ps.n[i] = i
	}
	ps.np = [5]float64{0, 2 * ps.p, 4 * ps.p, 2 + 2*ps.p, 4}
}

func (ps *pSquare) parabolic(i, d int) float64 {
	df := float64(d)
	ni := float64(ps.n[i])
	prev := float64(ps.n[i-1])
	next := float64(ps.n[i+1])
	a := df / (next - prev)
	b := (ni - prev + df) * (ps.q[i+1] - ps.q[i]) / (next - ni)
	c := (next - ni - df) * (ps.q[i] - ps.q[i-1]) / (ni - prev)
	return ps.q[i] + a*(b+c)
}

func (ps *pSquare) linear(i, d int) float64 {
	if d == 1 {
		return ps.q[i] + (ps.q[i+1]-ps.q[i])/float64(ps.n[i+1]-ps.n[i])
	}
	return ps.q[i] - (ps.q[i]-ps.q[i-1])/float64(ps.n[i]-ps.n[i-1])
}

// estimate returns the current quantile estimate. With fewer than five
// observations it falls back to the exact small-sample quantile.
func (ps *pSquare) estimate() float64 {
	if ps.seen == 0 {
		return 0
	}
	if ps.seen < 5 {
		var sorted [5]float64
		copy(sorted[:], ps.buf[:ps.seen])
		for i := 1; i < ps.seen; i++ {
			key := sorted[i]
			j := i - 1
			for j >= 0 && sorted[j] > key {
				sorted[j+1] = sorted[j]
				j--
			}
			sorted[j+1] = key
		}
		idx := int(float64(ps.seen-1) * ps.p)
		return sorted[idx]
	}
	return ps.q[2]
}
