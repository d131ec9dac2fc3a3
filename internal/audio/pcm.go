package audio

import "math"

// Resample converts mono samples from srcRate to dstRate by linear
// interpolation.
func Resample(src []float32, srcRate, dstRate int) []float32 {
	if len(src) == 0 {
		return nil
	}
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate {
		out := make([]float32, len(src))
		copy(out, src)
		return out
	}

	step := float64(srcRate) / float64(dstRate)
	n := int(math.Ceil(float64(len(src)) / step))
	if n <= 0 {
		n = 1
	}

	out := make([]float32, n)
	last := len(src) - 1
	for i := range out {
		pos := float64(i) * step
		idx := int(pos)
		if idx >= last {
			out[i] = src[last]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = src[idx] + (src[idx+1]-src[idx])*frac
	}
	return out
}
