// Package mix implements the static Speakers/Discrete channel up- and
// down-mixing table described in spec.md §4.E. It is internal because the
// coefficients are an implementation detail of the node/bus packages, not
// a public API surface — callers go through node.Base's channel-count
// negotiation instead.
package mix

import "bken/audiograph/bus"

// Recognized speaker layouts by channel count.
const (
	Mono      = 1
	Stereo    = 2
	Quad      = 4
	Five      = 5
	FiveOne   = 6
	SevenOne  = 8
)

const invSqrt2 = 0.70710678118654752440

// Apply mixes src (srcChannels) into dst (dstChannels) according to
// interpretation. dst is assumed zeroed by the caller when it should
// start from silence; Apply always overwrites every destination sample
// it touches (it does not sum — summing across multiple sources is the
// job of the node.Input junction, which calls Apply per source into a
// scratch bus and then sums).
func Apply(dst, src *bus.Bus, interp bus.Interpretation) error {
	if interp == bus.Discrete {
		applyDiscrete(dst, src)
		return nil
	}
	return applySpeakers(dst, src)
}

func applyDiscrete(dst, src *bus.Bus) {
	n := src.NumberOfChannels()
	if dst.NumberOfChannels() < n {
		n = dst.NumberOfChannels()
	}
	for i := 0; i < dst.NumberOfChannels(); i++ {
		d := dst.Channel(i)
		if i < n {
			copy(d, src.Channel(i))
		} else {
			for j := range d {
				d[j] = 0
			}
		}
	}
}

// applySpeakers implements the exact coefficient table from spec.md §4.E.
// Unrecognized (srcChannels, dstChannels) pairs fall back, for downmix,
// to an equal-weight sum of source channel i into destination channel
// i mod dstChannels ("otherwise sum equal-weight"), and for upmix to a
// passthrough into matching indices with the rest zeroed.
func applySpeakers(dst, src *bus.Bus) error {
	sc, dc := src.NumberOfChannels(), dst.NumberOfChannels()
	switch {
	case sc == dc:
		return dst.CopyFrom(src)
	case sc > dc:
		downmix(dst, src, sc, dc)
	default:
		upmix(dst, src, sc, dc)
	}
	return nil
}

func downmix(dst, src *bus.Bus, sc, dc int) {
	switch {
	case sc == Stereo && dc == Mono:
		l, r := src.Channel(0), src.Channel(1)
		m := dst.Channel(0)
		for i := range m {
			m[i] = 0.5 * (l[i] + r[i])
		}
	case sc == Quad && dc == Mono:
		l, r, sl, sr := src.Channel(0), src.Channel(1), src.Channel(2), src.Channel(3)
		m := dst.Channel(0)
		for i := range m {
			m[i] = 0.25 * (l[i] + r[i] + sl[i] + sr[i])
		}
	case sc == FiveOne && dc == Mono:
		l, r, c, sl, sr := src.Channel(0), src.Channel(1), src.Channel(2), src.Channel(4), src.Channel(5)
		m := dst.Channel(0)
		for i := range m {
			m[i] = float32(invSqrt2)*(l[i]+r[i]) + c[i] + 0.5*(sl[i]+sr[i])
		}
	case sc == Quad && dc == Stereo:
		l, r, sl, sr := src.Channel(0), src.Channel(1), src.Channel(2), src.Channel(3)
		dl, dr := dst.Channel(0), dst.Channel(1)
		for i := range dl {
			dl[i] = l[i] + float32(invSqrt2)*sl[i]
			dr[i] = r[i] + float32(invSqrt2)*sr[i]
		}
	case sc == FiveOne && dc == Stereo:
		l, r, c, sl, sr := src.Channel(0), src.Channel(1), src.Channel(2), src.Channel(4), src.Channel(5)
		dl, dr := dst.Channel(0), dst.Channel(1)
		for i := range dl {
			dl[i] = l[i] + float32(invSqrt2)*c[i] + float32(invSqrt2)*sl[i]
			dr[i] = r[i] + float32(invSqrt2)*c[i] + float32(invSqrt2)*sr[i]
		}
	default:
		// Unrecognized pair: sum equal-weight into the available destination
		// channels, matching the spec's fallback rule.
		for i := 0; i < dc; i++ {
			d := dst.Channel(i)
			for j := range d {
				d[j] = 0
			}
		}
		for i := 0; i < sc; i++ {
			s := src.Channel(i)
			d := dst.Channel(i % dc)
			for j := range d {
				d[j] += s[j]
			}
		}
	}
}

func upmix(dst, src *bus.Bus, sc, dc int) {
	zero := func(i int) {
		d := dst.Channel(i)
		for j := range d {
			d[j] = 0
		}
	}
	switch {
	case sc == Mono && dc == Stereo:
		m := src.Channel(0)
		l, r := dst.Channel(0), dst.Channel(1)
		copy(l, m)
		copy(r, m)
	case sc == Mono && dc == Quad:
		m := src.Channel(0)
		copy(dst.Channel(0), m)
		copy(dst.Channel(1), m)
		zero(2)
		zero(3)
	case sc == Stereo && dc == Quad:
		copy(dst.Channel(0), src.Channel(0))
		copy(dst.Channel(1), src.Channel(1))
		zero(2)
		zero(3)
	case sc == Mono && dc == FiveOne:
		for i := 0; i < dc; i++ {
			if i == 2 {
				copy(dst.Channel(2), src.Channel(0))
			} else {
				zero(i)
			}
		}
	case sc == Stereo && dc == FiveOne:
		copy(dst.Channel(0), src.Channel(0))
		copy(dst.Channel(1), src.Channel(1))
		for i := 2; i < dc; i++ {
			zero(i)
		}
	default:
		// Unrecognized pair: passthrough into matching indices, zero the rest.
		for i := 0; i < dc; i++ {
			if i < sc {
				copy(dst.Channel(i), src.Channel(i))
			} else {
				zero(i)
			}
		}
	}
}
