package capture

// timeline maps decoded frame timestamps onto the encoder time-base.
// Output timestamps strictly increase; a frame that would not advance
// is rejected.
type timeline struct {
	src      TimeBase
	dst      TimeBase
	zeroBase bool // rebase so the first frame starts at zero

	offset     int64
	haveOffset bool
	first      int64
	last       int64
	haveLast   bool
}

// next returns the encoder pts for a frame stamped pts in the source
// time-base. Missing timestamps continue one tick after the previous
// frame. ok is false when the frame must be dropped.
func (t *timeline) next(pts int64) (out int64, ok bool) {
	switch {
	case pts == noPTS && t.haveLast:
		out = t.last + 1
	case pts == noPTS:
		out = 0
	default:
		if t.zeroBase {
			if !t.haveOffset {
				t.offset, t.haveOffset = pts, true
			}
			pts -= t.offset
		}
		if out = t.src.Rescale(pts, t.dst); out == noPTS {
			return 0, false
		}
	}
	if t.haveLast && out <= t.last {
		return 0, false
	}
	if !t.haveLast {
		t.first = out
	}
	t.last, t.haveLast = out, true
	return out, true
}

// origin returns the pts of the first accepted frame.
func (t *timeline) origin() int64 {
	return t.first
}

// orderMonitor checks that timestamps written to the output never go
// backwards. Encoders with B-frames are checked on dts, others on pts.
type orderMonitor struct {
	useDTS bool
	last   int64
	have   bool
}

// observe reports whether ts keeps the stream ordered.
func (m *orderMonitor) observe(pts, dts int64) bool {
	ts := pts
	if m.useDTS {
		ts = dts
	}
	if ts == noPTS {
		return true
	}
	if m.have && ts < m.last {
		return false
	}
	m.last, m.have = ts, true
	return true
}
