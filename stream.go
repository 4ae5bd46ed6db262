package capture

import (
	"fmt"

	"github.com/asticode/go-astiav"
	"github.com/sirupsen/logrus"
)

// StreamDescriptor is the metadata of one elementary stream.
type StreamDescriptor struct {
	Index       int
	CodecID     astiav.CodecID
	CodecName   string
	PixelFormat astiav.PixelFormat
	Width       int
	Height      int
	BitRate     int64
	TimeBase    TimeBase
	FrameRate   TimeBase // zero when unknown
}

// Validate checks the invariants every usable video stream holds.
func (d StreamDescriptor) Validate() error {
	if !d.TimeBase.Valid() {
		return fmt.Errorf("stream %d: time base %s is not positive", d.Index, d.TimeBase)
	}
	if !d.TimeBase.Reduced() {
		return fmt.Errorf("stream %d: time base %s is not reduced", d.Index, d.TimeBase)
	}
	if d.Width <= 0 || d.Height <= 0 {
		return fmt.Errorf("stream %d: invalid dimensions %dx%d", d.Index, d.Width, d.Height)
	}
	return nil
}

// Fields returns the descriptor as structured log fields.
func (d StreamDescriptor) Fields() logrus.Fields {
	f := logrus.Fields{
		"stream":    d.Index,
		"codec":     d.CodecName,
		"pix_fmt":   d.PixelFormat.String(),
		"size":      fmt.Sprintf("%dx%d", d.Width, d.Height),
		"bit_rate":  d.BitRate,
		"time_base": d.TimeBase.String(),
	}
	if d.FrameRate.Valid() {
		f["frame_rate"] = d.FrameRate.String()
	}
	return f
}

func (d StreamDescriptor) String() string {
	return fmt.Sprintf("#%d %s %s %dx%d tb=%s", d.Index, d.CodecName, d.PixelFormat, d.Width, d.Height, d.TimeBase)
}

// describeStream builds a descriptor from a demuxed stream. When the
// decoder already knows the pixel format it wins over the container's.
func describeStream(st *astiav.Stream, dec *astiav.CodecContext) StreamDescriptor {
	cp := st.CodecParameters()
	d := StreamDescriptor{
		Index:       st.Index(),
		CodecID:     cp.CodecID(),
		CodecName:   cp.CodecID().Name(),
		PixelFormat: cp.PixelFormat(),
		Width:       cp.Width(),
		Height:      cp.Height(),
		BitRate:     cp.BitRate(),
		TimeBase:    timeBaseOf(st.TimeBase()).Reduce(),
	}
	if fr := st.AvgFrameRate(); fr.Num() > 0 && fr.Den() > 0 {
		d.FrameRate = timeBaseOf(fr).Reduce()
	}
	if dec != nil && dec.PixelFormat() != astiav.PixelFormatNone {
		d.PixelFormat = dec.PixelFormat()
	}
	return d
}
