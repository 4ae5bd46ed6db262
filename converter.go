package capture

import (
	"fmt"

	"github.com/asticode/go-astiav"
)

// frameConverter converts decoded frames to the encoder's pixel format
// at the source resolution. The swscale context is rebuilt whenever the
// input geometry or format changes.
type frameConverter struct {
	dstFmt astiav.PixelFormat

	ssc    *astiav.SoftwareScaleContext
	dst    *astiav.Frame
	srcW   int
	srcH   int
	srcFmt astiav.PixelFormat
}

func newFrameConverter(dstFmt astiav.PixelFormat) *frameConverter {
	return &frameConverter{dstFmt: dstFmt}
}

// Convert returns src unchanged when it already has the target format.
// Otherwise it returns a frame owned by the converter, valid until the
// next call.
func (c *frameConverter) Convert(src *astiav.Frame) (*astiav.Frame, error) {
	if src.PixelFormat() == c.dstFmt {
		return src, nil
	}
	if err := c.ensure(src); err != nil {
		return nil, err
	}

	// The encoder may still hold a reference to the previous buffer.
	c.dst.Unref()
	c.dst.SetWidth(c.srcW)
	c.dst.SetHeight(c.srcH)
	c.dst.SetPixelFormat(c.dstFmt)
	if err := c.dst.AllocBuffer(0); err != nil {
		return nil, fmt.Errorf("alloc %s frame: %w", c.dstFmt, err)
	}
	if err := c.ssc.ScaleFrame(src, c.dst); err != nil {
		return nil, fmt.Errorf("scale %s -> %s: %w", c.srcFmt, c.dstFmt, err)
	}
	c.dst.SetPts(src.Pts())
	return c.dst, nil
}

func (c *frameConverter) ensure(src *astiav.Frame) error {
	w, h, f := src.Width(), src.Height(), src.PixelFormat()
	if c.ssc != nil && w == c.srcW && h == c.srcH && f == c.srcFmt {
		return nil
	}
	c.Close()

	ssc, err := astiav.CreateSoftwareScaleContext(w, h, f, w, h, c.dstFmt,
		astiav.NewSoftwareScaleContextFlags(astiav.SoftwareScaleContextFlagBilinear))
	if err != nil {
		return fmt.Errorf("create scale context %dx%d %s -> %s: %w", w, h, f, c.dstFmt, err)
	}
	c.ssc = ssc
	c.dst = astiav.AllocFrame()
	c.srcW, c.srcH, c.srcFmt = w, h, f
	return nil
}

func (c *frameConverter) Close() {
	if c.dst != nil {
		c.dst.Free()
		c.dst = nil
	}
	if c.ssc != nil {
		c.ssc.Free()
		c.ssc = nil
	}
}
