package capture

import (
	"errors"
	"fmt"

	"github.com/asticode/go-astiav"
)

// Decoder is the decode session bound to the selected input stream.
type Decoder struct {
	ctx      *astiav.CodecContext
	codec    *astiav.Codec
	frame    *astiav.Frame
	draining bool
	closed   bool
}

// openDecoder opens codec, or the default decoder for the stream's codec
// when nil, on st.
func openDecoder(fc *astiav.FormatContext, st *astiav.Stream, codec *astiav.Codec, threads int) (*Decoder, error) {
	cp := st.CodecParameters()
	if codec == nil {
		codec = astiav.FindDecoder(cp.CodecID())
	}
	if codec == nil {
		return nil, fmt.Errorf("%w: codec %s", ErrDecoderNotFound, cp.CodecID())
	}
	cc := astiav.AllocCodecContext(codec)
	if cc == nil {
		return nil, fmt.Errorf("%w: alloc codec context", ErrDecoderOpenFailed)
	}
	if err := cp.ToCodecContext(cc); err != nil {
		cc.Free()
		return nil, fmt.Errorf("%w: copy parameters: %w", ErrDecoderOpenFailed, err)
	}
	cc.SetFramerate(fc.GuessFrameRate(st, nil))
	if threads > 0 {
		cc.SetThreadCount(threads)
	}
	if err := cc.Open(codec, nil); err != nil {
		cc.Free()
		return nil, fmt.Errorf("%w: %s: %w", ErrDecoderOpenFailed, codec.Name(), err)
	}
	return &Decoder{
		ctx:   cc,
		codec: codec,
		frame: astiav.AllocFrame(),
	}, nil
}

// Name returns the FFmpeg decoder name.
func (d *Decoder) Name() string { return d.codec.Name() }

// Decode submits pkt and passes every frame the decoder produces to emit.
// The frame is only valid until emit returns. A nil pkt drains the
// decoder; draining twice is a no-op. Decode consumes pkt.
func (d *Decoder) Decode(pkt *astiav.Packet, emit func(*astiav.Frame) error) error {
	if d.closed {
		if pkt != nil {
			pkt.Unref()
		}
		return ErrSessionClosed
	}
	if pkt == nil {
		if d.draining {
			return nil
		}
		d.draining = true
		if err := d.ctx.SendPacket(nil); err != nil && !errors.Is(err, astiav.ErrEof) {
			return fmt.Errorf("%w: flush decoder: %w", ErrCodecFailed, err)
		}
		return d.receive(emit)
	}

	defer pkt.Unref()
	if d.draining {
		return fmt.Errorf("%w: decoder is draining", ErrSessionClosed)
	}
	if err := d.ctx.SendPacket(pkt); err != nil {
		return fmt.Errorf("%w: send packet: %w", ErrCodecRejected, err)
	}
	return d.receive(emit)
}

func (d *Decoder) receive(emit func(*astiav.Frame) error) error {
	for {
		if err := d.ctx.ReceiveFrame(d.frame); err != nil {
			if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
				return nil
			}
			return fmt.Errorf("%w: receive frame: %w", ErrCodecFailed, err)
		}
		err := emit(d.frame)
		d.frame.Unref()
		if err != nil {
			return err
		}
	}
}

// Close frees the decode session. It is safe to call more than once.
func (d *Decoder) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	d.frame.Free()
	d.ctx.Free()
	return nil
}
