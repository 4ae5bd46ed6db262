package capture

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/asticode/go-astiav"
)

// EncoderConfig configures the output encoder.
type EncoderConfig struct {
	Codec    VideoCodec // Output codec
	Provider Provider   // Encoder implementation (ProviderAuto = FFmpeg default)

	BitRate     int64             // Overrides the source bit rate when > 0
	GOPSize     int               // Keyframe interval in frames (0 = encoder default)
	MaxBFrames  int               // 0 keeps packets in presentation order
	Threads     int               // Encoder threads (0 = auto)
	Preset      string            // Encoder speed preset, e.g. "veryfast"
	H264Profile H264Profile       // H.264 profile
	Options     map[string]string // Extra encoder private options
}

// DefaultEncoderConfig returns an H.264 configuration tuned for live capture.
func DefaultEncoderConfig() EncoderConfig {
	return EncoderConfig{
		Codec:    VideoCodecH264,
		Provider: ProviderAuto,
		GOPSize:  0,
		Preset:   "veryfast",
	}
}

// EncoderParams are the parameters negotiated between the source stream
// and the encoder.
type EncoderParams struct {
	Width        int
	Height       int
	BitRate      int64
	TimeBase     TimeBase
	FrameRate    TimeBase // frames per second as a ratio; zero when unknown
	PixelFormat  astiav.PixelFormat
	GlobalHeader bool // parameter sets go to extradata, not in-band
	Reordering   bool // B-frames enabled: packets leave in decode order
}

// NegotiateEncoder derives encoder parameters from the source stream.
// Width, height, bit rate, time-base and frame rate are copied verbatim; a positive
// bitRate replaces the copied value. The pixel format is the encoder's
// first declared format, or the source's when the encoder declares none.
func NegotiateEncoder(src StreamDescriptor, encoderFormats []astiav.PixelFormat, bitRate int64) EncoderParams {
	p := EncoderParams{
		Width:       src.Width,
		Height:      src.Height,
		BitRate:     src.BitRate,
		TimeBase:    src.TimeBase,
		FrameRate:   src.FrameRate,
		PixelFormat: src.PixelFormat,
	}
	if bitRate > 0 {
		p.BitRate = bitRate
	}
	if len(encoderFormats) > 0 && encoderFormats[0] != astiav.PixelFormatNone {
		p.PixelFormat = encoderFormats[0]
	}
	return p
}

// Encoder is the encode session feeding the output stream.
type Encoder struct {
	ctx      *astiav.CodecContext
	codec    *astiav.Codec
	provider Provider
	params   EncoderParams
	pkt      *astiav.Packet
	draining bool
	closed   bool
}

// openEncoder configures and opens codec with params. The global header
// flag must be decided by the caller before this point.
func openEncoder(codec *astiav.Codec, provider Provider, params EncoderParams, cfg EncoderConfig) (*Encoder, error) {
	cc := astiav.AllocCodecContext(codec)
	if cc == nil {
		return nil, fmt.Errorf("%w: alloc codec context", ErrEncoderOpenFailed)
	}
	params.Reordering = cfg.MaxBFrames > 0
	cc.SetWidth(params.Width)
	cc.SetHeight(params.Height)
	cc.SetPixelFormat(params.PixelFormat)
	cc.SetTimeBase(params.TimeBase.Rational())
	if params.FrameRate.Valid() {
		cc.SetFramerate(params.FrameRate.Rational())
	}
	if params.BitRate > 0 {
		cc.SetBitRate(params.BitRate)
	}
	if cfg.GOPSize > 0 {
		cc.SetGopSize(cfg.GOPSize)
	}
	if cfg.Threads > 0 {
		cc.SetThreadCount(cfg.Threads)
	}
	if params.GlobalHeader {
		cc.SetFlags(cc.Flags().Add(astiav.CodecContextFlagGlobalHeader))
	}

	opts, err := encoderOptions(cfg)
	if err != nil {
		cc.Free()
		return nil, fmt.Errorf("%w: %s: %w", ErrEncoderOpenFailed, codec.Name(), err)
	}
	defer opts.Free()
	if err := cc.Open(codec, opts); err != nil {
		cc.Free()
		return nil, fmt.Errorf("%w: %s: %w", ErrEncoderOpenFailed, codec.Name(), err)
	}
	return &Encoder{
		ctx:      cc,
		codec:    codec,
		provider: provider,
		params:   params,
		pkt:      astiav.AllocPacket(),
	}, nil
}

func encoderOptions(cfg EncoderConfig) (*astiav.Dictionary, error) {
	opts := map[string]string{"bf": strconv.Itoa(cfg.MaxBFrames)}
	if cfg.Preset != "" {
		opts["preset"] = cfg.Preset
	}
	if cfg.Codec == VideoCodecH264 && cfg.H264Profile != H264ProfileDefault {
		opts["profile"] = cfg.H264Profile.String()
	}
	for k, v := range cfg.Options {
		opts[k] = v
	}
	return newDictionary(opts)
}

// Name returns the FFmpeg encoder name.
func (e *Encoder) Name() string { return e.codec.Name() }

// Provider returns which provider backs this encoder.
func (e *Encoder) Provider() Provider { return e.provider }

// Params returns the negotiated parameters.
func (e *Encoder) Params() EncoderParams { return e.params }

// Encode submits f and passes every packet the encoder produces to emit.
// The packet is only valid until emit returns. A nil f drains the
// encoder; draining never reports ErrCodecRejected. Encode unrefs f.
func (e *Encoder) Encode(f *astiav.Frame, emit func(*astiav.Packet) error) error {
	if e.closed {
		if f != nil {
			f.Unref()
		}
		return ErrSessionClosed
	}
	if f == nil {
		if e.draining {
			return nil
		}
		e.draining = true
		if err := e.ctx.SendFrame(nil); err != nil && !errors.Is(err, astiav.ErrEof) {
			return fmt.Errorf("%w: flush encoder: %w", ErrCodecFailed, err)
		}
		return e.receive(emit)
	}

	defer f.Unref()
	if e.draining {
		return fmt.Errorf("%w: encoder is draining", ErrSessionClosed)
	}
	if err := e.check(f); err != nil {
		return err
	}
	if err := e.ctx.SendFrame(f); err != nil {
		return fmt.Errorf("%w: send frame: %w", ErrCodecRejected, err)
	}
	return e.receive(emit)
}

// check rejects frames that do not match the negotiated parameters.
func (e *Encoder) check(f *astiav.Frame) error {
	if f.Width() != e.params.Width || f.Height() != e.params.Height {
		return fmt.Errorf("%w: frame %dx%d, encoder %dx%d", ErrCodecRejected,
			f.Width(), f.Height(), e.params.Width, e.params.Height)
	}
	if f.PixelFormat() != e.params.PixelFormat {
		return fmt.Errorf("%w: frame format %s, encoder %s", ErrCodecRejected,
			f.PixelFormat(), e.params.PixelFormat)
	}
	return nil
}

func (e *Encoder) receive(emit func(*astiav.Packet) error) error {
	for {
		if err := e.ctx.ReceivePacket(e.pkt); err != nil {
			if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
				return nil
			}
			return fmt.Errorf("%w: receive packet: %w", ErrCodecFailed, err)
		}
		err := emit(e.pkt)
		e.pkt.Unref()
		if err != nil {
			return err
		}
	}
}

// Close frees the encode session. It is safe to call more than once.
func (e *Encoder) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	e.pkt.Free()
	e.ctx.Free()
	return nil
}
