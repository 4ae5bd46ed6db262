package capture

import (
	"fmt"

	"github.com/asticode/go-astiav"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

// SinkConfig configures the output sink.
type SinkConfig struct {
	OutputPath string        // Destination file; the container is guessed from its extension
	Format     string        // Forces a muxer, e.g. "mp4" ("" = guess)
	Encoder    EncoderConfig // Output encoder settings
	Metrics    *Metrics      // Optional
	Logger     logrus.FieldLogger
}

// SinkStats counts what the sink has written.
type SinkStats struct {
	Packets             uint64
	Bytes               uint64
	Keyframes           uint64
	ParameterSetPackets uint64 // packets carrying in-band SPS/PPS
}

// OutputSink owns the output container, its single video stream and the
// encoder feeding it.
type OutputSink struct {
	endpoint
	fc      *astiav.FormatContext
	pb      *astiav.IOContext
	stream  *astiav.Stream
	encoder *Encoder
	codec   VideoCodec
	path    string
	metrics *Metrics
	log     logrus.FieldLogger

	headerWritten  bool
	trailerWritten bool
	stats          SinkStats
}

// OpenSink creates the output container for path and an encoder
// configured from the source stream.
func OpenSink(cfg SinkConfig, src StreamDescriptor) (_ *OutputSink, err error) {
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("component", "sink")

	var format *astiav.OutputFormat
	if cfg.Format != "" {
		if format = astiav.FindOutputFormat(cfg.Format); format == nil {
			return nil, fmt.Errorf("%w: unknown output format %q", ErrContainerCreateFailed, cfg.Format)
		}
	}
	fc, err := astiav.AllocOutputFormatContext(format, "", cfg.OutputPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrContainerCreateFailed, cfg.OutputPath, err)
	}
	if fc == nil {
		return nil, fmt.Errorf("%w: %s", ErrContainerCreateFailed, cfg.OutputPath)
	}

	s := &OutputSink{
		endpoint: endpoint{name: "output " + cfg.OutputPath},
		fc:       fc,
		codec:    cfg.Encoder.Codec,
		path:     cfg.OutputPath,
		metrics:  cfg.Metrics,
		log:      log,
	}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	codec, provider, err := findEncoder(cfg.Encoder.Codec, cfg.Encoder.Provider)
	if err != nil {
		return nil, err
	}

	s.stream = fc.NewStream(codec)
	if s.stream == nil {
		return nil, fmt.Errorf("%w: new stream", ErrContainerCreateFailed)
	}

	params := NegotiateEncoder(src, codec.PixelFormats(), cfg.Encoder.BitRate)
	params.GlobalHeader = fc.OutputFormat().Flags().Has(astiav.IOFormatFlagGlobalheader)

	s.encoder, err = openEncoder(codec, provider, params, cfg.Encoder)
	if err != nil {
		return nil, err
	}
	if err := s.stream.CodecParameters().FromCodecContext(s.encoder.ctx); err != nil {
		return nil, fmt.Errorf("%w: copy encoder parameters: %w", ErrEncoderOpenFailed, err)
	}
	s.stream.SetTimeBase(params.TimeBase.Rational())

	if !fc.OutputFormat().Flags().Has(astiav.IOFormatFlagNofile) {
		pb, err := astiav.OpenIOContext(cfg.OutputPath, astiav.NewIOContextFlags(astiav.IOContextFlagWrite), nil, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrOutputIOFailed, cfg.OutputPath, err)
		}
		s.pb = pb
		fc.SetPb(pb)
	}

	log.WithFields(logrus.Fields{
		"path":          cfg.OutputPath,
		"muxer":         fc.OutputFormat().Name(),
		"encoder":       codec.Name(),
		"provider":      provider.String(),
		"license":       provider.License().String(),
		"size":          fmt.Sprintf("%dx%d", params.Width, params.Height),
		"pix_fmt":       params.PixelFormat.String(),
		"bit_rate":      params.BitRate,
		"time_base":     params.TimeBase.String(),
		"global_header": params.GlobalHeader,
	}).Info("output opened")
	return s, nil
}

// Encoder returns the encode session bound to the output stream.
func (s *OutputSink) Encoder() *Encoder { return s.encoder }

// StreamIndex returns the index of the output video stream.
func (s *OutputSink) StreamIndex() int { return s.stream.Index() }

// TimeBase returns the output stream time-base. The muxer may change it
// while writing the header.
func (s *OutputSink) TimeBase() TimeBase { return timeBaseOf(s.stream.TimeBase()) }

// GlobalHeader reports whether parameter sets live in the container header.
func (s *OutputSink) GlobalHeader() bool { return s.encoder.Params().GlobalHeader }

// Extradata returns the out-of-band codec configuration of the stream.
func (s *OutputSink) Extradata() []byte { return s.stream.CodecParameters().ExtraData() }

// Stats returns the sink counters.
func (s *OutputSink) Stats() SinkStats { return s.stats }

// WriteHeader writes the container header.
func (s *OutputSink) WriteHeader() error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if s.headerWritten {
		return nil
	}
	if err := s.fc.WriteHeader(nil); err != nil {
		return fmt.Errorf("%w: header: %w", ErrWriteFailed, err)
	}
	s.headerWritten = true
	s.log.WithFields(logrus.Fields{
		"time_base":       s.TimeBase().String(),
		"extradata_bytes": len(s.Extradata()),
	}).Debug("header written")
	return nil
}

// WritePacket hands pkt to the interleaving muxer, which takes its data.
// Timestamps must already be in the output stream time-base.
func (s *OutputSink) WritePacket(pkt *astiav.Packet) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if !s.headerWritten {
		return fmt.Errorf("%w: packet before header", ErrWriteFailed)
	}

	info := InspectAccessUnit(s.codec, pkt.Data())
	size := pkt.Size()
	key := pkt.Flags().Has(astiav.PacketFlagKey) || info.Keyframe

	if err := s.fc.WriteInterleavedFrame(pkt); err != nil {
		return fmt.Errorf("%w: packet: %w", ErrWriteFailed, err)
	}
	s.stats.Packets++
	s.stats.Bytes += uint64(size)
	if key {
		s.stats.Keyframes++
	}
	if info.ParameterSets() {
		s.stats.ParameterSetPackets++
		s.metrics.incParameterSets()
	}
	return nil
}

// WriteTrailer finalizes the container. It is a no-op without a header
// or when already written.
func (s *OutputSink) WriteTrailer() error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if !s.headerWritten || s.trailerWritten {
		return nil
	}
	s.trailerWritten = true
	if err := s.fc.WriteTrailer(); err != nil {
		return fmt.Errorf("%w: trailer: %w", ErrWriteFailed, err)
	}
	return nil
}

// Close releases the encoder, the output file and the container. It does
// not write the trailer.
func (s *OutputSink) Close() error {
	if !s.markClosed() {
		return nil
	}
	var result *multierror.Error
	if s.encoder != nil {
		if err := s.encoder.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if s.pb != nil {
		if err := s.pb.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("%w: close %s: %w", ErrOutputIOFailed, s.path, err))
		}
		s.pb = nil
	}
	if s.fc != nil {
		s.fc.Free()
		s.fc = nil
	}
	return result.ErrorOrNil()
}
