package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/asticode/go-astiav"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

var registerDevicesOnce sync.Once

// registerDevices makes libavdevice inputs (v4l2, avfoundation, dshow,
// lavfi) visible to FindInputFormat.
func registerDevices() {
	registerDevicesOnce.Do(astiav.RegisterAllDevices)
}

// SourceConfig configures a capture source.
type SourceConfig struct {
	DeviceURL   string            // Device path or name ("" = first enumerated device)
	InputFormat string            // Capture subsystem, e.g. "v4l2"
	Options     map[string]string // Demuxer options, e.g. video_size, framerate
	Threads     int               // Decoder threads (0 = auto)
	Logger      logrus.FieldLogger
}

// CaptureSource owns the input container, its selected video stream and
// the decoder bound to it.
type CaptureSource struct {
	endpoint
	fc      *astiav.FormatContext
	opened  bool
	url     string
	stream  *astiav.Stream
	desc    StreamDescriptor
	decoder *Decoder
	log     logrus.FieldLogger
}

// OpenSource opens the capture device, probes its streams and opens a
// decoder for the best video stream.
func OpenSource(ctx context.Context, cfg SourceConfig) (_ *CaptureSource, err error) {
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("component", "source")

	registerDevices()
	input := astiav.FindInputFormat(cfg.InputFormat)
	if input == nil {
		return nil, fmt.Errorf("%w: %q", ErrFormatNotFound, cfg.InputFormat)
	}

	url := cfg.DeviceURL
	if url == "" {
		if url, err = DefaultVideoDevice(ctx, cfg.InputFormat); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrOpenFailed, err)
		}
		log.WithField("device", url).Info("using default capture device")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fc := astiav.AllocFormatContext()
	if fc == nil {
		return nil, fmt.Errorf("%w: alloc format context", ErrOpenFailed)
	}
	s := &CaptureSource{
		endpoint: endpoint{name: "input " + url},
		fc:       fc,
		url:      url,
		log:      log,
	}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	opts, err := newDictionary(cfg.Options)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpenFailed, err)
	}
	defer opts.Free()
	if err := fc.OpenInput(url, input, opts); err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrOpenFailed, cfg.InputFormat, url, err)
	}
	s.opened = true
	for k := range cfg.Options {
		if opts.Get(k, nil, 0) != nil {
			log.WithField("option", k).Warn("demuxer ignored option")
		}
	}

	if err := fc.FindStreamInfo(nil); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrStreamProbeFailed, url, err)
	}

	st, codec, selErr := fc.FindBestStream(astiav.MediaTypeVideo, -1, -1)
	s.stream = st
	s.dump(input)
	if selErr != nil {
		return nil, fmt.Errorf("%w: %s", bestStreamError(selErr), url)
	}

	s.decoder, err = openDecoder(fc, s.stream, codec, cfg.Threads)
	if err != nil {
		return nil, err
	}
	s.desc = describeStream(s.stream, s.decoder.ctx)
	if err := s.desc.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStreamProbeFailed, err)
	}

	log.WithFields(s.desc.Fields()).WithField("decoder", s.decoder.Name()).Info("input opened")
	return s, nil
}

// bestStreamError maps a failed best-stream lookup to its error kind.
func bestStreamError(err error) error {
	switch {
	case errors.Is(err, astiav.ErrStreamNotFound):
		return ErrNoVideoStream
	case errors.Is(err, astiav.ErrDecoderNotFound):
		return ErrDecoderNotFound
	}
	return fmt.Errorf("%w: %w", ErrStreamProbeFailed, err)
}

// dump logs the probed container layout, one entry per stream.
func (s *CaptureSource) dump(input *astiav.InputFormat) {
	s.log.WithFields(logrus.Fields{
		"url":     s.url,
		"format":  input.Name(),
		"streams": len(s.fc.Streams()),
	}).Info("input")
	for _, st := range s.fc.Streams() {
		entry := s.log.WithFields(describeStream(st, nil).Fields()).WithField("type", st.CodecParameters().MediaType().String())
		if st == s.stream {
			entry = entry.WithField("selected", true)
		}
		entry.Info("input stream")
	}
}

func newDictionary(opts map[string]string) (*astiav.Dictionary, error) {
	d := astiav.NewDictionary()
	keys := make([]string, 0, len(opts))
	for k := range opts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := d.Set(k, opts[k], 0); err != nil {
			d.Free()
			return nil, fmt.Errorf("option %s=%s: %w", k, opts[k], err)
		}
	}
	return d, nil
}

// VideoStream returns the descriptor of the selected video stream.
func (s *CaptureSource) VideoStream() StreamDescriptor { return s.desc }

// Decoder returns the decode session bound to the selected stream.
func (s *CaptureSource) Decoder() *Decoder { return s.decoder }

// ReadPacket reads the next packet of any stream into pkt. It returns
// io.EOF when the source is exhausted and retries while the device has
// no data ready.
func (s *CaptureSource) ReadPacket(ctx context.Context, pkt *astiav.Packet) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	for {
		err := s.fc.ReadFrame(pkt)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, astiav.ErrEof) || errors.Is(err, io.EOF):
			return io.EOF
		case errors.Is(err, astiav.ErrEagain):
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Millisecond):
			}
		default:
			return fmt.Errorf("%w: %s: %w", ErrIOReadFailed, s.url, err)
		}
	}
}

// Close releases the decoder and the input container.
func (s *CaptureSource) Close() error {
	if !s.markClosed() {
		return nil
	}
	var result *multierror.Error
	if s.decoder != nil {
		if err := s.decoder.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if s.fc != nil {
		if s.opened {
			s.fc.CloseInput()
		}
		s.fc.Free()
		s.fc = nil
	}
	return result.ErrorOrNil()
}
