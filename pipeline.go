package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/asticode/go-astiav"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

// PipelineState represents the state of the capture pipeline.
type PipelineState int32

const (
	PipelineStateIdle       PipelineState = iota // Nothing opened
	PipelineStateSourceOpen                      // Input and decoder open
	PipelineStateSinkOpen                        // Output and encoder open
	PipelineStateStreaming                       // Moving packets
	PipelineStateDraining                        // Flushing decoder then encoder
	PipelineStateClosed                          // Trailer written, everything released
	PipelineStateError                           // Failed; resources released
)

func (s PipelineState) String() string {
	switch s {
	case PipelineStateIdle:
		return "idle"
	case PipelineStateSourceOpen:
		return "source_open"
	case PipelineStateSinkOpen:
		return "sink_open"
	case PipelineStateStreaming:
		return "streaming"
	case PipelineStateDraining:
		return "draining"
	case PipelineStateClosed:
		return "closed"
	case PipelineStateError:
		return "error"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can happen.
func (s PipelineState) Terminal() bool {
	return s == PipelineStateClosed || s == PipelineStateError
}

// Source produces demuxed packets for the pipeline.
type Source interface {
	// VideoStream describes the stream whose packets are decoded.
	VideoStream() StreamDescriptor
	// ReadPacket fills pkt; io.EOF signals exhaustion.
	ReadPacket(ctx context.Context, pkt *astiav.Packet) error
	Close() error
}

// FrameDecoder turns packets into frames. A nil packet drains it.
type FrameDecoder interface {
	Decode(pkt *astiav.Packet, emit func(*astiav.Frame) error) error
	Close() error
}

// FrameEncoder turns frames into packets. A nil frame drains it.
type FrameEncoder interface {
	Encode(f *astiav.Frame, emit func(*astiav.Packet) error) error
	Params() EncoderParams
	Close() error
}

// Sink writes packets into the output container.
type Sink interface {
	StreamIndex() int
	// TimeBase is only final after WriteHeader.
	TimeBase() TimeBase
	WriteHeader() error
	WritePacket(pkt *astiav.Packet) error
	WriteTrailer() error
	Close() error
}

// Opener acquires the pipeline's endpoints and codec sessions.
type Opener interface {
	OpenSource(ctx context.Context) (Source, FrameDecoder, error)
	OpenSink(ctx context.Context, src StreamDescriptor) (Sink, FrameEncoder, error)
}

// PipelineStats provides pipeline statistics.
type PipelineStats struct {
	PacketsRead      uint64
	PacketsSkipped   uint64 // packets of unselected streams
	FramesDecoded    uint64
	FramesConverted  uint64 // frames passed through the pixel format converter
	FramesEncoded    uint64
	FramesDropped    uint64 // frames whose timestamp did not advance
	PacketsWritten   uint64
	BytesWritten     uint64
	KeyframesWritten uint64
	OrderViolations  uint64 // output timestamps that went backwards
	LastPTS          int64  // last written pts, output time-base
	StartedAt        time.Time
	Elapsed          time.Duration
}

// PipelineConfig configures a capture pipeline.
type PipelineConfig struct {
	Config        Config                       // Capture settings
	Opener        Opener                       // nil = FFmpeg devices and files from Config
	Logger        logrus.FieldLogger           // nil = logrus standard logger
	Metrics       *Metrics                     // Optional
	OnStateChange func(from, to PipelineState) // Called synchronously on every transition
}

// Pipeline drives capture -> decode -> encode -> mux on the calling
// goroutine. A Pipeline runs once.
type Pipeline struct {
	cfg     Config
	opener  Opener
	log     logrus.FieldLogger
	metrics *Metrics
	onState func(from, to PipelineState)
	runID   string

	state   atomic.Int32
	started atomic.Bool

	stats   PipelineStats
	statsMu sync.Mutex

	// Owned by the running goroutine.
	src      Source
	dec      FrameDecoder
	sink     Sink
	enc      FrameEncoder
	conv     *frameConverter
	timeline timeline
	order    orderMonitor
	srcTB    TimeBase
	encTB    TimeBase
	sinkTB   TimeBase
	header   bool
	stopped  bool
	stopWhy  string
}

// NewPipeline validates cfg and creates an idle pipeline.
func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if err := cfg.Config.Validate(); err != nil {
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	runID := uuid.NewString()
	log = log.WithFields(logrus.Fields{"component": "pipeline", "run": runID})

	opener := cfg.Opener
	if opener == nil {
		opener = &ffmpegOpener{cfg: cfg.Config, log: cfg.Logger, metrics: cfg.Metrics}
	}
	p := &Pipeline{
		cfg:     cfg.Config,
		opener:  opener,
		log:     log,
		metrics: cfg.Metrics,
		onState: cfg.OnStateChange,
		runID:   runID,
	}
	p.state.Store(int32(PipelineStateIdle))
	p.metrics.setState(PipelineStateIdle)
	return p, nil
}

// RunID identifies this pipeline in logs.
func (p *Pipeline) RunID() string { return p.runID }

// State returns the current pipeline state.
func (p *Pipeline) State() PipelineState {
	return PipelineState(p.state.Load())
}

// Stats returns pipeline statistics.
func (p *Pipeline) Stats() PipelineStats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	s := p.stats
	if !s.StartedAt.IsZero() && !p.State().Terminal() {
		s.Elapsed = time.Since(s.StartedAt)
	}
	return s
}

func (p *Pipeline) setState(to PipelineState) {
	from := PipelineState(p.state.Swap(int32(to)))
	if from == to {
		return
	}
	p.log.WithFields(logrus.Fields{"from": from.String(), "to": to.String()}).Debug("state")
	p.metrics.setState(to)
	if p.onState != nil {
		p.onState(from, to)
	}
}

func (p *Pipeline) updateStats(fn func(*PipelineStats)) {
	p.statsMu.Lock()
	fn(&p.stats)
	p.statsMu.Unlock()
}

// Run opens the endpoints, streams until the source is exhausted, ctx is
// cancelled or a configured limit is reached, then drains and finalizes
// the output. Cancellation is a normal stop and returns nil. On failure
// the originating error is returned after a best-effort drain, trailer
// and release.
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return errors.New("pipeline already started")
	}
	p.updateStats(func(s *PipelineStats) { s.StartedAt = time.Now() })
	defer p.updateStats(func(s *PipelineStats) { s.Elapsed = time.Since(s.StartedAt) })

	if err := p.setup(ctx); err != nil {
		p.fail(err)
		if rerr := p.release(); rerr != nil {
			p.log.WithError(rerr).Warn("release after setup failure")
		}
		return err
	}

	p.setState(PipelineStateStreaming)
	if err := p.stream(ctx); err != nil {
		p.fail(err)
		p.teardown()
		return err
	}

	p.log.WithField("reason", p.stopWhy).Info("draining")
	p.setState(PipelineStateDraining)
	if err := p.drain(); err != nil {
		p.fail(err)
		p.teardown()
		return err
	}
	if err := p.sink.WriteTrailer(); err != nil {
		p.fail(err)
		if rerr := p.release(); rerr != nil {
			p.log.WithError(rerr).Warn("release after trailer failure")
		}
		return err
	}
	if err := p.release(); err != nil {
		p.fail(err)
		return err
	}
	p.setState(PipelineStateClosed)

	stats := p.Stats()
	p.log.WithFields(logrus.Fields{
		"packets_read":     stats.PacketsRead,
		"frames_decoded":   stats.FramesDecoded,
		"frames_encoded":   stats.FramesEncoded,
		"frames_dropped":   stats.FramesDropped,
		"packets_written":  stats.PacketsWritten,
		"bytes_written":    stats.BytesWritten,
		"order_violations": stats.OrderViolations,
	}).Info("capture finished")
	return nil
}

func (p *Pipeline) fail(err error) {
	p.log.WithError(err).WithField("kind", KindOf(err)).Error("pipeline failed")
	p.metrics.incError(KindOf(err))
	p.setState(PipelineStateError)
}

func (p *Pipeline) setup(ctx context.Context) error {
	src, dec, err := p.opener.OpenSource(ctx)
	if err != nil {
		return err
	}
	p.src, p.dec = src, dec
	desc := src.VideoStream()
	if err := desc.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrStreamProbeFailed, err)
	}
	p.srcTB = desc.TimeBase
	p.setState(PipelineStateSourceOpen)

	sink, enc, err := p.opener.OpenSink(ctx, desc)
	if err != nil {
		return err
	}
	p.sink, p.enc = sink, enc
	params := enc.Params()
	p.encTB = params.TimeBase
	p.conv = newFrameConverter(params.PixelFormat)
	p.timeline = timeline{src: p.srcTB, dst: p.encTB, zeroBase: p.cfg.ZeroBasePTS}
	p.order = orderMonitor{useDTS: params.Reordering}
	p.setState(PipelineStateSinkOpen)

	if err := sink.WriteHeader(); err != nil {
		return err
	}
	p.header = true
	p.sinkTB = sink.TimeBase()
	p.log.WithFields(logrus.Fields{
		"source_time_base":  p.srcTB.String(),
		"encoder_time_base": p.encTB.String(),
		"output_time_base":  p.sinkTB.String(),
	}).Info("streaming")
	return nil
}

func (p *Pipeline) stream(ctx context.Context) error {
	videoIndex := p.src.VideoStream().Index
	pkt := astiav.AllocPacket()
	defer pkt.Free()

	for {
		select {
		case <-ctx.Done():
			p.stopWhy = "cancelled"
			return nil
		default:
		}
		if p.stopped {
			return nil
		}

		err := p.src.ReadPacket(ctx, pkt)
		if errors.Is(err, io.EOF) {
			p.stopWhy = "end of input"
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				p.log.WithError(err).Warn("read failed after cancellation")
				p.stopWhy = "cancelled"
				return nil
			}
			return err
		}
		p.updateStats(func(s *PipelineStats) { s.PacketsRead++ })
		p.metrics.incPacketsRead()

		if pkt.StreamIndex() != videoIndex {
			pkt.Unref()
			p.updateStats(func(s *PipelineStats) { s.PacketsSkipped++ })
			continue
		}
		if err := p.dec.Decode(pkt, p.handleFrame); err != nil {
			return err
		}
	}
}

// handleFrame converts, retimes and encodes one decoded frame.
func (p *Pipeline) handleFrame(f *astiav.Frame) error {
	p.updateStats(func(s *PipelineStats) { s.FramesDecoded++ })
	p.metrics.incFramesDecoded()
	if p.stopped {
		return nil
	}

	out, err := p.conv.Convert(f)
	if err != nil {
		return err
	}
	if out != f {
		p.updateStats(func(s *PipelineStats) { s.FramesConverted++ })
	}

	pts, ok := p.timeline.next(out.Pts())
	if !ok {
		out.Unref()
		p.updateStats(func(s *PipelineStats) { s.FramesDropped++ })
		p.metrics.incFramesDropped()
		p.log.WithField("pts", out.Pts()).Debug("dropped frame with non-advancing timestamp")
		return nil
	}
	out.SetPts(pts)
	out.SetPictureType(astiav.PictureTypeNone)

	if err := p.enc.Encode(out, p.writePacket); err != nil {
		return err
	}
	p.updateStats(func(s *PipelineStats) { s.FramesEncoded++ })
	p.metrics.incFramesEncoded()
	p.checkLimits(pts)
	return nil
}

// checkLimits stops the capture once a frame or duration limit is hit.
func (p *Pipeline) checkLimits(pts int64) {
	if p.stopped {
		return
	}
	if p.cfg.MaxFrames > 0 && p.Stats().FramesEncoded >= uint64(p.cfg.MaxFrames) {
		p.stopped, p.stopWhy = true, "frame limit"
		return
	}
	if p.cfg.Duration > 0 && p.encTB.Seconds(pts-p.timeline.origin()) >= p.cfg.Duration.Seconds() {
		p.stopped, p.stopWhy = true, "duration limit"
	}
}

// writePacket retimes an encoded packet into the output stream and
// writes it.
func (p *Pipeline) writePacket(pkt *astiav.Packet) error {
	pkt.RescaleTs(p.encTB.Rational(), p.sinkTB.Rational())
	pkt.SetStreamIndex(p.sink.StreamIndex())

	pts := pkt.Pts()
	if !p.order.observe(pkt.Pts(), pkt.Dts()) {
		p.updateStats(func(s *PipelineStats) { s.OrderViolations++ })
		p.metrics.incOrderViolations()
		p.log.WithFields(logrus.Fields{"pts": pkt.Pts(), "dts": pkt.Dts()}).Warn("output timestamp went backwards")
	}
	size := pkt.Size()
	key := pkt.Flags().Has(astiav.PacketFlagKey)

	if err := p.sink.WritePacket(pkt); err != nil {
		return err
	}
	p.updateStats(func(s *PipelineStats) {
		s.PacketsWritten++
		s.BytesWritten += uint64(size)
		if key {
			s.KeyframesWritten++
		}
		s.LastPTS = pts
	})
	p.metrics.observePacket(size, key)
	return nil
}

// drain flushes the decoder, then the encoder. Frames and packets take
// the same path as during streaming.
func (p *Pipeline) drain() error {
	var result *multierror.Error
	if p.dec != nil {
		if err := p.dec.Decode(nil, p.handleFrame); err != nil {
			result = multierror.Append(result, fmt.Errorf("drain decoder: %w", err))
		}
	}
	if p.enc != nil && p.header {
		if err := p.enc.Encode(nil, p.writePacket); err != nil {
			result = multierror.Append(result, fmt.Errorf("drain encoder: %w", err))
		}
	}
	return result.ErrorOrNil()
}

// teardown is the error path: best-effort drain and trailer, then release.
// Secondary errors are logged; the caller reports the first failure.
func (p *Pipeline) teardown() {
	if err := p.drain(); err != nil {
		p.log.WithError(err).Warn("drain after failure")
	}
	if p.sink != nil && p.header {
		if err := p.sink.WriteTrailer(); err != nil {
			p.log.WithError(err).Warn("trailer after failure")
		}
	}
	if err := p.release(); err != nil {
		p.log.WithError(err).Warn("release after failure")
	}
}

// release closes what was acquired in reverse order: encoder, decoder,
// output, input.
func (p *Pipeline) release() error {
	var result *multierror.Error
	closeAll := []struct {
		name string
		c    io.Closer
	}{
		{"encoder", p.enc},
		{"decoder", p.dec},
		{"output", p.sink},
		{"input", p.src},
	}
	for _, c := range closeAll {
		if c.c == nil {
			continue
		}
		if err := c.c.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	if p.conv != nil {
		p.conv.Close()
	}
	p.enc, p.dec, p.sink, p.src = nil, nil, nil, nil
	return result.ErrorOrNil()
}
