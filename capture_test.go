package capture

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/asticode/go-astiav"
	"github.com/sirupsen/logrus/hooks/test"
)

// lavfiConfig captures the lavfi test pattern into dir.
func lavfiConfig(t *testing.T) Config {
	t.Helper()
	registerDevices()
	if astiav.FindInputFormat("lavfi") == nil {
		t.Skip("FFmpeg built without lavfi")
	}
	if _, _, err := findEncoder(VideoCodecH264, ProviderAuto); err != nil {
		t.Skip("FFmpeg built without an H.264 encoder")
	}
	cfg := DefaultConfig()
	cfg.InputFormat = "lavfi"
	cfg.DeviceURL = "testsrc=size=320x240:rate=30"
	cfg.OutputPath = filepath.Join(t.TempDir(), "out.mp4")
	cfg.MaxFrames = 30
	return cfg
}

// sinkCapture keeps the output sink so its counters survive the run.
type sinkCapture struct {
	*ffmpegOpener
	sink *OutputSink
}

func (o *sinkCapture) OpenSink(ctx context.Context, desc StreamDescriptor) (Sink, FrameEncoder, error) {
	sink, enc, err := o.ffmpegOpener.OpenSink(ctx, desc)
	if err == nil {
		o.sink = sink.(*OutputSink)
	}
	return sink, enc, err
}

func TestOpenSource_UnknownFormat(t *testing.T) {
	_, err := OpenSource(context.Background(), SourceConfig{InputFormat: "no-such-capture-api"})
	if !errors.Is(err, ErrFormatNotFound) {
		t.Fatalf("OpenSource() = %v, want ErrFormatNotFound", err)
	}
}

func TestBestStreamError(t *testing.T) {
	tests := []struct {
		err  error
		want error
	}{
		{astiav.ErrStreamNotFound, ErrNoVideoStream},
		{astiav.ErrDecoderNotFound, ErrDecoderNotFound},
		{astiav.ErrEinval, ErrStreamProbeFailed},
	}
	for _, tt := range tests {
		if got := bestStreamError(tt.err); !errors.Is(got, tt.want) {
			t.Errorf("bestStreamError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestOpenSource_LavfiStreams(t *testing.T) {
	tests := []struct {
		name   string
		graph  string
		want   error
		width  int
		height int
	}{
		{"audio only", "sine=frequency=1000", ErrNoVideoStream, 0, 0},
		{"audio and video", "sine=frequency=1000 [out0]; testsrc=size=160x120:rate=30 [out1]", nil, 160, 120},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := lavfiConfig(t)
			cfg.DeviceURL = tt.graph
			log, _ := test.NewNullLogger()

			src, err := OpenSource(context.Background(), cfg.SourceConfig(log))
			if tt.want != nil {
				if !errors.Is(err, tt.want) {
					t.Fatalf("OpenSource() = %v, want %v", err, tt.want)
				}
				return
			}
			if err != nil {
				t.Fatalf("OpenSource() = %v", err)
			}
			defer src.Close()
			if d := src.VideoStream(); d.Width != tt.width || d.Height != tt.height {
				t.Errorf("selected %dx%d, want %dx%d", d.Width, d.Height, tt.width, tt.height)
			}
		})
	}
}

func TestOpenSource_Lavfi(t *testing.T) {
	cfg := lavfiConfig(t)
	log, _ := test.NewNullLogger()

	src, err := OpenSource(context.Background(), cfg.SourceConfig(log))
	if err != nil {
		t.Fatalf("OpenSource() = %v", err)
	}
	defer src.Close()

	d := src.VideoStream()
	if d.Width != 320 || d.Height != 240 {
		t.Errorf("size = %dx%d, want 320x240", d.Width, d.Height)
	}
	if err := d.Validate(); err != nil {
		t.Errorf("descriptor invalid: %v", err)
	}
	if src.Decoder() == nil {
		t.Fatal("no decoder")
	}

	if err := src.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if err := src.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
	pkt := astiav.AllocPacket()
	defer pkt.Free()
	if err := src.ReadPacket(context.Background(), pkt); !errors.Is(err, ErrEndpointClosed) {
		t.Errorf("ReadPacket after Close = %v, want ErrEndpointClosed", err)
	}
}

func TestPipeline_LavfiToMP4(t *testing.T) {
	cfg := lavfiConfig(t)
	log, _ := test.NewNullLogger()
	opener := &sinkCapture{ffmpegOpener: &ffmpegOpener{cfg: cfg, log: log}}

	p, err := NewPipeline(PipelineConfig{Config: cfg, Opener: opener, Logger: log})
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run() = %v", err)
	}

	stats := p.Stats()
	if stats.FramesEncoded != 30 {
		t.Errorf("FramesEncoded = %d, want 30", stats.FramesEncoded)
	}
	if stats.PacketsWritten != 30 {
		t.Errorf("PacketsWritten = %d, want 30", stats.PacketsWritten)
	}
	if stats.OrderViolations != 0 {
		t.Errorf("OrderViolations = %d", stats.OrderViolations)
	}
	// testsrc is rgb24; every frame goes through the scaler.
	if stats.FramesConverted == 0 {
		t.Error("FramesConverted = 0, want rgb24 frames converted")
	}

	// mp4 carries parameter sets in the avcC box, not in the packets.
	if !opener.sink.GlobalHeader() {
		t.Error("mp4 output without global header")
	}
	if n := opener.sink.Stats().ParameterSetPackets; n != 0 {
		t.Errorf("%d packets carried in-band parameter sets", n)
	}

	data, err := os.ReadFile(cfg.OutputPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) < 8 || string(data[4:8]) != "ftyp" {
		t.Fatalf("output does not start with an ftyp box")
	}
	if !bytes.Contains(data, []byte("moov")) {
		t.Error("output has no moov box; trailer missing")
	}
}

// sinkSource describes a 320x240 yuv420p stream at 30 fps.
func sinkSource() StreamDescriptor {
	return StreamDescriptor{
		CodecName:   "rawvideo",
		PixelFormat: astiav.PixelFormatYuv420P,
		Width:       320,
		Height:      240,
		TimeBase:    TimeBase{1, 30},
		FrameRate:   TimeBase{30, 1},
	}
}

func sinkConfig(t *testing.T, path string) SinkConfig {
	t.Helper()
	if _, _, err := findEncoder(VideoCodecH264, ProviderAuto); err != nil {
		t.Skip("FFmpeg built without an H.264 encoder")
	}
	log, _ := test.NewNullLogger()
	return SinkConfig{OutputPath: path, Encoder: DefaultEncoderConfig(), Logger: log}
}

func TestOpenSink_Errors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name  string
		setup func(*SinkConfig, *StreamDescriptor)
		want  error
		needs Provider
	}{
		{
			name:  "unknown extension",
			setup: func(c *SinkConfig, _ *StreamDescriptor) { c.OutputPath = filepath.Join(dir, "out.unknownext") },
			want:  ErrContainerCreateFailed,
		},
		{
			name:  "unknown muxer",
			setup: func(c *SinkConfig, _ *StreamDescriptor) { c.Format = "no-such-muxer" },
			want:  ErrContainerCreateFailed,
		},
		{
			name:  "missing directory",
			setup: func(c *SinkConfig, _ *StreamDescriptor) { c.OutputPath = filepath.Join(dir, "missing", "out.mp4") },
			want:  ErrOutputIOFailed,
		},
		{
			name:  "no frame size",
			setup: func(_ *SinkConfig, d *StreamDescriptor) { d.Width, d.Height = 0, 0 },
			want:  ErrEncoderOpenFailed,
		},
		{
			name: "bad x264 preset",
			setup: func(c *SinkConfig, _ *StreamDescriptor) {
				c.Encoder.Provider = ProviderX264
				c.Encoder.Preset = "not-a-preset"
			},
			want:  ErrEncoderOpenFailed,
			needs: ProviderX264,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.needs != ProviderAuto && !tt.needs.Available() {
				t.Skipf("%s not available", tt.needs)
			}
			cfg := sinkConfig(t, filepath.Join(dir, "out.mp4"))
			src := sinkSource()
			tt.setup(&cfg, &src)

			sink, err := OpenSink(cfg, src)
			if err == nil {
				sink.Close()
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("OpenSink() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestEncoder_RejectsMismatchedFrames(t *testing.T) {
	sink, err := OpenSink(sinkConfig(t, filepath.Join(t.TempDir(), "out.mp4")), sinkSource())
	if err != nil {
		t.Fatalf("OpenSink() = %v", err)
	}
	defer sink.Close()
	params := sink.Encoder().Params()

	tests := []struct {
		name   string
		width  int
		height int
		format astiav.PixelFormat
	}{
		{"size", params.Width / 2, params.Height / 2, params.PixelFormat},
		{"pixel format", params.Width, params.Height, astiav.PixelFormatRgb24},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := astiav.AllocFrame()
			defer f.Free()
			f.SetWidth(tt.width)
			f.SetHeight(tt.height)
			f.SetPixelFormat(tt.format)

			err := sink.Encoder().Encode(f, func(*astiav.Packet) error {
				t.Error("mismatched frame produced a packet")
				return nil
			})
			if !errors.Is(err, ErrCodecRejected) {
				t.Errorf("Encode() = %v, want ErrCodecRejected", err)
			}
		})
	}
}

func TestOutputSink_NoPackets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.mp4")
	sink, err := OpenSink(sinkConfig(t, path), sinkSource())
	if err != nil {
		t.Fatalf("OpenSink() = %v", err)
	}
	defer sink.Close()

	if err := sink.WriteHeader(); err != nil {
		t.Fatalf("WriteHeader() = %v", err)
	}
	if sink.GlobalHeader() && len(sink.Extradata()) == 0 {
		t.Error("global header stream without extradata")
	}
	if err := sink.Encoder().Encode(nil, sink.WritePacket); err != nil {
		t.Fatalf("drain = %v", err)
	}
	if err := sink.WriteTrailer(); err != nil {
		t.Fatalf("WriteTrailer() = %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if n := sink.Stats().Packets; n != 0 {
		t.Errorf("Packets = %d, want 0", n)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) < 8 || string(data[4:8]) != "ftyp" {
		t.Fatalf("output does not start with an ftyp box")
	}
	if !bytes.Contains(data, []byte("moov")) {
		t.Error("output has no moov box")
	}
}
