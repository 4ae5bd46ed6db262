package capture

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.InputFormat == "" {
		t.Skip("no native capture subsystem on this platform")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
	if !cfg.ZeroBasePTS {
		t.Error("ZeroBasePTS should default to true")
	}
}

func TestConfig_Validate(t *testing.T) {
	base := Config{InputFormat: "lavfi", OutputPath: "out.mp4", OutputCodec: "h264"}

	tests := []struct {
		name   string
		modify func(*Config)
		ok     bool
	}{
		{"valid", func(*Config) {}, true},
		{"missing input format", func(c *Config) { c.InputFormat = "" }, false},
		{"missing output path", func(c *Config) { c.OutputPath = "" }, false},
		{"unknown codec", func(c *Config) { c.OutputCodec = "mpeg2" }, false},
		{"unknown encoder", func(c *Config) { c.Encoder = "nvenc9000" }, false},
		{"encoder codec mismatch", func(c *Config) { c.Encoder = "x265" }, false},
		{"encoder by ffmpeg name", func(c *Config) { c.Encoder = "libx264" }, true},
		{"unknown profile", func(c *Config) { c.H264Profile = "extended" }, false},
		{"negative bit rate", func(c *Config) { c.BitRate = -1 }, false},
		{"negative b-frames", func(c *Config) { c.MaxBFrames = -2 }, false},
		{"negative duration", func(c *Config) { c.Duration = -time.Second }, false},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, false},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, false},
		{"json log format", func(c *Config) { c.LogFormat = "json" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Fatalf("Validate() = %v, want nil", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("Validate() = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestConfig_EncoderConfig(t *testing.T) {
	cfg := Config{
		OutputCodec:    "avc",
		Encoder:        "openh264",
		BitRate:        1_500_000,
		GOPSize:        60,
		Preset:         "fast",
		H264Profile:    "main",
		EncoderOptions: map[string]string{"tune": "zerolatency"},
	}
	enc, err := cfg.EncoderConfig()
	if err != nil {
		t.Fatal(err)
	}
	want := EncoderConfig{
		Codec:       VideoCodecH264,
		Provider:    ProviderOpenH264,
		BitRate:     1_500_000,
		GOPSize:     60,
		Preset:      "fast",
		H264Profile: H264ProfileMain,
		Options:     map[string]string{"tune": "zerolatency"},
	}
	if !reflect.DeepEqual(enc, want) {
		t.Errorf("EncoderConfig() = %+v, want %+v", enc, want)
	}
}

func TestParseOptions(t *testing.T) {
	tests := []struct {
		in      string
		want    map[string]string
		wantErr bool
	}{
		{"", map[string]string{}, false},
		{"video_size=1280x720", map[string]string{"video_size": "1280x720"}, false},
		{" framerate = 30 , input_format=mjpeg,", map[string]string{"framerate": "30", "input_format": "mjpeg"}, false},
		{"flag=", map[string]string{"flag": ""}, false},
		{"novalue", nil, true},
		{"=x", nil, true},
	}
	for _, tt := range tests {
		got, err := ParseOptions(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseOptions(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ParseOptions(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func writeEnvFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.env")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	file := writeEnvFile(t, `
CAPTURE_INPUT_FORMAT=lavfi
CAPTURE_DEVICE_URL=testsrc=size=320x240:rate=30
CAPTURE_OUTPUT_PATH=from-file.mp4
CAPTURE_INPUT_OPTIONS=video_size=320x240,framerate=30
CAPTURE_DURATION=2s
CAPTURE_MAX_FRAMES=90
CAPTURE_ZERO_BASE_PTS=false
UNRELATED=ignored
`)
	t.Setenv("CAPTURE_OUTPUT_PATH", "from-env.mp4")
	t.Setenv("CAPTURE_BIT_RATE", "800000")

	cfg, err := LoadConfig(file)
	if err != nil {
		t.Fatalf("LoadConfig() = %v", err)
	}

	if cfg.InputFormat != "lavfi" {
		t.Errorf("InputFormat = %q", cfg.InputFormat)
	}
	if cfg.DeviceURL != "testsrc=size=320x240:rate=30" {
		t.Errorf("DeviceURL = %q", cfg.DeviceURL)
	}
	if cfg.OutputPath != "from-env.mp4" {
		t.Errorf("OutputPath = %q, environment should override the file", cfg.OutputPath)
	}
	if cfg.BitRate != 800_000 {
		t.Errorf("BitRate = %d", cfg.BitRate)
	}
	if cfg.Duration != 2*time.Second {
		t.Errorf("Duration = %v", cfg.Duration)
	}
	if cfg.MaxFrames != 90 {
		t.Errorf("MaxFrames = %d", cfg.MaxFrames)
	}
	if cfg.ZeroBasePTS {
		t.Error("ZeroBasePTS = true, want false")
	}
	wantOpts := map[string]string{"video_size": "320x240", "framerate": "30"}
	if !reflect.DeepEqual(cfg.InputOptions, wantOpts) {
		t.Errorf("InputOptions = %v, want %v", cfg.InputOptions, wantOpts)
	}
	if cfg.Preset != "veryfast" {
		t.Errorf("Preset = %q, default should survive", cfg.Preset)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown key", "CAPTURE_FRAME_RATE=30\n"},
		{"bad duration", "CAPTURE_DURATION=soon\n"},
		{"bad integer", "CAPTURE_GOP_SIZE=many\n"},
		{"bad options", "CAPTURE_INPUT_OPTIONS=novalue\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeEnvFile(t, tt.content))
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("LoadConfig() = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("LoadConfig() = %v, want ErrInvalidConfig", err)
	}
}
