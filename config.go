package capture

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// EnvPrefix prefixes every environment variable read by LoadConfig.
const EnvPrefix = "CAPTURE_"

// Config is the flat capture configuration. Keys are the lowercase
// mapstructure tags; the environment form is EnvPrefix plus the
// uppercase key, e.g. CAPTURE_OUTPUT_PATH.
type Config struct {
	DeviceURL    string            `mapstructure:"device_url"`
	InputFormat  string            `mapstructure:"input_format"`
	InputOptions map[string]string `mapstructure:"input_options"`

	OutputPath   string `mapstructure:"output_path"`
	OutputFormat string `mapstructure:"output_format"` // "" = guess from OutputPath

	OutputCodec    string            `mapstructure:"output_codec"`
	Encoder        string            `mapstructure:"encoder"` // provider name or "auto"
	EncoderOptions map[string]string `mapstructure:"encoder_options"`
	BitRate        int64             `mapstructure:"bit_rate"`
	GOPSize        int               `mapstructure:"gop_size"`
	MaxBFrames     int               `mapstructure:"max_b_frames"`
	Threads        int               `mapstructure:"threads"`
	Preset         string            `mapstructure:"preset"`
	H264Profile    string            `mapstructure:"h264_profile"`

	MaxFrames   int64         `mapstructure:"max_frames"`
	Duration    time.Duration `mapstructure:"duration"`
	ZeroBasePTS bool          `mapstructure:"zero_base_pts"`

	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"` // auto, text or json
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// DefaultConfig returns the configuration for the platform's native
// capture subsystem writing H.264 into capture.mp4.
func DefaultConfig() Config {
	cfg := Config{
		OutputPath:  "capture.mp4",
		OutputCodec: VideoCodecH264.String(),
		Encoder:     ProviderAuto.String(),
		Preset:      DefaultEncoderConfig().Preset,
		ZeroBasePTS: true,
		LogLevel:    "info",
		LogFormat:   "auto",
	}
	switch runtime.GOOS {
	case "linux":
		cfg.InputFormat = "v4l2"
	case "darwin":
		cfg.InputFormat = "avfoundation"
		cfg.DeviceURL = "default"
	case "windows":
		cfg.InputFormat = "dshow"
	}
	return cfg
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.InputFormat == "" {
		return fmt.Errorf("%w: input_format is required", ErrInvalidConfig)
	}
	if c.OutputPath == "" {
		return fmt.Errorf("%w: output_path is required", ErrInvalidConfig)
	}
	if _, err := c.EncoderConfig(); err != nil {
		return err
	}
	for name, v := range map[string]int64{
		"bit_rate":     c.BitRate,
		"gop_size":     int64(c.GOPSize),
		"max_b_frames": int64(c.MaxBFrames),
		"threads":      int64(c.Threads),
		"max_frames":   c.MaxFrames,
		"duration":     int64(c.Duration),
	} {
		if v < 0 {
			return fmt.Errorf("%w: %s must not be negative", ErrInvalidConfig, name)
		}
	}
	if c.LogLevel != "" {
		if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
			return fmt.Errorf("%w: log_level: %w", ErrInvalidConfig, err)
		}
	}
	switch c.LogFormat {
	case "", "auto", "text", "json":
	default:
		return fmt.Errorf("%w: log_format %q", ErrInvalidConfig, c.LogFormat)
	}
	return nil
}

// EncoderConfig resolves the codec, provider and profile names.
func (c Config) EncoderConfig() (EncoderConfig, error) {
	codec, err := ParseVideoCodec(c.OutputCodec)
	if err != nil {
		return EncoderConfig{}, err
	}
	provider, err := ParseProvider(c.Encoder)
	if err != nil {
		return EncoderConfig{}, err
	}
	if provider != ProviderAuto && provider.Codec() != codec {
		return EncoderConfig{}, fmt.Errorf("%w: encoder %s does not produce %s", ErrInvalidConfig, provider, codec)
	}
	profile, err := ParseH264Profile(c.H264Profile)
	if err != nil {
		return EncoderConfig{}, err
	}
	return EncoderConfig{
		Codec:       codec,
		Provider:    provider,
		BitRate:     c.BitRate,
		GOPSize:     c.GOPSize,
		MaxBFrames:  c.MaxBFrames,
		Threads:     c.Threads,
		Preset:      c.Preset,
		H264Profile: profile,
		Options:     c.EncoderOptions,
	}, nil
}

// SourceConfig returns the capture source settings.
func (c Config) SourceConfig(log logrus.FieldLogger) SourceConfig {
	return SourceConfig{
		DeviceURL:   c.DeviceURL,
		InputFormat: c.InputFormat,
		Options:     c.InputOptions,
		Threads:     c.Threads,
		Logger:      log,
	}
}

// SinkConfig returns the output sink settings.
func (c Config) SinkConfig(log logrus.FieldLogger, metrics *Metrics) (SinkConfig, error) {
	enc, err := c.EncoderConfig()
	if err != nil {
		return SinkConfig{}, err
	}
	return SinkConfig{
		OutputPath: c.OutputPath,
		Format:     c.OutputFormat,
		Encoder:    enc,
		Metrics:    metrics,
		Logger:     log,
	}, nil
}

// LoadConfig builds a Config from DefaultConfig, then the given dotenv
// files in order, then CAPTURE_* environment variables. Without files,
// a .env in the working directory is read when present.
func LoadConfig(files ...string) (Config, error) {
	values := map[string]string{}

	optional := len(files) == 0
	if optional {
		files = []string{".env"}
	}
	for _, file := range files {
		env, err := godotenv.Read(file)
		if err != nil {
			if optional && errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return Config{}, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, file, err)
		}
		mergePrefixed(values, env)
	}

	environ := map[string]string{}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			environ[k] = v
		}
	}
	mergePrefixed(values, environ)

	cfg := DefaultConfig()
	if err := decodeConfig(values, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// mergePrefixed copies EnvPrefix variables into dst under their
// lowercase key.
func mergePrefixed(dst, env map[string]string) {
	for k, v := range env {
		if key, ok := strings.CutPrefix(k, EnvPrefix); ok && key != "" {
			dst[strings.ToLower(key)] = v
		}
	}
}

func decodeConfig(values map[string]string, cfg *Config) error {
	var md mapstructure.Metadata
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			stringToOptionsHook,
		),
		WeaklyTypedInput: true,
		Metadata:         &md,
		Result:           cfg,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	input := make(map[string]any, len(values))
	for k, v := range values {
		input[k] = v
	}
	if err := dec.Decode(input); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if len(md.Unused) > 0 {
		sort.Strings(md.Unused)
		return fmt.Errorf("%w: unknown keys %s", ErrInvalidConfig, strings.Join(md.Unused, ", "))
	}
	return nil
}

var optionsType = reflect.TypeOf(map[string]string(nil))

// stringToOptionsHook decodes "k=v,k2=v2" into a map[string]string.
func stringToOptionsHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to != optionsType {
		return data, nil
	}
	return ParseOptions(data.(string))
}

// ParseOptions parses a comma separated list of key=value pairs.
func ParseOptions(s string) (map[string]string, error) {
	opts := map[string]string{}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("%w: option %q is not key=value", ErrInvalidConfig, pair)
		}
		opts[k] = strings.TrimSpace(v)
	}
	return opts, nil
}
