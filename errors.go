package capture

import "errors"

// Setup errors.
var (
	ErrFormatNotFound        = errors.New("input format not found")
	ErrOpenFailed            = errors.New("open input failed")
	ErrStreamProbeFailed     = errors.New("stream probe failed")
	ErrNoVideoStream         = errors.New("no video stream")
	ErrDecoderNotFound       = errors.New("decoder not found")
	ErrDecoderOpenFailed     = errors.New("decoder open failed")
	ErrContainerCreateFailed = errors.New("output container create failed")
	ErrEncoderNotFound       = errors.New("encoder not found")
	ErrEncoderOpenFailed     = errors.New("encoder open failed")
	ErrOutputIOFailed        = errors.New("output io open failed")
	ErrInvalidConfig         = errors.New("invalid config")
)

// Streaming errors.
var (
	ErrCodecRejected  = errors.New("codec rejected input")
	ErrCodecFailed    = errors.New("codec failed")
	ErrIOReadFailed   = errors.New("io read failed")
	ErrWriteFailed    = errors.New("write failed")
	ErrEndpointClosed = errors.New("endpoint closed")
	ErrSessionClosed  = errors.New("codec session closed")
)

var errorKinds = []struct {
	err  error
	name string
}{
	{ErrFormatNotFound, "format_not_found"},
	{ErrOpenFailed, "open_failed"},
	{ErrStreamProbeFailed, "stream_probe_failed"},
	{ErrNoVideoStream, "no_video_stream"},
	{ErrDecoderNotFound, "decoder_not_found"},
	{ErrDecoderOpenFailed, "decoder_open_failed"},
	{ErrContainerCreateFailed, "container_create_failed"},
	{ErrEncoderNotFound, "encoder_not_found"},
	{ErrEncoderOpenFailed, "encoder_open_failed"},
	{ErrOutputIOFailed, "output_io_failed"},
	{ErrInvalidConfig, "invalid_config"},
	{ErrCodecRejected, "codec_rejected"},
	{ErrCodecFailed, "codec_failed"},
	{ErrIOReadFailed, "io_read_failed"},
	{ErrWriteFailed, "write_failed"},
	{ErrEndpointClosed, "endpoint_closed"},
	{ErrSessionClosed, "session_closed"},
}

// KindOf names the error kind of err for logs and metric labels.
// It returns "" for nil and "unknown" when no kind matches.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "unknown"
}
