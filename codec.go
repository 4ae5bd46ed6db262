package capture

import (
	"fmt"
	"strings"

	"github.com/asticode/go-astiav"
)

// VideoCodec identifies the output video codec.
type VideoCodec int

const (
	VideoCodecUnknown VideoCodec = iota
	VideoCodecH264
	VideoCodecH265
	VideoCodecVP9
	VideoCodecAV1
)

func (c VideoCodec) String() string {
	switch c {
	case VideoCodecH264:
		return "H264"
	case VideoCodecH265:
		return "H265"
	case VideoCodecVP9:
		return "VP9"
	case VideoCodecAV1:
		return "AV1"
	default:
		return "Unknown"
	}
}

// CodecID returns the FFmpeg codec id.
func (c VideoCodec) CodecID() astiav.CodecID {
	switch c {
	case VideoCodecH264:
		return astiav.CodecIDH264
	case VideoCodecH265:
		return astiav.CodecIDHevc
	case VideoCodecVP9:
		return astiav.CodecIDVp9
	case VideoCodecAV1:
		return astiav.CodecIDAv1
	default:
		return astiav.CodecIDNone
	}
}

// ParseVideoCodec accepts the common spellings of a codec name.
func ParseVideoCodec(s string) (VideoCodec, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "h264", "h.264", "avc", "":
		return VideoCodecH264, nil
	case "h265", "h.265", "hevc":
		return VideoCodecH265, nil
	case "vp9":
		return VideoCodecVP9, nil
	case "av1":
		return VideoCodecAV1, nil
	default:
		return VideoCodecUnknown, fmt.Errorf("%w: unknown output codec %q", ErrInvalidConfig, s)
	}
}

// H264Profile defines H.264 encoding profiles.
type H264Profile int

const (
	H264ProfileDefault H264Profile = iota // encoder's choice
	H264ProfileBaseline
	H264ProfileMain
	H264ProfileHigh
	H264ProfileHigh444
)

func (p H264Profile) String() string {
	switch p {
	case H264ProfileBaseline:
		return "baseline"
	case H264ProfileMain:
		return "main"
	case H264ProfileHigh:
		return "high"
	case H264ProfileHigh444:
		return "high444"
	default:
		return ""
	}
}

// ParseH264Profile parses a profile name; "" selects the encoder default.
func ParseH264Profile(s string) (H264Profile, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return H264ProfileDefault, nil
	case "baseline", "constrained_baseline":
		return H264ProfileBaseline, nil
	case "main":
		return H264ProfileMain, nil
	case "high":
		return H264ProfileHigh, nil
	case "high444", "high444p":
		return H264ProfileHigh444, nil
	default:
		return H264ProfileDefault, fmt.Errorf("%w: unknown h264 profile %q", ErrInvalidConfig, s)
	}
}
