package capture

import (
	"fmt"
	"strings"

	"github.com/asticode/go-astiav"
)

// Provider identifies an encoder implementation inside FFmpeg.
type Provider uint8

const (
	ProviderAuto     Provider = iota // FFmpeg's default encoder for the codec
	ProviderX264                     // GPL H.264 encoder
	ProviderOpenH264                 // BSD H.264 encoder
	ProviderX265                     // GPL H.265 encoder
	ProviderLibvpx                   // BSD VP9 encoder
	ProviderAOM                      // BSD AV1 encoder (libaom)
	ProviderSVTAV1                   // BSD AV1 encoder
	providerCount
)

// License represents the software license of a provider.
type License uint8

const (
	LicenseUnknown License = iota
	LicenseGPL             // Copyleft - requires source disclosure
	LicenseBSD             // Permissive - no copyleft obligations
)

// Permissive returns true if the license has no copyleft obligations.
func (l License) Permissive() bool { return l == LicenseBSD }

func (l License) String() string {
	switch l {
	case LicenseGPL:
		return "GPL"
	case LicenseBSD:
		return "BSD"
	default:
		return "unknown"
	}
}

// providerMeta contains static metadata about a provider.
type providerMeta struct {
	Name    string // config spelling
	Encoder string // FFmpeg encoder name
	License License
	Codec   VideoCodec
}

// Static metadata table - indexed by Provider.
var providerInfo = [providerCount]providerMeta{
	ProviderAuto:     {"auto", "", LicenseUnknown, VideoCodecUnknown},
	ProviderX264:     {"x264", "libx264", LicenseGPL, VideoCodecH264},
	ProviderOpenH264: {"openh264", "libopenh264", LicenseBSD, VideoCodecH264},
	ProviderX265:     {"x265", "libx265", LicenseGPL, VideoCodecH265},
	ProviderLibvpx:   {"libvpx", "libvpx-vp9", LicenseBSD, VideoCodecVP9},
	ProviderAOM:      {"libaom", "libaom-av1", LicenseBSD, VideoCodecAV1},
	ProviderSVTAV1:   {"svt-av1", "libsvtav1", LicenseBSD, VideoCodecAV1},
}

// String returns the provider name.
func (p Provider) String() string {
	if p >= providerCount {
		return "unknown"
	}
	return providerInfo[p].Name
}

// EncoderName returns the FFmpeg encoder name, "" for ProviderAuto.
func (p Provider) EncoderName() string {
	if p >= providerCount {
		return ""
	}
	return providerInfo[p].Encoder
}

// License returns the provider's license type.
func (p Provider) License() License {
	if p >= providerCount {
		return LicenseUnknown
	}
	return providerInfo[p].License
}

// Codec returns the codec the provider encodes.
func (p Provider) Codec() VideoCodec {
	if p >= providerCount {
		return VideoCodecUnknown
	}
	return providerInfo[p].Codec
}

// Available returns true if the linked FFmpeg build carries the encoder.
func (p Provider) Available() bool {
	if p == ProviderAuto || p >= providerCount {
		return false
	}
	return astiav.FindEncoderByName(providerInfo[p].Encoder) != nil
}

// ParseProvider accepts a provider name or its FFmpeg encoder name.
func ParseProvider(s string) (Provider, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ProviderAuto, nil
	}
	for p := Provider(0); p < providerCount; p++ {
		if s == providerInfo[p].Name || (providerInfo[p].Encoder != "" && s == providerInfo[p].Encoder) {
			return p, nil
		}
	}
	return ProviderAuto, fmt.Errorf("%w: unknown encoder %q", ErrInvalidConfig, s)
}

// providerByEncoderName maps an FFmpeg encoder name back to a provider.
// Native FFmpeg encoders map to ProviderAuto.
func providerByEncoderName(name string) Provider {
	for p := ProviderAuto + 1; p < providerCount; p++ {
		if providerInfo[p].Encoder == name {
			return p
		}
	}
	return ProviderAuto
}

// findEncoder resolves the FFmpeg encoder for codec. ProviderAuto defers
// to FFmpeg's registration order.
func findEncoder(codec VideoCodec, p Provider) (*astiav.Codec, Provider, error) {
	if codec.CodecID() == astiav.CodecIDNone {
		return nil, p, fmt.Errorf("%w: codec %s", ErrEncoderNotFound, codec)
	}
	if p == ProviderAuto {
		c := astiav.FindEncoder(codec.CodecID())
		if c == nil {
			return nil, p, fmt.Errorf("%w: no encoder for %s", ErrEncoderNotFound, codec)
		}
		return c, providerByEncoderName(c.Name()), nil
	}
	if p >= providerCount {
		return nil, p, fmt.Errorf("%w: provider %d", ErrEncoderNotFound, p)
	}
	if pc := p.Codec(); pc != codec {
		return nil, p, fmt.Errorf("%w: %s encodes %s, not %s", ErrEncoderNotFound, p, pc, codec)
	}
	c := astiav.FindEncoderByName(p.EncoderName())
	if c == nil {
		return nil, p, fmt.Errorf("%w: %s not built into ffmpeg", ErrEncoderNotFound, p.EncoderName())
	}
	return c, p, nil
}
