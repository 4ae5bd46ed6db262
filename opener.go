package capture

import (
	"context"

	"github.com/sirupsen/logrus"
)

// ffmpegOpener opens real devices and files through FFmpeg.
type ffmpegOpener struct {
	cfg     Config
	log     logrus.FieldLogger
	metrics *Metrics
}

func (o *ffmpegOpener) OpenSource(ctx context.Context) (Source, FrameDecoder, error) {
	src, err := OpenSource(ctx, o.cfg.SourceConfig(o.log))
	if err != nil {
		return nil, nil, err
	}
	return src, src.Decoder(), nil
}

func (o *ffmpegOpener) OpenSink(ctx context.Context, desc StreamDescriptor) (Sink, FrameEncoder, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	cfg, err := o.cfg.SinkConfig(o.log, o.metrics)
	if err != nil {
		return nil, nil, err
	}
	sink, err := OpenSink(cfg, desc)
	if err != nil {
		return nil, nil, err
	}
	return sink, sink.Encoder(), nil
}
