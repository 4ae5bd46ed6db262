// Package capture records a live video device into a video file, backed
// by FFmpeg through go-astiav.
//
// Key pieces include:
//   - CaptureSource: opens a device (v4l2, avfoundation, dshow, lavfi), probes
//     it and decodes its best video stream
//   - OutputSink: the output container, its single stream and the encoder
//     feeding it
//   - Pipeline: the state machine moving packets between the two, with
//     timestamp rescaling, drain and teardown
//   - Device enumeration, codec and provider tables, Prometheus metrics
//
// # Architecture
//
//	CaptureSource -> Decoder -> frameConverter -> timeline -> Encoder -> OutputSink
//
// Timestamps move through three time-bases: the input stream's, the
// encoder's (the input's, copied verbatim) and the output stream's, which
// the muxer fixes when the header is written.
//
// # Pipeline States
//
//	idle -> source_open -> sink_open -> streaming -> draining -> closed
//
// Any failure moves to error after resources are released. Cancellation
// and configured limits stop the capture normally: the decoder and encoder
// are drained and the trailer is written.
//
// # Build Tags
//
//   - nodevices: disable V4L2 device enumeration
//
// # Supported Codecs
//
// Output: H.264 by default; H.265, VP9 and AV1 when the linked FFmpeg has an
// encoder for them. Input: anything FFmpeg decodes.
package capture
