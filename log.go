package capture

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/asticode/go-astiav"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"
)

// NewLogger builds the process logger. format is "text", "json" or
// "auto", which picks text on a terminal and JSON otherwise.
func NewLogger(level, format string, out io.Writer) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetOutput(out)

	lvl := logrus.InfoLevel
	if level != "" {
		var err error
		if lvl, err = logrus.ParseLevel(level); err != nil {
			return nil, err
		}
	}
	log.SetLevel(lvl)

	if format == "" || format == "auto" {
		format = "json"
		if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			format = "text"
		}
	}
	switch format {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log, nil
}

// ffmpegLevel maps a logrus level onto the FFmpeg level that produces
// roughly the same volume. FFmpeg info output is per-frame chatter, so
// it is only enabled at trace.
func ffmpegLevel(l logrus.Level) astiav.LogLevel {
	switch {
	case l >= logrus.TraceLevel:
		return astiav.LogLevelVerbose
	case l >= logrus.DebugLevel:
		return astiav.LogLevelInfo
	case l >= logrus.WarnLevel:
		return astiav.LogLevelWarning
	case l >= logrus.ErrorLevel:
		return astiav.LogLevelError
	default:
		return astiav.LogLevelFatal
	}
}

// logrusLevel maps an FFmpeg message level onto logrus.
func logrusLevel(l astiav.LogLevel) logrus.Level {
	switch {
	case l <= astiav.LogLevelError:
		return logrus.ErrorLevel
	case l <= astiav.LogLevelWarning:
		return logrus.WarnLevel
	case l <= astiav.LogLevelInfo:
		return logrus.DebugLevel
	default:
		return logrus.TraceLevel
	}
}

// lineBuffer joins the fragments FFmpeg emits into whole lines, keyed by
// the emitting component.
type lineBuffer struct {
	mu      sync.Mutex
	pending map[string]*strings.Builder
}

// add appends msg for component and returns the lines it completed.
func (b *lineBuffer) add(component, msg string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending == nil {
		b.pending = map[string]*strings.Builder{}
	}
	buf := b.pending[component]
	if buf == nil {
		buf = &strings.Builder{}
		b.pending[component] = buf
	}

	var lines []string
	for {
		i := strings.IndexByte(msg, '\n')
		if i < 0 {
			break
		}
		buf.WriteString(msg[:i])
		if line := strings.TrimSpace(buf.String()); line != "" {
			lines = append(lines, line)
		}
		buf.Reset()
		msg = msg[i+1:]
	}
	buf.WriteString(msg)
	return lines
}

var ffmpegLogMu sync.Mutex

// BridgeFFmpegLogs routes libav* log output through log at a level
// derived from log's own level.
func BridgeFFmpegLogs(log *logrus.Logger) {
	ffmpegLogMu.Lock()
	defer ffmpegLogMu.Unlock()

	entry := log.WithField("component", "ffmpeg")
	buf := &lineBuffer{}
	astiav.SetLogLevel(ffmpegLevel(log.GetLevel()))
	astiav.SetLogCallback(func(c astiav.Classer, l astiav.LogLevel, _, msg string) {
		component := "ffmpeg"
		if c != nil {
			if cl := c.Class(); cl != nil && cl.Name() != "" {
				component = cl.Name()
			}
		}
		lvl := logrusLevel(l)
		for _, line := range buf.add(component, msg) {
			entry.WithField("class", component).Log(lvl, line)
		}
	})
}
