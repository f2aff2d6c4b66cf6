package sink

import (
	"sync"

	"github.com/rs/zerolog"
)

// SeqLogger emits crawl progress lines with a strictly increasing
// sequence number assigned under a lock, so log order across workers
// reflects emission order. It can be disabled without affecting any
// crawl logic.
type SeqLogger struct {
	mu      sync.Mutex
	seq     uint64
	enabled bool
	logger  zerolog.Logger
}

// NewSeqLogger wraps a zerolog logger. The logger starts enabled.
func NewSeqLogger(logger zerolog.Logger) *SeqLogger {
	return &SeqLogger{
		enabled: true,
		logger:  logger,
	}
}

// Disable turns the logger into a no-op. Sequence numbers stop
// advancing while disabled.
func (l *SeqLogger) Disable() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = false
}

// Message emits one sequenced info line.
func (l *SeqLogger) Message(text string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return
	}
	l.seq++
	l.logger.Info().Uint64("seq", l.seq).Msg(text)
}

// Messagef emits one sequenced info line built from a format string.
func (l *SeqLogger) Messagef(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return
	}
	l.seq++
	l.logger.Info().Uint64("seq", l.seq).Msgf(format, args...)
}

// Seq returns the number of messages emitted so far.
func (l *SeqLogger) Seq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}
