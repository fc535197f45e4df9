// File: internal/observability/capture.go
package observability

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap/zapcore"
)

var (
	// ErrCaptureActive is returned by Begin when the test id already owns an active capture.
	ErrCaptureActive = errors.New("log capture already active for test")
	// ErrCaptureWindowBusy is returned by Begin while another test's capture window is open.
	ErrCaptureWindowBusy = errors.New("another test's log capture window is still open")
)

// captureState is shared by a CaptureRegistry and every core derived from it via With.
type captureState struct {
	mu     sync.Mutex
	byID   map[string]*Capture
	active *Capture
}

// CaptureRegistry gives each test a private view of the process-wide log stream.
//
// It is a zapcore.Core teed into the global logger. While a test's capture
// window is open every entry at or above the capture level, wherever in the
// process it was logged, is appended to that test's buffer. Windows are
// exclusive: the harness runs a single worker and tests never overlap.
type CaptureRegistry struct {
	zapcore.LevelEnabler
	enc   zapcore.Encoder
	state *captureState
}

var _ zapcore.Core = (*CaptureRegistry)(nil)

// NewCaptureRegistry creates a registry capturing entries enabled by level.
func NewCaptureRegistry(level zapcore.LevelEnabler) *CaptureRegistry {
	if level == nil {
		level = zapcore.InfoLevel
	}
	return &CaptureRegistry{
		LevelEnabler: level,
		enc:          newCaptureEncoder(),
		state:        &captureState{byID: make(map[string]*Capture)},
	}
}

// ParseCaptureLevel turns a configured level name into a LevelEnabler, defaulting to info.
func ParseCaptureLevel(name string) zapcore.LevelEnabler {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(name)); err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

// newCaptureEncoder renders plain "LEVEL<tab>logger<tab>message<tab>{fields}"
// lines. No colors and no timestamps; the report shows these verbatim.
func newCaptureEncoder() zapcore.Encoder {
	return zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		LevelKey:         "level",
		NameKey:          "logger",
		MessageKey:       "msg",
		StacktraceKey:    "stacktrace",
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeLevel:      zapcore.CapitalLevelEncoder,
		EncodeDuration:   zapcore.StringDurationEncoder,
		EncodeName:       zapcore.FullNameEncoder,
		ConsoleSeparator: "\t",
	})
}

// Begin opens the capture window for testID and returns its buffer.
func (r *CaptureRegistry) Begin(testID string) (*Capture, error) {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	if _, ok := r.state.byID[testID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrCaptureActive, testID)
	}
	if r.state.active != nil {
		return nil, fmt.Errorf("%w: %s (requested by %s)", ErrCaptureWindowBusy, r.state.active.testID, testID)
	}

	c := &Capture{testID: testID, state: r.state}
	r.state.byID[testID] = c
	r.state.active = c
	return c, nil
}

// End closes the capture window for testID and returns the trimmed text it
// collected. An unknown id yields "" so a missing buffer never aborts reporting.
func (r *CaptureRegistry) End(testID string) string {
	r.state.mu.Lock()
	c, ok := r.state.byID[testID]
	r.state.mu.Unlock()
	if !ok {
		return ""
	}
	return c.Close()
}

// Active returns the id of the test whose window is open, or "".
func (r *CaptureRegistry) Active() string {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	if r.state.active == nil {
		return ""
	}
	return r.state.active.testID
}

// With implements zapcore.Core.
func (r *CaptureRegistry) With(fields []zapcore.Field) zapcore.Core {
	enc := r.enc.Clone()
	for i := range fields {
		fields[i].AddTo(enc)
	}
	return &CaptureRegistry{LevelEnabler: r.LevelEnabler, enc: enc, state: r.state}
}

// Check implements zapcore.Core.
func (r *CaptureRegistry) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if r.Enabled(ent.Level) {
		return ce.AddCore(ent, r)
	}
	return ce
}

// Write implements zapcore.Core.
func (r *CaptureRegistry) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	r.state.mu.Lock()
	active := r.state.active
	r.state.mu.Unlock()
	if active == nil {
		return nil
	}

	buf, err := r.enc.EncodeEntry(ent, fields)
	if err != nil {
		return err
	}
	defer buf.Free()
	active.append(buf.Bytes())
	return nil
}

// Sync implements zapcore.Core. Buffers live in memory.
func (r *CaptureRegistry) Sync() error { return nil }

// Capture is the in-memory log buffer of one test.
type Capture struct {
	testID string
	state  *captureState

	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

// TestID returns the id of the test owning this capture.
func (c *Capture) TestID() string { return c.testID }

// String returns the text captured so far.
func (c *Capture) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}

// Close detaches the capture from the registry and returns its trimmed text.
// It is idempotent, so it is safe to defer alongside an explicit End.
func (c *Capture) Close() string {
	c.state.mu.Lock()
	if c.state.byID[c.testID] == c {
		delete(c.state.byID, c.testID)
	}
	if c.state.active == c {
		c.state.active = nil
	}
	c.state.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return strings.TrimSpace(c.buf.String())
}

func (c *Capture) append(p []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.buf.Write(p)
}
