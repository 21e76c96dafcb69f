package logger

import (
	"bytes"
	"io"
	"sync"
)

// GateState represents the state of the log gate
type GateState int

const (
	// GateClosed means logs are buffered but not written
	GateClosed GateState = iota
	// GateOpen means logs flow through immediately
	GateOpen
)

// GatedWriter is an io.Writer that buffers writes until its gate is
// opened. It is used to hold back log output produced during server
// initialization until startup has completed.
type GatedWriter struct {
	mu         sync.Mutex
	underlying io.Writer
	buffer     bytes.Buffer
	state      GateState
	maxBuffer  int
}

// GatedWriterConfig configures a GatedWriter
type GatedWriterConfig struct {
	// Underlying writer to flush to when the gate opens
	Underlying io.Writer

	// InitialState determines if the gate starts open or closed
	InitialState GateState

	// MaxBufferSize limits buffered bytes (0 = unlimited). When
	// exceeded, the oldest buffered output is discarded.
	MaxBufferSize int
}

// NewGatedWriter creates a new gated writer
func NewGatedWriter(config GatedWriterConfig) *GatedWriter {
	if config.Underlying == nil {
		config.Underlying = io.Discard
	}
	return &GatedWriter{
		underlying: config.Underlying,
		state:      config.InitialState,
		maxBuffer:  config.MaxBufferSize,
	}
}

// Write implements io.Writer
func (gw *GatedWriter) Write(p []byte) (int, error) {
	gw.mu.Lock()
	defer gw.mu.Unlock()

	if gw.state == GateOpen {
		return gw.underlying.Write(p)
	}

	if gw.maxBuffer > 0 && gw.buffer.Len()+len(p) > gw.maxBuffer {
		excess := gw.buffer.Len() + len(p) - gw.maxBuffer
		gw.buffer.Next(excess)
	}
	return gw.buffer.Write(p)
}

// OpenGate opens the gate and flushes all buffered output
func (gw *GatedWriter) OpenGate() error {
	gw.mu.Lock()
	defer gw.mu.Unlock()

	if gw.state == GateOpen {
		return nil
	}
	gw.state = GateOpen

	if gw.buffer.Len() > 0 {
		if _, err := gw.underlying.Write(gw.buffer.Bytes()); err != nil {
			return err
		}
		gw.buffer.Reset()
	}
	return nil
}

// GatedLogger is a Logger whose output is held behind a GatedWriter.
type GatedLogger struct {
	Logger
	gate *GatedWriter
}

// NewGatedLogger builds a logger writing through a gated writer. The
// caller opens the gate once startup output should start flowing.
func NewGatedLogger(config *Config, gateConfig GatedWriterConfig) *GatedLogger {
	if config == nil {
		config = DefaultConfig()
	}
	gate := NewGatedWriter(gateConfig)

	gated := *config
	gated.Outputs = []io.Writer{gate}

	return &GatedLogger{
		Logger: NewZerologLogger(&gated),
		gate:   gate,
	}
}

// OpenGate releases any buffered log output
func (gl *GatedLogger) OpenGate() error {
	return gl.gate.OpenGate()
}
