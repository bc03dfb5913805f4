package handlers

import (
	"strings"

	plog "github.com/phuslu/log"
	"github.com/ternarybob/arbor/levels"
	"github.com/ternarybob/arbor/models"
	"github.com/ternarybob/arbor/writers"

	"github.com/ternarybob/vigil/internal/common"
)

const (
	// Default buffer size for the WebSocket log queue
	defaultWebSocketBufferSize = 1000

	// Capacity of the batch channel handed to logger.SetChannel
	logBatchChannelCapacity = 10
)

// WebSocketWriter streams filtered log lines to dashboard clients. It
// accepts logs on two paths that share one filter: the arbor IWriter byte
// path via a ChannelWriter, and a batch channel suitable for
// logger.SetChannel.
type WebSocketWriter struct {
	handler         *WebSocketHandler
	writer          writers.IChannelWriter
	config          models.WriterConfiguration
	minLevel        levels.LogLevel
	excludePatterns []string
	batchChannel    chan []models.LogEvent
	done            chan struct{}
}

// defaultExcludePatterns lists messages that must never enter the stream.
// The send-failure pattern matters: broadcasting a log about a failed
// broadcast would loop.
func defaultExcludePatterns() []string {
	return []string{
		"WebSocket client connected",
		"WebSocket client disconnected",
		"HTTP request",
		"HTTP response",
		"Failed to send",
	}
}

// NewWebSocketWriter creates a new WebSocket arbor writer using the
// ChannelWriter pattern
func NewWebSocketWriter(handler *WebSocketHandler, config models.WriterConfiguration, wsConfig *common.WebSocketConfig) (*WebSocketWriter, error) {
	minLevel := levels.InfoLevel
	excludePatterns := defaultExcludePatterns()

	if wsConfig != nil {
		minLevel = parseLogLevel(wsConfig.MinLevel)
		if len(wsConfig.ExcludePatterns) > 0 {
			excludePatterns = wsConfig.ExcludePatterns
		}
	}

	w := &WebSocketWriter{
		handler:         handler,
		config:          config,
		minLevel:        minLevel,
		excludePatterns: excludePatterns,
		batchChannel:    make(chan []models.LogEvent, logBatchChannelCapacity),
		done:            make(chan struct{}),
	}

	cw, err := writers.NewChannelWriter(config, defaultWebSocketBufferSize, w.process)
	if err != nil {
		return nil, err
	}
	cw.Start()
	w.writer = cw

	go w.consumeBatches()

	return w, nil
}

// Channel returns the batch channel for logger.SetChannel wiring.
func (w *WebSocketWriter) Channel() chan []models.LogEvent {
	return w.batchChannel
}

// process filters one log event and pushes it to connected clients.
func (w *WebSocketWriter) process(entry models.LogEvent) error {
	arborLevel := plogToArborLevel(entry.Level)

	if arborLevel < w.minLevel {
		return nil
	}

	for _, pattern := range w.excludePatterns {
		if strings.Contains(entry.Message, pattern) {
			return nil
		}
	}

	w.handler.BroadcastLog(LogEntry{
		Timestamp: entry.Timestamp.Format("15:04:05"),
		Level:     mapLevel(arborLevel),
		Message:   entry.Message,
	})

	return nil
}

// consumeBatches drains the SetChannel feed through the same filter as the
// byte path.
func (w *WebSocketWriter) consumeBatches() {
	for {
		select {
		case batch, ok := <-w.batchChannel:
			if !ok {
				return
			}
			for _, entry := range batch {
				_ = w.process(entry)
			}
		case <-w.done:
			return
		}
	}
}

// plogToArborLevel converts phuslu/log.Level to arbor levels.LogLevel
func plogToArborLevel(level plog.Level) levels.LogLevel {
	switch level {
	case plog.ErrorLevel:
		return levels.ErrorLevel
	case plog.WarnLevel:
		return levels.WarnLevel
	case plog.InfoLevel:
		return levels.InfoLevel
	case plog.DebugLevel:
		return levels.DebugLevel
	default:
		return levels.InfoLevel
	}
}

// parseLogLevel converts string log level to arbor levels.LogLevel
func parseLogLevel(level string) levels.LogLevel {
	switch strings.ToLower(level) {
	case "error":
		return levels.ErrorLevel
	case "warn", "warning":
		return levels.WarnLevel
	case "info":
		return levels.InfoLevel
	case "debug":
		return levels.DebugLevel
	default:
		return levels.InfoLevel
	}
}

// mapLevel maps arbor log levels to UI strings
func mapLevel(level levels.LogLevel) string {
	switch level {
	case levels.ErrorLevel:
		return "error"
	case levels.WarnLevel:
		return "warn"
	case levels.InfoLevel:
		return "info"
	case levels.DebugLevel:
		return "debug"
	default:
		return "info"
	}
}

// Write implements the IWriter interface - delegates to the ChannelWriter
func (w *WebSocketWriter) Write(data []byte) (int, error) {
	return w.writer.Write(data)
}

// WithLevel updates the minimum log level and returns self
func (w *WebSocketWriter) WithLevel(level plog.Level) writers.IWriter {
	w.minLevel = plogToArborLevel(level)
	return w
}

// GetFilePath returns empty string (not file-based)
func (w *WebSocketWriter) GetFilePath() string {
	return ""
}

// Close performs graceful shutdown with buffer draining
func (w *WebSocketWriter) Close() error {
	close(w.done)
	return w.writer.Close()
}
