package common

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arbor/models"
)

const (
	logFileName   = "vigil.log"
	logTimeFormat = "15:04:05"
	logMaxBytes   = 100 * 1024 * 1024
	logMaxBackups = 3
)

var (
	globalLogger arbor.ILogger
	loggerMu     sync.RWMutex
)

func consoleConfig() models.WriterConfiguration {
	return models.WriterConfiguration{
		Type:       models.LogWriterTypeConsole,
		TimeFormat: logTimeFormat,
		TextOutput: true,
	}
}

// GetLogger returns the global logger. Before InitLogger has run it lazily
// installs a console-only fallback so early code paths can still log.
func GetLogger() arbor.ILogger {
	loggerMu.RLock()
	logger := globalLogger
	loggerMu.RUnlock()
	if logger != nil {
		return logger
	}

	loggerMu.Lock()
	defer loggerMu.Unlock()
	if globalLogger == nil {
		globalLogger = arbor.NewLogger().WithConsoleWriter(consoleConfig())
	}
	return globalLogger
}

// InitLogger builds the configured logger (console and/or a rolling file
// under logs/ beside the executable) and installs it globally.
func InitLogger(config *Config) arbor.ILogger {
	logger := arbor.NewLogger()

	toFile, toConsole := false, false
	for _, output := range config.Logging.Output {
		switch output {
		case "file":
			toFile = true
		case "stdout", "console":
			toConsole = true
		}
	}

	if toFile {
		if dir, err := logDirectory(); err != nil {
			fmt.Fprintf(os.Stderr, "logging: file writer disabled: %v\n", err)
		} else {
			logger = logger.WithFileWriter(models.WriterConfiguration{
				Type:       models.LogWriterTypeFile,
				FileName:   filepath.Join(dir, logFileName),
				TimeFormat: logTimeFormat,
				MaxSize:    logMaxBytes,
				MaxBackups: logMaxBackups,
				TextOutput: true,
			})
		}
	}
	if toConsole {
		logger = logger.WithConsoleWriter(consoleConfig())
	}

	logger = logger.WithLevelFromString(config.Logging.Level)

	loggerMu.Lock()
	globalLogger = logger
	loggerMu.Unlock()

	return logger
}

// logDirectory resolves logs/ beside the executable, creating it if needed.
func logDirectory() (string, error) {
	execPath, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable path: %w", err)
	}
	dir := filepath.Join(filepath.Dir(execPath), "logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create log directory: %w", err)
	}
	return dir, nil
}

// GetLogFilePath returns the active file writer path, empty when file
// logging is off.
func GetLogFilePath(logger arbor.ILogger) string {
	if logger == nil {
		return ""
	}
	return logger.GetLogFilePath()
}
