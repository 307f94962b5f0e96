// Package logging provides categorized file-based logging for agora.
// Logs are written to the configured log directory with separate files per
// category. Logging is controlled by debug_mode in the config - when false,
// no logs are written.
package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Category represents a log category/subsystem.
type Category string

const (
	CategoryBoot      Category = "boot"      // Startup and shutdown
	CategoryHeartbeat Category = "heartbeat" // Scheduler ticks, due agents, cycles
	CategoryHUD       Category = "hud"       // HUD assembly and budget allocation
	CategoryCodec     Category = "codec"     // Encode/decode and telemetry
	CategoryCommand   Category = "command"   // Action validation and application
	CategoryStore     Category = "store"     // Persistence operations
	CategoryProvider  Category = "provider"  // Model provider calls
)

// Logger wraps a standard logger with category and file output.
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex
	logsDir   string
	debugMode bool
	logLevel  int
	stateMu   sync.RWMutex
)

// Log levels
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Initialize sets up the logging directory. Should be called once at
// startup. When debug is false this is a silent no-op and all loggers
// discard their output.
func Initialize(dir string, debug bool, level string) error {
	stateMu.Lock()
	logsDir = dir
	debugMode = debug
	switch level {
	case "debug":
		logLevel = LevelDebug
	case "info":
		logLevel = LevelInfo
	case "warn", "warning":
		logLevel = LevelWarn
	case "error":
		logLevel = LevelError
	default:
		logLevel = LevelInfo
	}
	stateMu.Unlock()

	if !debug {
		return nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	boot := Get(CategoryBoot)
	boot.Info("=== agora logging initialized ===")
	boot.Info("Logs directory: %s", dir)
	boot.Info("Log level: %s", level)

	return nil
}

// IsDebugMode returns whether debug logging is enabled.
func IsDebugMode() bool {
	stateMu.RLock()
	defer stateMu.RUnlock()
	return debugMode
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger if debug mode is disabled.
func Get(category Category) *Logger {
	stateMu.RLock()
	enabled := debugMode && logsDir != ""
	dir := logsDir
	stateMu.RUnlock()
	if !enabled {
		return &Logger{category: category}
	}

	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()

	if l, ok := loggers[category]; ok {
		return l
	}

	// Date prefix keeps rotation trivial.
	date := time.Now().Format("2006-01-02")
	logPath := filepath.Join(dir, fmt.Sprintf("%s_%s.log", date, category))

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not open log file %s: %v\n", logPath, err)
		return &Logger{category: category}
	}

	l := &Logger{
		category: category,
		file:     file,
		logger:   log.New(file, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
	loggers[category] = l

	return l
}

// CloseAll closes all open log files.
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	for cat, l := range loggers {
		if l.file != nil {
			l.file.Close()
		}
		delete(loggers, cat)
	}
}

func (l *Logger) write(level int, tag, format string, args ...interface{}) {
	if l.logger == nil {
		return
	}
	stateMu.RLock()
	min := logLevel
	stateMu.RUnlock()
	if level < min {
		return
	}
	l.logger.Printf("[%s] %s", tag, fmt.Sprintf(format, args...))
}

// Debug logs a debug message.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.write(LevelDebug, "DEBUG", format, args...)
}

// Info logs an informational message.
func (l *Logger) Info(format string, args ...interface{}) {
	l.write(LevelInfo, "INFO", format, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(format string, args ...interface{}) {
	l.write(LevelWarn, "WARN", format, args...)
}

// Error logs an error message.
func (l *Logger) Error(format string, args ...interface{}) {
	l.write(LevelError, "ERROR", format, args...)
}

// ============================================================================
// Package-level convenience functions per category
// ============================================================================

func Boot(format string, args ...interface{}) {
	Get(CategoryBoot).Info(format, args...)
}

func BootError(format string, args ...interface{}) {
	Get(CategoryBoot).Error(format, args...)
}

func Heartbeat(format string, args ...interface{}) {
	Get(CategoryHeartbeat).Info(format, args...)
}

func HeartbeatDebug(format string, args ...interface{}) {
	Get(CategoryHeartbeat).Debug(format, args...)
}

func HeartbeatWarn(format string, args ...interface{}) {
	Get(CategoryHeartbeat).Warn(format, args...)
}

func HeartbeatError(format string, args ...interface{}) {
	Get(CategoryHeartbeat).Error(format, args...)
}

func HUD(format string, args ...interface{}) {
	Get(CategoryHUD).Info(format, args...)
}

func HUDDebug(format string, args ...interface{}) {
	Get(CategoryHUD).Debug(format, args...)
}

func HUDWarn(format string, args ...interface{}) {
	Get(CategoryHUD).Warn(format, args...)
}

func Codec(format string, args ...interface{}) {
	Get(CategoryCodec).Info(format, args...)
}

func CodecDebug(format string, args ...interface{}) {
	Get(CategoryCodec).Debug(format, args...)
}

func Command(format string, args ...interface{}) {
	Get(CategoryCommand).Info(format, args...)
}

func CommandWarn(format string, args ...interface{}) {
	Get(CategoryCommand).Warn(format, args...)
}

func Store(format string, args ...interface{}) {
	Get(CategoryStore).Info(format, args...)
}

func StoreError(format string, args ...interface{}) {
	Get(CategoryStore).Error(format, args...)
}

func Provider(format string, args ...interface{}) {
	Get(CategoryProvider).Info(format, args...)
}

func ProviderWarn(format string, args ...interface{}) {
	Get(CategoryProvider).Warn(format, args...)
}

func ProviderError(format string, args ...interface{}) {
	Get(CategoryProvider).Error(format, args...)
}
