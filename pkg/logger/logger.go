package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the process-wide logrus instance. Packages take *logrus.Entry
// values derived from it instead of reaching for the global.
var Logger *logrus.Logger

// Config controls log level and optional file rotation.
type Config struct {
	Level      string // debug, info, warn, error
	OutputFile string // empty: console only
	MaxSize    int    // MB per file
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

// Init configures the global logger. Console output always stays on; when
// OutputFile is set the same stream is duplicated into a rotated file.
func Init(cfg Config) error {
	log := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.DateTime,
	})

	if cfg.OutputFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.OutputFile), 0o755); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
		rotated := &lumberjack.Logger{
			Filename:   cfg.OutputFile,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		log.SetOutput(io.MultiWriter(os.Stdout, rotated))
	} else {
		log.SetOutput(os.Stdout)
	}

	Logger = log
	return nil
}

// InitDefault sets up a console-only info logger.
func InitDefault() error {
	return Init(Config{Level: "info"})
}

// WithAccount returns an entry tagged with the account's index and address.
// Every per-account log line goes through one of these.
func WithAccount(index int, address string) *logrus.Entry {
	return get().WithFields(logrus.Fields{
		"account": index,
		"address": address,
	})
}

// WithModule tags an entry with a module name for non-account scoped lines.
func WithModule(name string) *logrus.Entry {
	return get().WithField("module", name)
}

func get() *logrus.Logger {
	if Logger == nil {
		_ = InitDefault()
	}
	return Logger
}
