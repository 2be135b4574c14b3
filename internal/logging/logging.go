package logging

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	setupOnce sync.Once
	writerMu  sync.Mutex
	logWriter *lumberjack.Logger
)

// Options selects the log level and, when Filename is set, a rotating file
// destination instead of stdout.
type Options struct {
	Level      string
	Filename   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Formatter renders a single entry as
//
//	[2006-01-02 15:04:05] [level] [component] message key=value ...
//
// Entries without a component field use a dash placeholder so columns stay
// aligned in mixed output.
type Formatter struct{}

// fieldOrder fixes the display order for common structured fields.
var fieldOrder = []string{"state", "type", "reason", "command", "subscriber", "correlationId", "addr", "attempt", "error"}

// Format renders one log entry.
func (f *Formatter) Format(entry *log.Entry) ([]byte, error) {
	var buffer *bytes.Buffer
	if entry.Buffer != nil {
		buffer = entry.Buffer
	} else {
		buffer = &bytes.Buffer{}
	}

	timestamp := entry.Time.Format("2006-01-02 15:04:05")
	message := strings.TrimRight(entry.Message, "\r\n")

	component := "-"
	if c, ok := entry.Data["component"].(string); ok && c != "" {
		component = c
	}

	level := entry.Level.String()
	if level == "warning" {
		level = "warn"
	}

	var fieldsStr string
	if len(entry.Data) > 0 {
		var fields []string
		for _, k := range fieldOrder {
			if v, ok := entry.Data[k]; ok {
				fields = append(fields, fmt.Sprintf("%s=%v", k, v))
			}
		}
		if len(fields) > 0 {
			fieldsStr = " " + strings.Join(fields, " ")
		}
	}

	fmt.Fprintf(buffer, "[%s] [%-5s] [%s] %s%s\n", timestamp, level, component, message, fieldsStr)
	return buffer.Bytes(), nil
}

// Setup installs the gateway formatter and applies opts. Safe to call more
// than once; the base configuration is installed on the first call only.
func Setup(opts Options) error {
	setupOnce.Do(func() {
		log.SetOutput(os.Stdout)
		log.SetFormatter(&Formatter{})
	})

	level, err := log.ParseLevel(opts.Level)
	if err != nil {
		return fmt.Errorf("logging: invalid level %q: %w", opts.Level, err)
	}
	log.SetLevel(level)

	writerMu.Lock()
	defer writerMu.Unlock()

	if opts.Filename == "" {
		if logWriter != nil {
			_ = logWriter.Close()
			logWriter = nil
		}
		log.SetOutput(os.Stdout)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(opts.Filename), 0o755); err != nil {
		return fmt.Errorf("logging: failed to create log directory: %w", err)
	}
	if logWriter != nil {
		_ = logWriter.Close()
	}
	logWriter = &lumberjack.Logger{
		Filename:   opts.Filename,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	}
	log.SetOutput(logWriter)
	return nil
}

// Close flushes and releases the rotating file writer, if one is active.
func Close() {
	writerMu.Lock()
	defer writerMu.Unlock()

	if logWriter != nil {
		_ = logWriter.Close()
		logWriter = nil
	}
}
