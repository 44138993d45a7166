package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// TaskInfo identifies the task a TaskLogger belongs to.
type TaskInfo struct {
	ID         string
	Role       string
	Repository string
	Subject    int
}

// TaskLogger manages logging for a single agent task. Every line goes to the
// global zerolog logger with the task fields attached; when a log directory is
// configured the same lines, plus full prompts and responses, are also written
// to a per-task file.
type TaskLogger struct {
	info      TaskInfo
	logger    zerolog.Logger
	logFile   *os.File
	mutex     sync.Mutex
	startTime time.Time
}

// StartTaskLogging creates the logger for one task. dir may be empty.
func StartTaskLogging(dir string, info TaskInfo) (*TaskLogger, error) {
	t := &TaskLogger{
		info:      info,
		startTime: time.Now(),
		logger: log.With().
			Str("task_id", info.ID).
			Str("role", info.Role).
			Str("repo", info.Repository).
			Int("subject", info.Subject).
			Logger(),
	}

	if dir == "" {
		return t, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	timestamp := t.startTime.Format("20060102_150405")
	name := fmt.Sprintf("task_%s_%d_%s.log", info.Role, info.Subject, timestamp)
	logFile, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}
	t.logFile = logFile
	t.writeHeader()

	return t, nil
}

// Logger returns the structured logger carrying the task fields.
func (t *TaskLogger) Logger() *zerolog.Logger {
	if t == nil {
		l := log.Logger
		return &l
	}
	return &t.logger
}

// Log writes an informational progress line.
func (t *TaskLogger) Log(format string, args ...interface{}) {
	if t == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	t.logger.Info().Msg(msg)
	t.writeLine("INFO", msg)
}

// Warn writes a warning line.
func (t *TaskLogger) Warn(format string, args ...interface{}) {
	if t == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	t.logger.Warn().Msg(msg)
	t.writeLine("WARN", msg)
}

// LogError logs an error with the step it happened in.
func (t *TaskLogger) LogError(step string, err error) {
	if t == nil {
		return
	}
	t.logger.Error().Err(err).Str("step", step).Msg("task step failed")
	t.writeLine("ERROR", fmt.Sprintf("%s: %v", step, err))
}

// LogSection writes a section header to the task file.
func (t *TaskLogger) LogSection(title string) {
	if t == nil {
		return
	}
	separator := strings.Repeat("=", 80)
	t.writeRaw(separator + "\n= " + title + "\n" + separator + "\n")
}

// LogRequest records an LLM request. Full text only goes to the task file.
func (t *TaskLogger) LogRequest(model, systemPrompt, userPrompt string) {
	if t == nil {
		return
	}
	t.logger.Debug().
		Str("model", model).
		Int("system_chars", len(systemPrompt)).
		Int("user_chars", len(userPrompt)).
		Msg("LLM request")

	t.LogSection("LLM REQUEST")
	t.writeRaw(fmt.Sprintf("Model: %s\n--- SYSTEM ---\n%s\n--- USER ---\n%s\n", model, systemPrompt, userPrompt))
}

// LogResponse records an LLM response.
func (t *TaskLogger) LogResponse(response string) {
	if t == nil {
		return
	}
	t.logger.Debug().Int("chars", len(response)).Msg("LLM response")

	t.LogSection("LLM RESPONSE")
	t.writeRaw(response + "\n")
}

// Close finalizes the task file.
func (t *TaskLogger) Close() {
	if t == nil {
		return
	}

	elapsed := time.Since(t.startTime).Round(time.Millisecond)
	t.logger.Debug().Dur("elapsed", elapsed).Msg("task logging completed")

	t.mutex.Lock()
	defer t.mutex.Unlock()
	if t.logFile != nil {
		fmt.Fprintf(t.logFile, "Task logging completed. Total duration: %v\n", elapsed)
		t.logFile.Close()
		t.logFile = nil
	}
}

// Writer exposes the task file for subprocess output; it discards when no file is open.
func (t *TaskLogger) Writer() io.Writer {
	if t == nil || t.logFile == nil {
		return io.Discard
	}
	return &lockedWriter{t: t}
}

type lockedWriter struct{ t *TaskLogger }

func (w *lockedWriter) Write(p []byte) (int, error) {
	w.t.mutex.Lock()
	defer w.t.mutex.Unlock()
	if w.t.logFile == nil {
		return len(p), nil
	}
	return w.t.logFile.Write(p)
}

func (t *TaskLogger) writeLine(level, msg string) {
	timestamp := time.Now().Format("15:04:05.000")
	elapsed := time.Since(t.startTime).Round(time.Millisecond)
	t.writeRaw(fmt.Sprintf("[%s] [+%v] %s %s\n", timestamp, elapsed, level, msg))
}

func (t *TaskLogger) writeRaw(s string) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if t.logFile == nil {
		return
	}
	t.logFile.WriteString(s)
	t.logFile.Sync()
}

func (t *TaskLogger) writeHeader() {
	header := fmt.Sprintf(`AUTODEV TASK LOG
Task ID: %s
Role: %s
Repository: %s
Subject: #%d
Start Time: %s
Log Format: [HH:MM:SS.mmm] [+duration] LEVEL message

`, t.info.ID, t.info.Role, t.info.Repository, t.info.Subject, t.startTime.Format("2006-01-02 15:04:05"))

	t.writeRaw(header)
}
