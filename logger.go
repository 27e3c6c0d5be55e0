package mealplanner

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	RunLogNone   = "none"
	RunLogStdout = "stdout"
	RunLogFile   = "file"
)

// StageLogger records one entry per stage execution.
type StageLogger interface {
	LogStage(entry StageLog) error
}

// RunFlusher is implemented by stage loggers that write once per run. The pipeline calls FlushRun when a
// run ends, whether it succeeded or not.
type RunFlusher interface {
	FlushRun(runID string) error
}

// NewRunLogFilePath returns a file path based on a cleaned up model name or id to make it easier to
// identify logs produced with various models. A non-empty runID keeps runs started in the same second apart.
func NewRunLogFilePath(model, runID string) string {
	if model == "" {
		model = "unknown"
	}
	prefix := strconv.FormatInt(time.Now().Unix(), 10)
	if runID != "" {
		prefix += "." + runID
	}
	return fmt.Sprintf(
		"./logs/%s.%s.json",
		prefix,
		strings.NewReplacer(":", "_", "/", "_").Replace(strings.ToLower(model)),
	)
}

// StageLog represents a single stage execution within a run.
type StageLog struct {
	RunID     string      `json:"run_id"`
	Stage     string      `json:"stage"`
	Timestamp time.Time   `json:"timestamp"`
	LatencyMS int64       `json:"latency_ms"`
	Usage     TokenUsage  `json:"usage"`
	LLMInput  string      `json:"llm_input,omitempty"`
	LLMOutput string      `json:"llm_output,omitempty"`
	Lookups   []LookupLog `json:"lookups,omitempty"`
	Skipped   string      `json:"skipped,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// LookupLog represents a grocery API lookup made during a stage.
type LookupLog struct {
	Kind    string `json:"kind"`
	Key     string `json:"key"`
	Results int    `json:"results"`
	Error   string `json:"error,omitempty"`
}

// NewStageLog builds a log entry from stage metadata.
func NewStageLog(runID string, meta StageMeta, err error) StageLog {
	entry := StageLog{
		RunID:     runID,
		Stage:     meta.Stage,
		Timestamp: time.Now(),
		LatencyMS: meta.Latency.Milliseconds(),
		Usage:     meta.Usage,
		LLMInput:  meta.LLMInput,
		LLMOutput: meta.LLMOutput,
		Lookups:   meta.Lookups,
		Skipped:   meta.Skipped,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	return entry
}

// NewStageLogger returns the logger for mode. File mode writes to w, which the caller must flush via
// the returned logger's Flush method.
func NewStageLogger(mode string, w io.Writer) (StageLogger, error) {
	switch mode {
	case "", RunLogNone:
		return NewNoOpStageLogger(), nil
	case RunLogStdout:
		return NewStdoutStageLogger(), nil
	case RunLogFile:
		return NewFileStageLogger(w), nil
	default:
		return nil, fmt.Errorf("unknown RUN_LOG mode %q", mode)
	}
}

// FileStageLogger accumulates stage entries and writes them as one JSON document on Flush.
type FileStageLogger struct {
	mu      sync.Mutex
	entries []StageLog
	writer  io.Writer
}

func NewFileStageLogger(writer io.Writer) *FileStageLogger {
	return &FileStageLogger{
		entries: make([]StageLog, 0),
		writer:  writer,
	}
}

// LogStage buffers the entry (does not flush immediately)
func (l *FileStageLogger) LogStage(entry StageLog) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	return nil
}

// Flush writes all accumulated entries to the writer
func (l *FileStageLogger) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.writer == nil {
		return nil
	}

	data, err := json.MarshalIndent(map[string]any{
		"planning_session": map[string]any{
			"timestamp": time.Now(),
			"stages":    l.entries,
		},
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run log: %w", err)
	}

	if _, err := l.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write run log: %w", err)
	}

	l.entries = l.entries[:0]
	return nil
}

// RunFileStageLogger buffers entries per run and writes each finished run to its own file under ./logs.
// Nothing is kept once a run is flushed.
type RunFileStageLogger struct {
	mu    sync.Mutex
	model string
	runs  map[string][]StageLog
}

func NewRunFileStageLogger(model string) *RunFileStageLogger {
	return &RunFileStageLogger{
		model: model,
		runs:  make(map[string][]StageLog),
	}
}

func (l *RunFileStageLogger) LogStage(entry StageLog) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.runs[entry.RunID] = append(l.runs[entry.RunID], entry)
	return nil
}

// FlushRun writes the entries of runID to a new file and drops them from memory.
func (l *RunFileStageLogger) FlushRun(runID string) error {
	l.mu.Lock()
	entries, ok := l.runs[runID]
	delete(l.runs, runID)
	l.mu.Unlock()
	if !ok {
		return nil
	}

	path := NewRunLogFilePath(l.model, runID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create run log directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create run log file: %w", err)
	}

	run := NewFileStageLogger(f)
	run.entries = entries
	return errors.Join(run.Flush(), f.Close())
}

// Pending returns the number of runs with entries not yet written.
func (l *RunFileStageLogger) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.runs)
}

// NoOpStageLogger discards all entries.
type NoOpStageLogger struct{}

func NewNoOpStageLogger() *NoOpStageLogger {
	return &NoOpStageLogger{}
}

func (nop *NoOpStageLogger) LogStage(entry StageLog) error {
	return nil
}

// StdoutStageLogger writes each entry as a JSON line (for Lambda/CloudWatch).
type StdoutStageLogger struct {
	out io.Writer
}

func NewStdoutStageLogger() *StdoutStageLogger {
	return &StdoutStageLogger{out: os.Stdout}
}

func (l *StdoutStageLogger) LogStage(entry StageLog) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(l.out, string(data))
	return err
}
