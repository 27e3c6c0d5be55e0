package mealplanner

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRunLogFilePath(t *testing.T) {
	path := NewRunLogFilePath("us.anthropic.claude-3-7-sonnet-20250219-v1:0", "")
	assert.True(t, strings.HasPrefix(path, "./logs/"))
	assert.True(t, strings.HasSuffix(path, ".us.anthropic.claude-3-7-sonnet-20250219-v1_0.json"))

	assert.Contains(t, NewRunLogFilePath("Llama3/8B", ""), ".llama3_8b.json")
	assert.Contains(t, NewRunLogFilePath("", ""), ".unknown.json")
	assert.Contains(t, NewRunLogFilePath("mock", "run-1"), ".run-1.mock.json")
}

func TestRunFileStageLogger_OneFilePerRun(t *testing.T) {
	t.Chdir(t.TempDir())
	logger := NewRunFileStageLogger("mock")

	require.NoError(t, logger.LogStage(StageLog{RunID: "run-a", Stage: "deal_hunter", LLMInput: "prompt"}))
	require.NoError(t, logger.LogStage(StageLog{RunID: "run-b", Stage: "deal_hunter"}))
	require.NoError(t, logger.LogStage(StageLog{RunID: "run-a", Stage: "meal_strategist"}))
	assert.Equal(t, 2, logger.Pending())

	require.NoError(t, logger.FlushRun("run-a"))
	assert.Equal(t, 1, logger.Pending(), "flushed runs are dropped from memory")

	files, err := filepath.Glob(filepath.Join("logs", "*.run-a.mock.json"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	var doc struct {
		Session struct {
			Stages []StageLog `json:"stages"`
		} `json:"planning_session"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Len(t, doc.Session.Stages, 2)
	assert.Equal(t, "run-a", doc.Session.Stages[1].RunID)

	files, err = filepath.Glob(filepath.Join("logs", "*.run-b.mock.json"))
	require.NoError(t, err)
	assert.Empty(t, files, "runs are written only when flushed")

	require.NoError(t, logger.FlushRun("run-b"))
	require.NoError(t, logger.FlushRun("run-b"))
	assert.Zero(t, logger.Pending())
}

func TestNewStageLog(t *testing.T) {
	meta := StageMeta{
		Stage:    "deal_hunter",
		Usage:    TokenUsage{PromptTokens: 10, CompletionTokens: 5},
		Latency:  1500 * time.Millisecond,
		LLMInput: "prompt",
		Lookups:  []LookupLog{{Kind: "search", Key: "kylling", Results: 3}},
	}

	entry := NewStageLog("run-1", meta, errors.New("boom"))
	assert.Equal(t, "run-1", entry.RunID)
	assert.Equal(t, "deal_hunter", entry.Stage)
	assert.Equal(t, int64(1500), entry.LatencyMS)
	assert.Equal(t, "boom", entry.Error)
	assert.Len(t, entry.Lookups, 1)
}

func TestFileStageLogger_Flush(t *testing.T) {
	var buf bytes.Buffer
	logger := NewFileStageLogger(&buf)

	require.NoError(t, logger.LogStage(StageLog{RunID: "r", Stage: "deal_hunter"}))
	require.NoError(t, logger.LogStage(StageLog{RunID: "r", Stage: "meal_strategist"}))
	assert.Zero(t, buf.Len(), "entries are buffered until flush")

	require.NoError(t, logger.Flush())

	var doc struct {
		Session struct {
			Stages []StageLog `json:"stages"`
		} `json:"planning_session"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	require.Len(t, doc.Session.Stages, 2)
	assert.Equal(t, "meal_strategist", doc.Session.Stages[1].Stage)
}

func TestFileStageLogger_NilWriter(t *testing.T) {
	logger := NewFileStageLogger(nil)
	require.NoError(t, logger.LogStage(StageLog{Stage: "x"}))
	assert.NoError(t, logger.Flush())
}

func TestStdoutStageLogger_WritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	logger := &StdoutStageLogger{out: &buf}

	require.NoError(t, logger.LogStage(StageLog{RunID: "r", Stage: "bargain_scout"}))
	require.NoError(t, logger.LogStage(StageLog{RunID: "r", Stage: "list_consolidator"}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	var entry StageLog
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "bargain_scout", entry.Stage)
}

func TestNewStageLogger(t *testing.T) {
	tests := []struct {
		mode    string
		want    any
		wantErr bool
	}{
		{mode: "", want: &NoOpStageLogger{}},
		{mode: RunLogNone, want: &NoOpStageLogger{}},
		{mode: RunLogStdout, want: &StdoutStageLogger{}},
		{mode: RunLogFile, want: &FileStageLogger{}},
		{mode: "syslog", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			logger, err := NewStageLogger(tt.mode, &bytes.Buffer{})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.want, logger)
		})
	}
}
