package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestMulti(t *testing.T) {
	var a, b Recorder
	var calls int
	m := Multi{&a, nil, Func(func(Notice) { calls++ }), &b}

	m.Notify(Notice{Severity: SeverityInfo, Message: "hi"})
	m.Notify(Notice{Severity: SeveritySuccess, Important: true, Message: "done"})

	assert.Len(t, a.Notices(), 2)
	assert.Len(t, b.Notices(), 2)
	assert.Equal(t, 2, calls)
	require.Len(t, a.Important(), 1)
	assert.Equal(t, "done", a.Important()[0].Message)
}

func TestLoggerLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewLogger(zap.New(core))

	l.Notify(Notice{Severity: SeverityInfo, Message: "diagnostic"})
	l.Notify(Notice{Severity: SeveritySuccess, Important: true, Message: "finished", SessionID: "s1"})
	l.Notify(Notice{Severity: SeverityError, Important: true, Message: "lost the grid"})

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, zapcore.InfoLevel, entries[1].Level)
	assert.Equal(t, "s1", entries[1].ContextMap()["session"])
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
	assert.Equal(t, "notice", entries[2].LoggerName)
}
