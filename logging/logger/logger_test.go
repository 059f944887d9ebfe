package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/ncobase/nsearch/config"
	"github.com/ncobase/nsearch/ctxutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerInjectsTraceID(t *testing.T) {
	var buf bytes.Buffer
	l := &Logger{Logger: logrus.New()}
	l.SetFormatter(&logrus.JSONFormatter{})
	l.SetOutput(&buf)
	l.SetVersion("1.2.3")

	ctx := ctxutil.SetTraceID(context.Background(), "trace-1")
	l.Infof(ctx, "indexed %d documents", 3)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "indexed 3 documents", entry["msg"])
	assert.Equal(t, "trace-1", entry[ctxutil.TraceIDKey])
	assert.Equal(t, "1.2.3", entry[VersionKey])
}

func TestLoggerInit(t *testing.T) {
	l := &Logger{Logger: logrus.New()}

	cleanup, err := l.Init(&config.Logger{Level: "warn", Format: "text", Output: "stderr"})
	require.NoError(t, err)
	defer cleanup()
	assert.Equal(t, logrus.WarnLevel, l.GetLevel())

	_, err = l.Init(&config.Logger{Level: "info", Output: "file"})
	assert.Error(t, err)
}

func TestSentryHookWithoutClient(t *testing.T) {
	hook := NewSentryHook()
	assert.Contains(t, hook.Levels(), logrus.ErrorLevel)
	assert.NoError(t, hook.Fire(&logrus.Entry{Message: "boom", Level: logrus.ErrorLevel, Data: logrus.Fields{}}))
}
