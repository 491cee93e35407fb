package logflags

import (
	"bytes"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMakeLogger_usingLoggerFactory(t *testing.T) {
	require.Nil(t, loggerFactory)
	defer func() {
		loggerFactory = nil
	}()
	require.Nil(t, logOut)
	logOut = &bufferWriter{}
	defer func() {
		logOut = nil
	}()

	expectedLogger := &logrusLogger{}
	SetLoggerFactory(func(level logrus.Level, fields Fields, out io.Writer) Logger {
		assert.Equal(t, logrus.TraceLevel, level)
		assert.Equal(t, Fields{"foo": "bar"}, fields)
		assert.Equal(t, logOut, out)
		return expectedLogger
	})

	actual := makeLogger(logrus.TraceLevel, Fields{"foo": "bar"})
	assert.Same(t, expectedLogger, actual)
}

func TestMakeFlaggableLogger_withFlagFalse(t *testing.T) {
	actual := makeFlaggableLogger(false, Fields{"foo": "bar"})
	entry, ok := actual.(*logrusLogger)
	require.True(t, ok)
	assert.Equal(t, logrus.PanicLevel, entry.Entry.Logger.Level)
	assert.Equal(t, "bar", entry.Entry.Data["foo"])
}

func TestMakeFlaggableLogger_withFlagTrue(t *testing.T) {
	actual := makeFlaggableLogger(true, Fields{"foo": "bar"})
	entry, ok := actual.(*logrusLogger)
	require.True(t, ok)
	assert.Equal(t, logrus.DebugLevel, entry.Entry.Logger.Level)
}

func TestMakeLogger_usingDefaultBehavior(t *testing.T) {
	out := &bufferWriter{}
	logOut = out
	defer func() {
		logOut = nil
	}()

	actual := makeLogger(logrus.DebugLevel, Fields{"layer": "proc"})
	entry, ok := actual.(*logrusLogger)
	require.True(t, ok)
	assert.Equal(t, textFormatterInstance, entry.Entry.Logger.Formatter)

	actual.WithField("pid", 42).Debugf("resumed")
	assert.Contains(t, out.String(), "layer=proc pid=42 resumed")
}

func TestSetup(t *testing.T) {
	defer func() {
		debugger, proc, bininfo, terminal = false, false, false, false
	}()

	require.Equal(t, errLogstrWithoutLog, Setup(false, "proc", ""))

	require.NoError(t, Setup(true, "", ""))
	assert.True(t, Debugger())
	assert.False(t, Proc())

	require.NoError(t, Setup(true, "proc,bininfo,terminal", ""))
	assert.True(t, Proc())
	assert.True(t, BinInfo())
	assert.True(t, Terminal())
}

type bufferWriter struct {
	bytes.Buffer
}

func (bw *bufferWriter) Close() error {
	return nil
}

func TestDisabledLayerIsSilent(t *testing.T) {
	out := &bufferWriter{}
	logOut = out
	defer func() {
		logOut = nil
	}()

	DebuggerLogger().Error("resume failed")
	ProcLogger().Warnf("could not install breakpoint at %#x", 0x401000)
	assert.Empty(t, out.String())
}
