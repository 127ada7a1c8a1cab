package logger

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

type named struct{}

func (named) String() string { return "H264_DECODER state=AwaitingParameters" }

func TestParseLevel(t *testing.T) {
	t.Parallel()

	require.Equal(t, logrus.TraceLevel, ParseLevel("trace"))
	require.Equal(t, logrus.DebugLevel, ParseLevel(" DEBUG "))
	require.Equal(t, logrus.WarnLevel, ParseLevel("warning"))
	require.Equal(t, logrus.WarnLevel, ParseLevel("warn"))
	require.Equal(t, logrus.ErrorLevel, ParseLevel("error"))
	require.Equal(t, logrus.InfoLevel, ParseLevel("verbose"))
}

func TestObjToString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "NIL", objToString(nil))
	require.Equal(t, "reader", objToString("reader"))
	require.Equal(t, "H264_DECODER state=A", objToString(named{}))
	require.Equal(t, "int", objToString(42))
}
