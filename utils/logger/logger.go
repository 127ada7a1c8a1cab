package logger

import (
	"bytes"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

type stringer interface {
	String() string
}

type logPair struct {
	logFn func(...any)
	obj   string
	msg   string
}

const (
	logSize   = 1000
	objLength = 20
)

var (
	logCh     = make(chan logPair, logSize)
	drainOnce = &sync.Once{}
)

func objToString(obj any) (objStr string) {
	if obj == nil {
		objStr = "NIL"
	} else if stringerObj, ok := obj.(stringer); ok {
		objStr = stringerObj.String()
	} else if objStr, ok = obj.(string); ok {
	} else {
		objStr = reflect.TypeOf(obj).String()
	}
	if len(objStr) > objLength {
		objStr = objStr[:objLength]
	}
	return
}

// drain writes queued messages from a single goroutine so that callers on hot paths
// (decode callbacks included) never block on the output writer.
func drain() {
	drainOnce.Do(func() {
		go func() {
			sb := new(bytes.Buffer)
			for pair := range logCh {
				fmt.Fprintf(sb, "|%20s|%-100s", pair.obj, pair.msg)
				pair.logFn(sb.String())
				sb.Reset()
			}
		}()
	})
}

// ParseLevel converts a config level name into a logrus level. Unknown names map to info.
func ParseLevel(level string) logrus.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return logrus.TraceLevel
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	default:
		return logrus.InfoLevel
	}
}

func Init(lvl logrus.Level) {
	logrus.SetLevel(lvl)
	logrus.SetFormatter(&logrus.TextFormatter{
		ForceColors:     true,
		FullTimestamp:   true,
		PadLevelText:    true,
		TimestampFormat: "2006/01/02 15:04:05.000",
	})
	drain()
}

func push(lvl logrus.Level, logFn func(...any), object any, msg string) {
	if logrus.GetLevel() < lvl {
		return
	}
	drain()
	select {
	case logCh <- logPair{logFn: logFn, obj: objToString(object), msg: msg}:
	default:
		// queue is full, the message is lost rather than stalling the caller
	}
}

func Trace(object any, message string) {
	push(logrus.TraceLevel, logrus.Trace, object, message)
}

func Tracef(object any, message string, args ...any) {
	if logrus.GetLevel() < logrus.TraceLevel {
		return
	}
	push(logrus.TraceLevel, logrus.Trace, object, fmt.Sprintf(message, args...))
}

func Debug(object any, message string) {
	push(logrus.DebugLevel, logrus.Debug, object, message)
}

func Debugf(object any, message string, args ...any) {
	if logrus.GetLevel() < logrus.DebugLevel {
		return
	}
	push(logrus.DebugLevel, logrus.Debug, object, fmt.Sprintf(message, args...))
}

func Info(object any, message string) {
	push(logrus.InfoLevel, logrus.Info, object, message)
}

func Infof(object any, message string, args ...any) {
	if logrus.GetLevel() < logrus.InfoLevel {
		return
	}
	push(logrus.InfoLevel, logrus.Info, object, fmt.Sprintf(message, args...))
}

func Warning(object any, message string) {
	push(logrus.WarnLevel, logrus.Warning, object, message)
}

func Warningf(object any, message string, args ...any) {
	if logrus.GetLevel() < logrus.WarnLevel {
		return
	}
	push(logrus.WarnLevel, logrus.Warning, object, fmt.Sprintf(message, args...))
}

func Error(object any, message string) {
	push(logrus.ErrorLevel, logrus.Error, object, message)
}

func Errorf(object any, message string, args ...any) {
	if logrus.GetLevel() < logrus.ErrorLevel {
		return
	}
	push(logrus.ErrorLevel, logrus.Error, object, fmt.Sprintf(message, args...))
}

func Fatalf(object any, message string, args ...any) {
	logrus.Fatalf("|%20s|%-100s", objToString(object), fmt.Sprintf(message, args...))
}
