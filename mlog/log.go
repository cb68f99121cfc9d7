// Package mlog provides logging with log levels and fields, on top of log/slog.
//
// Each log level has a function to log with and without error. Each such
// function takes a varargs list of slog attributes. Variable data should be in
// attributes. Logging strings themselves should be constant, for easier log
// processing.
//
// The log levels can be configured per originating package, e.g. override,
// hostsfile. The configuration is application-global, so each Log instance uses
// the same log levels. When a caller passes its own *slog.Logger, its handler
// decides which levels are written and the package configuration is not used.
//
// Print* should be used for lines that always should be printed, regardless of
// configured log levels.
package mlog

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Logfmt selects logfmt output instead of the default human-readable lines.
var Logfmt bool

const (
	LevelTrace = slog.LevelDebug - 4
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelError = slog.LevelError
	LevelPrint = slog.LevelError + 4 // Printed regardless of configured log level.
)

var LevelStrings = map[slog.Level]string{
	LevelTrace: "trace",
	LevelDebug: "debug",
	LevelInfo:  "info",
	LevelError: "error",
	LevelPrint: "print",
}

var Levels = map[string]slog.Level{
	"trace": LevelTrace,
	"debug": LevelDebug,
	"info":  LevelInfo,
	"error": LevelError,
}

// Holds a map[string]slog.Level, mapping a package (field pkg in logs) to a log
// level. The empty string is the default/fallback log level.
var config atomic.Pointer[map[string]slog.Level]

func init() {
	SetConfig(map[string]slog.Level{"": LevelError})
}

// SetConfig atomically sets the new log levels used by all Log instances with
// the default handler.
func SetConfig(c map[string]slog.Level) {
	config.Store(&c)
}

type key string

// CidKey can be used with context.WithValue to store a "cid" in a context, for
// logging. The orchestrator stores the id of each context it starts.
var CidKey key = "cid"

// Log wraps a slog.Logger with convenience functions that take an error.
type Log struct {
	*slog.Logger
}

// New returns a Log that adds field "pkg" to each line. If logger is nil, lines
// are written to stderr, filtered by the levels set with SetConfig.
func New(pkg string, logger *slog.Logger) Log {
	if logger == nil {
		logger = slog.New(&handler{w: os.Stderr})
	}
	return Log{logger.With(slog.String("pkg", pkg))}
}

// WithCid adds a field "cid".
func (l Log) WithCid(cid int64) Log {
	return Log{l.Logger.With(slog.Int64("cid", cid))}
}

// WithContext adds cid from context, if present.
func (l Log) WithContext(ctx context.Context) Log {
	cidv := ctx.Value(CidKey)
	if cidv == nil {
		return l
	}
	return l.WithCid(cidv.(int64))
}

// With adds attributes to each line logged through the returned Log.
func (l Log) With(attrs ...slog.Attr) Log {
	args := make([]any, len(attrs))
	for i, a := range attrs {
		args[i] = a
	}
	return Log{l.Logger.With(args...)}
}

func (l Log) Trace(msg string, attrs ...slog.Attr) { l.logx(LevelTrace, nil, msg, attrs...) }

func (l Log) Debug(msg string, attrs ...slog.Attr) { l.logx(LevelDebug, nil, msg, attrs...) }
func (l Log) Debugx(msg string, err error, attrs ...slog.Attr) {
	l.logx(LevelDebug, err, msg, attrs...)
}

func (l Log) Info(msg string, attrs ...slog.Attr) { l.logx(LevelInfo, nil, msg, attrs...) }
func (l Log) Infox(msg string, err error, attrs ...slog.Attr) {
	l.logx(LevelInfo, err, msg, attrs...)
}

func (l Log) Error(msg string, attrs ...slog.Attr) { l.logx(LevelError, nil, msg, attrs...) }
func (l Log) Errorx(msg string, err error, attrs ...slog.Attr) {
	l.logx(LevelError, err, msg, attrs...)
}

func (l Log) Print(msg string, attrs ...slog.Attr) { l.logx(LevelPrint, nil, msg, attrs...) }
func (l Log) Printx(msg string, err error, attrs ...slog.Attr) {
	l.logx(LevelPrint, err, msg, attrs...)
}

func (l Log) logx(level slog.Level, err error, msg string, attrs ...slog.Attr) {
	if !l.Logger.Enabled(context.Background(), level) {
		return
	}
	if err != nil {
		attrs = append([]slog.Attr{slog.Any("err", err)}, attrs...)
	}
	l.Logger.LogAttrs(context.Background(), level, msg, attrs...)
}

// handler is the default slog.Handler, applying the package levels from
// SetConfig.
type handler struct {
	w     io.Writer
	pkg   string
	attrs []slog.Attr
	group string
}

var writeMutex sync.Mutex

func (h *handler) Enabled(ctx context.Context, level slog.Level) bool {
	if level >= LevelPrint {
		return true
	}
	cl := *config.Load()
	if v, ok := cl[h.pkg]; ok && h.pkg != "" {
		return level >= v
	}
	v, ok := cl[""]
	return ok && level >= v
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := *h
	nh.attrs = append([]slog.Attr{}, h.attrs...)
	for _, a := range attrs {
		if h.group != "" {
			a.Key = h.group + "." + a.Key
		}
		if a.Key == "pkg" {
			nh.pkg = a.Value.String()
		}
		nh.attrs = append(nh.attrs, a)
	}
	return &nh
}

func (h *handler) WithGroup(name string) slog.Handler {
	nh := *h
	if h.group != "" {
		name = h.group + "." + name
	}
	nh.group = name
	return &nh
}

func (h *handler) Handle(ctx context.Context, r slog.Record) error {
	attrs := append([]slog.Attr{}, h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		if h.group != "" {
			a.Key = h.group + "." + a.Key
		}
		attrs = append(attrs, a)
		return true
	})

	level, ok := LevelStrings[r.Level]
	if !ok {
		level = strings.ToLower(r.Level.String())
	}

	// We build up a buffer so we can do a single write of the data. Otherwise
	// partial log lines may interleave.
	b := &bytes.Buffer{}
	if Logfmt {
		fmt.Fprintf(b, "l=%s m=%s", level, logfmtValue(r.Message))
		for _, a := range attrs {
			fmt.Fprintf(b, " %s=%s", a.Key, logfmtValue(stringValue(a)))
		}
	} else {
		fmt.Fprintf(b, "%s: %s", level, r.Message)
		if len(attrs) > 0 {
			b.WriteString(" (")
			for i, a := range attrs {
				if i > 0 {
					b.WriteString("; ")
				}
				fmt.Fprintf(b, "%s: %s", a.Key, stringValue(a))
			}
			b.WriteString(")")
		}
	}
	b.WriteString("\n")

	writeMutex.Lock()
	defer writeMutex.Unlock()
	_, err := h.w.Write(b.Bytes())
	return err
}

// escape logfmt string if required, otherwise return original string.
func logfmtValue(s string) string {
	for _, c := range s {
		if c == '"' || c == '\\' || c <= ' ' || c == '=' || c >= 0x7f {
			return fmt.Sprintf("%q", s)
		}
	}
	return s
}

func stringValue(a slog.Attr) string {
	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindInt64:
		if a.Key == "cid" {
			return strconv.FormatInt(v.Int64(), 16)
		}
		return strconv.FormatInt(v.Int64(), 10)
	case slog.KindDuration:
		return v.Duration().Round(time.Microsecond).String()
	case slog.KindAny:
		switch x := v.Any().(type) {
		case error:
			return x.Error()
		case []string:
			return "[" + strings.Join(x, ",") + "]"
		case fmt.Stringer:
			return x.String()
		}
		return fmt.Sprintf("%v", v.Any())
	}
	return v.String()
}
