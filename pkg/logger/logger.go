// Package logger is the JSON structured logger of Growth Hub.
// Every line is one JSON object with timestamp, level, message, optional caller
// and a flat "fields" map. Loggers derived with With share one writer and lock.
package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Level is the severity of a log line.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}

func (l Level) String() string {
	if l < LevelDebug || l > LevelFatal {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// ParseLevel parses a level name; unknown names map to INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	case "FATAL":
		return LevelFatal
	default:
		return LevelInfo
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Fields
// ═══════════════════════════════════════════════════════════════════════════

// Field is one structured key-value pair.
type Field struct {
	Key   string
	Value any
}

func String(key, value string) Field             { return Field{Key: key, Value: value} }
func Int(key string, value int) Field            { return Field{Key: key, Value: value} }
func Int64(key string, value int64) Field        { return Field{Key: key, Value: value} }
func Any(key string, value any) Field            { return Field{Key: key, Value: value} }
func Duration(key string, d time.Duration) Field { return Field{Key: key, Value: d.String()} }

// Err renders err as its message under the "error" key.
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Analytics field helpers.
func RunID(id string) Field         { return String("run_id", id) }
func AnalysisKey(key string) Field  { return String("analysis_key", key) }
func Stage(name string) Field       { return String("stage", name) }
func RecordCount(n int) Field       { return Int("record_count", n) }
func Component(name string) Field   { return String("component", name) }
func Operation(name string) Field   { return String("operation", name) }
func Latency(d time.Duration) Field { return Duration("latency", d) }

// RequestIDKey is the field key used for request tracing.
const RequestIDKey = "request_id"

// ═══════════════════════════════════════════════════════════════════════════
// Logger
// ═══════════════════════════════════════════════════════════════════════════

// sink is shared by a logger and all loggers derived from it.
type sink struct {
	mu  sync.Mutex
	out io.Writer
}

// Logger writes structured JSON lines.
type Logger struct {
	sink       *sink
	level      Level
	fields     []Field
	addCaller  bool
	callerSkip int
	now        func() time.Time
}

// Options configures a Logger.
type Options struct {
	Output     io.Writer
	Level      Level
	AddCaller  bool
	CallerSkip int
}

// DefaultOptions logs INFO and above to stdout with caller info.
func DefaultOptions() Options {
	return Options{Output: os.Stdout, Level: LevelInfo, AddCaller: true}
}

// New creates a Logger.
func New(opts Options) *Logger {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	return &Logger{
		sink:       &sink{out: opts.Output},
		level:      opts.Level,
		addCaller:  opts.AddCaller,
		callerSkip: opts.CallerSkip,
		now:        time.Now,
	}
}

// Default returns a Logger with DefaultOptions.
func Default() *Logger {
	return New(DefaultOptions())
}

// Nop returns a Logger that discards everything.
func Nop() *Logger {
	return New(Options{Output: io.Discard, Level: LevelFatal + 1})
}

func (l *Logger) clone() *Logger {
	c := *l
	return &c
}

// With returns a child logger carrying fields on every line.
func (l *Logger) With(fields ...Field) *Logger {
	c := l.clone()
	c.fields = make([]Field, 0, len(l.fields)+len(fields))
	c.fields = append(c.fields, l.fields...)
	c.fields = append(c.fields, fields...)
	return c
}

// WithRequestID returns a child logger tagged with a request id.
func (l *Logger) WithRequestID(id string) *Logger {
	return l.With(String(RequestIDKey, id))
}

type entry struct {
	Timestamp string         `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Caller    string         `json:"caller,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

func (l *Logger) log(level Level, msg string, fields []Field) {
	if level < l.level {
		return
	}

	e := entry{
		Timestamp: l.now().UTC().Format(time.RFC3339Nano),
		Level:     level.String(),
		Message:   msg,
	}
	if l.addCaller {
		if _, file, line, ok := runtime.Caller(2 + l.callerSkip); ok {
			if i := strings.LastIndex(file, "/"); i >= 0 {
				file = file[i+1:]
			}
			e.Caller = fmt.Sprintf("%s:%d", file, line)
		}
	}
	if n := len(l.fields) + len(fields); n > 0 {
		e.Fields = make(map[string]any, n)
		for _, f := range l.fields {
			e.Fields[f.Key] = f.Value
		}
		for _, f := range fields {
			e.Fields[f.Key] = f.Value
		}
	}

	data, err := json.Marshal(e)
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	if err != nil {
		fmt.Fprintf(l.sink.out, "%s [%s] %s\n", e.Timestamp, e.Level, msg)
		return
	}
	data = append(data, '\n')
	_, _ = l.sink.out.Write(data)
}

func (l *Logger) Debug(msg string, fields ...Field) { l.log(LevelDebug, msg, fields) }
func (l *Logger) Info(msg string, fields ...Field)  { l.log(LevelInfo, msg, fields) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.log(LevelWarn, msg, fields) }
func (l *Logger) Error(msg string, fields ...Field) { l.log(LevelError, msg, fields) }

// ═══════════════════════════════════════════════════════════════════════════
// Context propagation
// ═══════════════════════════════════════════════════════════════════════════

type ctxKey struct{}

// WithContext attaches l to ctx.
func WithContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger stored in ctx, or Default().
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(ctxKey{}).(*Logger); ok {
		return l
	}
	return Default()
}
