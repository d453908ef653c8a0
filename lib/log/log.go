// Package log provides levelled logging for the pcloud client
//
// The helpers take the object being logged about as their first
// argument, which is rendered as a prefix of the message in text mode
// and as structured fields in JSON mode.
package log

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Level describes the verbosity of the logs.  These are a subset of
// the syslog log levels.
type Level byte

// Log levels.  These are the syslog levels of which we only use a
// subset.
//
//	LOG_EMERG      system is unusable
//	LOG_ALERT      action must be taken immediately
//	LOG_CRIT       critical conditions
//	LOG_ERR        error conditions
//	LOG_WARNING    warning conditions
//	LOG_NOTICE     normal, but significant, condition
//	LOG_INFO       informational message
//	LOG_DEBUG      debug-level message
const (
	LevelEmergency Level = iota
	LevelAlert
	LevelCritical
	LevelError // Error - can't be suppressed
	LevelWarning
	LevelNotice // Normal logging, -q suppresses
	LevelInfo   // Stream progress, needs -v
	LevelDebug  // Debug level, needs -vv
)

var levelToString = []string{
	LevelEmergency: "EMERGENCY",
	LevelAlert:     "ALERT",
	LevelCritical:  "CRITICAL",
	LevelError:     "ERROR",
	LevelWarning:   "WARNING",
	LevelNotice:    "NOTICE",
	LevelInfo:      "INFO",
	LevelDebug:     "DEBUG",
}

// String turns a Level into a string
func (l Level) String() string {
	if l >= Level(len(levelToString)) {
		return fmt.Sprintf("Level(%d)", l)
	}
	return levelToString[l]
}

// Set a Level
func (l *Level) Set(s string) error {
	for n, name := range levelToString {
		if s != "" && strings.EqualFold(name, s) {
			*l = Level(n)
			return nil
		}
	}
	return fmt.Errorf("unknown log level %q", s)
}

// Type of the value
func (l *Level) Type() string {
	return "string"
}

// UnmarshalText makes Level usable in YAML and JSON config
func (l *Level) UnmarshalText(text []byte) error {
	return l.Set(string(text))
}

// MarshalText is the inverse of UnmarshalText
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

var (
	mu     sync.RWMutex
	level  = LevelNotice
	logger = newLogger()
)

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.DebugLevel)
	l.SetFormatter(&textFormatter{})
	return l
}

// textFormatter renders entries as
//
//	2006/01/02 15:04:05 NOTICE: object: message
type textFormatter struct{}

// Format implements logrus.Formatter
func (textFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b bytes.Buffer
	b.WriteString(entry.Time.Format("2006/01/02 15:04:05 "))
	lvl, _ := entry.Data["logLevel"].(string)
	if lvl == "" {
		lvl = strings.ToUpper(entry.Level.String())
	}
	fmt.Fprintf(&b, "%-6s: ", lvl)
	if o, ok := entry.Data["object"]; ok {
		fmt.Fprintf(&b, "%v: ", o)
	}
	b.WriteString(entry.Message)
	b.WriteByte('\n')
	return b.Bytes(), nil
}

// SetLevel sets the maximum level which is logged
func SetLevel(l Level) {
	mu.Lock()
	level = l
	mu.Unlock()
}

// GetLevel returns the current maximum level logged
func GetLevel() Level {
	mu.RLock()
	defer mu.RUnlock()
	return level
}

// SetJSON switches between JSON and text output
func SetJSON(useJSON bool) {
	mu.Lock()
	defer mu.Unlock()
	if useJSON {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&textFormatter{})
	}
}

// SetOutput redirects the logs to w
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logger.SetOutput(w)
}

// Printf produces a log entry at level from the arguments passed in
func Printf(l Level, o interface{}, text string, args ...interface{}) {
	out := fmt.Sprintf(text, args...)
	fields := logrus.Fields{"logLevel": l.String()}
	if o != nil {
		fields["object"] = fmt.Sprintf("%v", o)
		fields["objectType"] = fmt.Sprintf("%T", o)
	}
	mu.RLock()
	entry := logger.WithFields(fields)
	mu.RUnlock()
	switch l {
	case LevelDebug:
		entry.Debug(out)
	case LevelInfo:
		entry.Info(out)
	case LevelNotice, LevelWarning:
		entry.Warn(out)
	default:
		entry.Error(out)
	}
}

// LevelPrintf writes logs at the given level if enabled
func LevelPrintf(l Level, o interface{}, text string, args ...interface{}) {
	if GetLevel() >= l {
		Printf(l, o, text, args...)
	}
}

// Errorf writes error log output for this object.  It
// should always be seen by the user.
func Errorf(o interface{}, text string, args ...interface{}) {
	LevelPrintf(LevelError, o, text, args...)
}

// Logf writes log output for this object.  This should be
// considered to be Notice level logging.  It is the default level.
// Only use this for important things the user should see.  The user
// can filter these out with the -q flag.
func Logf(o interface{}, text string, args ...interface{}) {
	LevelPrintf(LevelNotice, o, text, args...)
}

// Infof writes info on stream progress for this object.  Use this
// level for things which should appear with the -v flag.
func Infof(o interface{}, text string, args ...interface{}) {
	LevelPrintf(LevelInfo, o, text, args...)
}

// Debugf writes debugging output for this object.  Use this for
// debug only.  The user must have to specify -vv to see this.
func Debugf(o interface{}, text string, args ...interface{}) {
	LevelPrintf(LevelDebug, o, text, args...)
}

// Fatalf writes an error log for this object then exits the program
// with status 1
func Fatalf(o interface{}, text string, args ...interface{}) {
	Printf(LevelError, o, text, args...)
	os.Exit(1)
}
