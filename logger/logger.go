package logger

import (
	"io"
	"os"
	"runtime"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

type DBSQLLogger struct {
	zerolog.Logger
}

// Track is used to time a function. Pair with Duration:
//
//	defer log.Duration(log.Track("fetch chunk"))
func (l *DBSQLLogger) Track(msg string) (string, time.Time) {
	return msg, time.Now()
}

// Duration logs a debug message with the time elapsed since start.
func (l *DBSQLLogger) Duration(msg string, start time.Time) {
	l.Debug().Msgf("%v elapsed time: %v", msg, time.Since(start))
}

var Logger = &DBSQLLogger{
	zerolog.New(os.Stderr).With().Timestamp().Logger(),
}

// enable pretty printing for interactive terminals and json for production.
func init() {
	// for tty terminal enable pretty logs
	if isatty.IsTerminal(os.Stderr.Fd()) && runtime.GOOS != "windows" {
		Logger.Logger = Logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		// UNIX Time is faster and smaller than most timestamps
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	}
	// by default only log warnings and errors
	Logger.Logger = Logger.Level(zerolog.WarnLevel)
}

// SetLogLevel sets the global log level from one of
// trace, debug, info, warn, error, fatal, panic or disabled.
func SetLogLevel(l string) error {
	lvl, err := zerolog.ParseLevel(l)
	if err != nil {
		return err
	}
	Logger.Logger = Logger.Level(lvl)
	return nil
}

// SetLogOutput redirects the global logger.
func SetLogOutput(w io.Writer) {
	Logger.Logger = Logger.Output(w)
}

// WithContext returns a logger that tags every message with the
// connection, correlation and query ids.
func WithContext(connectionId string, correlationId string, queryId string) *DBSQLLogger {
	return &DBSQLLogger{Logger.With().
		Str("connId", connectionId).
		Str("corrId", correlationId).
		Str("queryId", queryId).
		Logger()}
}

// Track is used to time a function with the global logger.
func Track(msg string) (string, time.Time) {
	return Logger.Track(msg)
}

// Duration logs elapsed time with the global logger.
func Duration(msg string, start time.Time) {
	Logger.Duration(msg, start)
}

// Debug starts a new message with debug level.
func Debug() *zerolog.Event {
	return Logger.Debug()
}

// Info starts a new message with info level.
func Info() *zerolog.Event {
	return Logger.Info()
}

// Warn starts a new message with warn level.
func Warn() *zerolog.Event {
	return Logger.Warn()
}

// Error starts a new message with error level.
func Error() *zerolog.Event {
	return Logger.Error()
}

// Err starts a new message with error level with err as a field if not nil or
// with info level if err is nil.
func Err(err error) *zerolog.Event {
	return Logger.Err(err)
}
