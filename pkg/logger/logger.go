package logx

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var DefaultLoggerOpts = &LoggerOpts{
	Production: false,
	Level:      "debug",
}

type LoggerOpts struct {
	Production bool
	Level      string
	// Output overrides the destination; stderr when nil.
	Output io.Writer
}

func safe(opts ...LoggerOpts) *LoggerOpts {
	if len(opts) == 0 {
		return DefaultLoggerOpts
	}
	return &opts[0]
}

// Init configures the global logger. Production emits JSON, everything else a console writer.
func Init(opts ...LoggerOpts) {
	o := safe(opts...)

	var out io.Writer = os.Stderr
	if o.Output != nil {
		out = o.Output
	}

	level, err := zerolog.ParseLevel(o.Level)
	if err != nil || o.Level == "" {
		level = zerolog.InfoLevel
		if !o.Production {
			level = zerolog.DebugLevel
		}
	}

	if o.Production {
		log.Logger = zerolog.New(out).With().Timestamp().Logger().Level(level)
		return
	}
	cw := zerolog.NewConsoleWriter()
	cw.Out = out
	log.Logger = zerolog.New(cw).With().Timestamp().Caller().Logger().Level(level)
}

func Debug() *zerolog.Event {
	return log.Debug()
}

func Info() *zerolog.Event {
	return log.Info()
}

func Warn() *zerolog.Event {
	return log.Warn()
}

func Error() *zerolog.Event {
	return log.Error()
}

func Fatal() *zerolog.Event {
	return log.Fatal()
}
