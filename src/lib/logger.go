package lib

import (
	"esm/src/config"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/covalenthq/lumberjack"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

var Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

// InitLogger sets the global logger. When a log file is configured, output
// is teed into a rotated file and gin's request log follows it.
func InitLogger(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var console io.Writer = os.Stdout
	if !cfg.JSON {
		console = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	out := console
	if cfg.File != "" {
		_ = os.MkdirAll(filepath.Dir(cfg.File), 0o755)
		rotated := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    500,
			MaxBackups: 3,
			MaxAge:     30,
			Compress:   true,
		}
		out = zerolog.MultiLevelWriter(console, rotated)
		gin.DefaultWriter = io.MultiWriter(os.Stdout, rotated)
	}
	Logger = zerolog.New(out).With().Timestamp().Logger()
}

// WithComponent returns a child logger tagged with the component name.
func WithComponent(component string) *zerolog.Logger {
	l := Logger.With().Str("component", component).Logger()
	return &l
}
