package proxy

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/omarluq/flow-relay/internal/config"
)

type ctxKey string

// RequestIDKey is the context key for request IDs.
const RequestIDKey ctxKey = "request_id"

// ComponentField names the subsystem that wrote a log entry.
const ComponentField = "component"

// NewLogger builds the process logger. Output goes to stdout, stderr or an
// appended file; console rendering is used when asked for or when the
// output is a terminal.
func NewLogger(cfg config.LoggingConfig) (zerolog.Logger, error) {
	w, file, err := openOutput(cfg.Output)
	if err != nil {
		return zerolog.Logger{}, err
	}
	if wantsConsole(cfg, file) {
		w = consoleWriter(w)
	}

	return zerolog.New(w).
		Level(cfg.ParseLevel()).
		With().
		Timestamp().
		Logger(), nil
}

// ComponentLogger derives a child of base tagged with name. A level set
// under logging.components replaces the global one, so a single subsystem
// can be made more or less verbose.
func ComponentLogger(base *zerolog.Logger, cfg config.LoggingConfig, name string) zerolog.Logger {
	return base.With().Str(ComponentField, name).Logger().Level(cfg.LevelFor(name))
}

// openOutput returns the writer for output and, when it is a file or a
// standard stream, the file for terminal detection.
func openOutput(output string) (io.Writer, *os.File, error) {
	switch output {
	case "", "stdout":
		return os.Stdout, os.Stdout, nil
	case "stderr":
		return os.Stderr, os.Stderr, nil
	}

	f, err := os.OpenFile(filepath.Clean(output), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("open log output: %w", err)
	}
	return f, f, nil
}

func wantsConsole(cfg config.LoggingConfig, file *os.File) bool {
	switch {
	case cfg.Pretty, cfg.Format == "pretty":
		return true
	case cfg.Format == "json":
		return false
	default:
		return file != nil && isatty.IsTerminal(file.Fd())
	}
}

// consoleWriter renders "15:04:05 INF -> [component] message key=value".
func consoleWriter(out io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:             out,
		TimeFormat:      "15:04:05",
		FieldsExclude:   []string{ComponentField},
		FormatPrepare:   tagComponent,
		FormatLevel:     levelBadge,
		FormatMessage:   arrowMessage,
		FormatFieldName: dimFieldName,
		FormatFieldValue: func(i any) string {
			return fmt.Sprint(i)
		},
	}
}

// tagComponent prefixes the message with the entry's component.
func tagComponent(evt map[string]any) error {
	name, ok := evt[ComponentField].(string)
	if !ok || name == "" {
		return nil
	}
	msg, _ := evt[zerolog.MessageFieldName].(string)
	evt[zerolog.MessageFieldName] = "[" + name + "] " + msg
	return nil
}

var levelBadges = map[string]string{
	"debug": "\033[36mDBG\033[0m",
	"info":  "\033[32mINF\033[0m",
	"warn":  "\033[33mWRN\033[0m",
	"error": "\033[31mERR\033[0m",
	"fatal": "\033[35mFTL\033[0m",
	"panic": "\033[35mPNC\033[0m",
}

func levelBadge(i any) string {
	lvl, ok := i.(string)
	if !ok {
		return ""
	}
	if badge, ok := levelBadges[lvl]; ok {
		return badge
	}
	return lvl
}

func arrowMessage(i any) string {
	if i == nil {
		return ""
	}
	return fmt.Sprintf("-> %s", i)
}

func dimFieldName(i any) string {
	return fmt.Sprintf("\033[2m%s=\033[0m", i)
}

// AddRequestID stores requestID, or a fresh UUID when empty, in ctx and in
// the context logger.
func AddRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		requestID = uuid.New().String()
	}

	ctx = context.WithValue(ctx, RequestIDKey, requestID)
	logger := log.Ctx(ctx).With().Str("request_id", requestID).Logger()

	return logger.WithContext(ctx)
}

// GetRequestID retrieves the request ID from context.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}
