package logger

import (
	"os"
	"strings"

	waLog "go.mau.fi/whatsmeow/util/log"
)

// Logger groups the process loggers. Components take a Sub of App.
type Logger struct {
	App   waLog.Logger
	HTTP  waLog.Logger
	Store waLog.Logger
}

var levels = map[string]string{
	"DEBUG": "DEBUG", "TRACE": "DEBUG",
	"INFO": "INFO",
	"WARN": "WARN", "WARNING": "WARN",
	"ERROR": "ERROR",
}

// Level normalizes a LOG_LEVEL value; unknown values fall back to INFO.
func Level(raw string) string {
	if lvl, ok := levels[strings.ToUpper(strings.TrimSpace(raw))]; ok {
		return lvl
	}
	return "INFO"
}

func New(level string) *Logger {
	app := waLog.Stdout("Council", Level(level), os.Getenv("NO_COLOR") == "")
	return &Logger{
		App:   app,
		HTTP:  app.Sub("HTTP"),
		Store: app.Sub("Store"),
	}
}

func (l *Logger) WithRequestID(id string) waLog.Logger {
	return l.HTTP.Sub(id)
}

func InitForTests() *Logger {
	return &Logger{App: waLog.Stdout("Test", "DEBUG", false), HTTP: waLog.Noop, Store: waLog.Noop}
}

func DisableColor() {
	os.Setenv("NO_COLOR", "1")
}
