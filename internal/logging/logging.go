// Package logging provides centralized logging functionality using logrus.
// It configures structured JSON logging, the log level, and forwarding of
// log entries to the OpenTelemetry log pipeline.
package logging

import (
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
)

// programName is used as a field in all log entries for identification
var programName = "items-api"

// SetProgramName changes the job field attached by the Log* helpers.
func SetProgramName(name string) {
	if name != "" {
		programName = name
	}
}

// LogInfo logs an informational message with the programName field.
func LogInfo(msg string) {
	log.WithFields(log.Fields{"job": programName}).Info(msg)
}

// HandleError logs the provided error and exits the program with a non-zero exit code.
// This function should be used to handle critical errors that prevent the program from continuing.
func HandleError(err error) {
	log.WithFields(log.Fields{"job": programName}).Error(err)
	os.Exit(2)
}

// LogError logs the provided error message with the programName field.
// This function should be used to log recoverable errors that do not terminate the program.
func LogError(msg string) {
	log.WithFields(log.Fields{"job": programName}).Error(msg)
}

// PrepareLogs initializes the logging system with JSON formatting.
// Entries always go to stdout; when logName is set they are also appended to
// that file (created if it doesn't exist).
//
// Returns an error if the log file cannot be opened or created.
func PrepareLogs(logName string) error {
	log.SetFormatter(&log.JSONFormatter{})
	if logName == "" {
		log.SetOutput(os.Stdout)
		return nil
	}

	logFile, err := os.OpenFile(logName, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %v", err)
	}
	log.SetOutput(io.MultiWriter(os.Stdout, logFile))
	return nil
}

// SetLevel parses level ("debug", "info", ...) and applies it to the standard logger.
// An empty level means info.
func SetLevel(level string) error {
	if level == "" {
		level = log.InfoLevel.String()
	}
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	log.SetLevel(lvl)
	return nil
}
