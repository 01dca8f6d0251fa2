// Package logs wires up the per-subsystem loggers shared by every package in
// the node: one backend, one logger per subsystem, a stdout+file tee once
// the rotator is initialized.
package logs

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"
)

// logWriter tees backend output to stdout and the rotating log file.
type logWriter struct{}

func (logWriter) Write(p []byte) (n int, err error) {
	os.Stdout.Write(p)
	if LogRotator != nil {
		LogRotator.Write(p)
	}
	return len(p), nil
}

var backendLog = btclog.NewBackend(logWriter{})

// LogRotator tees log output to a rotated file once initialized. It is nil
// (stdout only) until InitLogRotator is called.
var LogRotator *rotator.Rotator

// Subsystem tags, one per package that logs.
const (
	TagTangle    = "TNGL"
	TagScheduler = "SCHD"
	TagP2P       = "PEER"
	TagRequest   = "RQST"
	TagPow       = "POWK"
	TagWallet    = "WLET"
	TagConfig    = "CNFG"
	TagDaemon    = "TCOD"
)

var subsystemLoggers = map[string]btclog.Logger{}

func logger(tag string) btclog.Logger {
	l := backendLog.Logger(tag)
	subsystemLoggers[tag] = l
	return l
}

// Loggers used throughout the codebase, one per subsystem tag above.
var (
	Tangle    = logger(TagTangle)
	Scheduler = logger(TagScheduler)
	P2P       = logger(TagP2P)
	Request   = logger(TagRequest)
	Pow       = logger(TagPow)
	Wallet    = logger(TagWallet)
	Config    = logger(TagConfig)
	Daemon    = logger(TagDaemon)
)

// InitLogRotator initializes the rotating log file. It must be called before
// any meaningful log volume is produced; before that, logs still go to
// stdout.
func InitLogRotator(logFile string) error {
	logDir, _ := filepath.Split(logFile)
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	r, err := rotator.New(logFile, 10*1024, false, 3)
	if err != nil {
		return fmt.Errorf("failed to create file rotator: %w", err)
	}

	LogRotator = r
	return nil
}

// SetLogLevel sets the logging level for the given subsystem tag. Invalid
// subsystems and levels are ignored, defaulting to info.
func SetLogLevel(subsystemTag, levelString string) {
	logger, ok := subsystemLoggers[subsystemTag]
	if !ok {
		return
	}

	level, ok := btclog.LevelFromString(levelString)
	if !ok {
		level = btclog.LevelInfo
	}

	logger.SetLevel(level)
}

// SetLogLevels sets every subsystem logger to the given level. Used to apply
// a single --loglevel flag at startup.
func SetLogLevels(levelString string) {
	for tag := range subsystemLoggers {
		SetLogLevel(tag, levelString)
	}
}
