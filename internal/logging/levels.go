// internal/logging/levels.go
package logging

import (
	"go.uber.org/zap/zapcore"
)

// TraceLevel is a custom level below Debug for per-line and per-match
// detail. Value: -2 (Debug is -1, Info is 0).
const TraceLevel = zapcore.Level(-2)

// LevelFromString parses a string into a zapcore.Level, supporting "trace".
func LevelFromString(level string) (zapcore.Level, error) {
	if level == "trace" {
		return TraceLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return zapcore.InfoLevel, err
	}
	return l, nil
}

// VerbosityLevel maps a repeated -v flag count onto a level:
// none is warn, -v info, -vv debug, -vvv and beyond trace.
func VerbosityLevel(count int) zapcore.Level {
	switch {
	case count <= 0:
		return zapcore.WarnLevel
	case count == 1:
		return zapcore.InfoLevel
	case count == 2:
		return zapcore.DebugLevel
	default:
		return TraceLevel
	}
}
