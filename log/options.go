package log

import (
	"fmt"
	"strings"
)

// Format is a logging format. It implements the pflag.Value interface.
type Format uint

const (
	// FmtLogfmt is the "logfmt" logging format.
	FmtLogfmt Format = iota
	// FmtJSON is the JSON logging format.
	FmtJSON
)

var formatNames = []string{"logfmt", "JSON"}

// Level is a log level. It implements the pflag.Value interface.
type Level uint

const (
	// LevelDebug is the log level for debug messages.
	LevelDebug Level = iota
	// LevelInfo is the log level for informative messages.
	LevelInfo
	// LevelWarn is the log level for warning messages.
	LevelWarn
	// LevelError is the log level for error messages.
	LevelError
)

var levelNames = []string{"DEBUG", "INFO", "WARN", "ERROR"}

// parseOption returns the index of s in names, ignoring case.
func parseOption(kind string, names []string, s string) (uint, error) {
	for i, name := range names {
		if strings.EqualFold(name, s) {
			return uint(i), nil
		}
	}
	return 0, fmt.Errorf("logging: invalid log %s: '%s'", kind, s)
}

func optionName(kind string, names []string, v uint) string {
	if int(v) >= len(names) {
		panic("logging: unsupported " + kind)
	}
	return names[v]
}

func (f *Format) String() string { return optionName("format", formatNames, uint(*f)) }

// Set sets the Format to the value specified by the provided string.
func (f *Format) Set(s string) error {
	v, err := parseOption("format", formatNames, s)
	if err != nil {
		return err
	}
	*f = Format(v)
	return nil
}

// Type returns the list of supported Formats.
func (f *Format) Type() string {
	return "[" + strings.Join(formatNames, ",") + "]"
}

func (l *Level) String() string { return optionName("level", levelNames, uint(*l)) }

// Set sets the Level to the value specified by the provided string.
func (l *Level) Set(s string) error {
	v, err := parseOption("level", levelNames, s)
	if err != nil {
		return err
	}
	*l = Level(v)
	return nil
}

// Type returns the list of supported Levels.
func (l *Level) Type() string {
	return "[" + strings.Join(levelNames, ",") + "]"
}
