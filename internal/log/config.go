package log

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// Format represents the output format for logs
type Format int

const (
	// FormatText outputs logs in human-readable key=value form
	FormatText Format = iota
	// FormatJSON outputs one JSON object per line
	FormatJSON
)

// String returns the string representation of the format
func (f Format) String() string {
	if f == FormatJSON {
		return "json"
	}
	return "text"
}

// ParseFormat parses a format name, case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text", "console", "":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	default:
		return FormatText, fmt.Errorf("unknown log format %q", s)
	}
}

// UnmarshalText implements encoding.TextUnmarshaler
func (f *Format) UnmarshalText(text []byte) error {
	parsed, err := ParseFormat(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (f Format) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// Config holds configuration for the logger
type Config struct {
	Level  Level  `yaml:"level"`
	Format Format `yaml:"format"`

	// Output defaults to stderr so command output on stdout stays parseable.
	Output io.Writer `yaml:"-"`

	AddSource bool `yaml:"add_source"`

	// ServiceName and ServiceVersion are attached to every record.
	ServiceName    string `yaml:"-"`
	ServiceVersion string `yaml:"-"`
}

// DefaultConfig logs at INFO level in text format to stderr.
func DefaultConfig() Config {
	return Config{
		Level:          LevelInfo,
		Format:         FormatText,
		Output:         os.Stderr,
		ServiceName:    "devflow",
		ServiceVersion: "dev",
	}
}
