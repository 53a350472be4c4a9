package cmdutil

import (
	"fmt"
	"strings"

	"github.com/go-kit/log/level"
)

var levels = map[string]level.Option{
	"error": level.AllowError(),
	"warn":  level.AllowWarn(),
	"info":  level.AllowInfo(),
	"debug": level.AllowDebug(),
}

// LogLevel is a flag.Value selecting the logging level. The zero value
// means info.
type LogLevel struct {
	name string
}

// String implements flag.Value.
func (l LogLevel) String() string {
	if l.name == "" {
		return "info"
	}
	return l.name
}

// Set implements flag.Value.
func (l *LogLevel) Set(in string) error {
	name := strings.ToLower(in)
	if _, ok := levels[name]; !ok {
		return fmt.Errorf("unknown log level %q, valid options error, warn, info, debug", in)
	}
	l.name = name
	return nil
}

// FilterOption returns the option for level.NewFilter.
func (l LogLevel) FilterOption() level.Option {
	return levels[l.String()]
}
