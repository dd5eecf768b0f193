package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/hokaccha/go-prettyjson"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"

	"github.com/deepnoodle-ai/burrow/boundary"
	"github.com/deepnoodle-ai/burrow/errz"
)

var red = color.New(color.FgRed).SprintFunc()

func fatal(msg interface{}) {
	var s string
	switch msg := msg.(type) {
	case string:
		s = msg
	case error:
		var serr *errz.StructuredError
		if errors.As(msg, &serr) {
			s = serr.FriendlyErrorMessage()
		} else {
			s = msg.Error()
		}
	default:
		s = fmt.Sprintf("%v", msg)
	}
	fmt.Fprintf(os.Stderr, "%s\n", red(s))
	os.Exit(1)
}

func isTerminalIO() bool {
	stdout := os.Stdout.Fd()
	stderr := os.Stderr.Fd()
	outTerm := isatty.IsTerminal(stdout) || isatty.IsCygwinTerminal(stdout)
	errTerm := isatty.IsTerminal(stderr) || isatty.IsCygwinTerminal(stderr)
	return outTerm && errTerm
}

func newLogger(level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q", level)
	}
	w := zerolog.ConsoleWriter{Out: os.Stderr, NoColor: color.NoColor, TimeFormat: "15:04:05"}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}

// parseValue reads a command line value as JSON. Text that is not valid
// JSON is taken as a plain string.
func parseValue(text string) (boundary.Value, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil || dec.More() {
		return boundary.Str(text), nil
	}
	return boundary.FromGo(fromJSON(raw))
}

func fromJSON(v any) any {
	switch v := v.(type) {
	case json.Number:
		if i, err := strconv.ParseInt(string(v), 10, 64); err == nil {
			return i
		}
		f, _ := v.Float64()
		return f
	case []any:
		for i, item := range v {
			v[i] = fromJSON(item)
		}
		return v
	case map[string]any:
		for k, item := range v {
			v[k] = fromJSON(item)
		}
		return v
	default:
		return v
	}
}

// parseAssignment splits "key=value".
func parseAssignment(s string) (string, string, error) {
	key, value, ok := strings.Cut(s, "=")
	if !ok || key == "" {
		return "", "", fmt.Errorf("expected key=value, got %q", s)
	}
	return key, value, nil
}

// parseException reads "Type" or "Type: message".
func parseException(s string) boundary.Exception {
	typ, msg, _ := strings.Cut(s, ":")
	return boundary.Exception{Type: strings.TrimSpace(typ), Message: strings.TrimSpace(msg)}
}

func getOutputJSON(v any) ([]byte, error) {
	if color.NoColor {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return nil, err
		}
		return data, nil
	}
	return prettyjson.Marshal(v)
}

func writeFile(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write %s: %w", path, err)
	}
	return nil
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	return data, nil
}
