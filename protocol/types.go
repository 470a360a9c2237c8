package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	MethodInvoke     = "invoke"
	MethodLogMessage = "logMessage"
)

var ErrMalformedParams = errors.New("protocol: malformed params")

// LogLevel is the severity of a log notification.
// Levels are routed independently; there is no ordering between them.
type LogLevel string

const (
	LevelError   LogLevel = "Error"
	LevelWarning LogLevel = "Warning"
	LevelVerbose LogLevel = "Verbose"
	LevelDebug   LogLevel = "Debug"
	LevelInfo    LogLevel = "Info"
)

// Known reports whether l is one of the defined levels.
// Unknown levels are still valid on the wire and are rendered plain.
func (l LogLevel) Known() bool {
	switch l {
	case LevelError, LevelWarning, LevelVerbose, LevelDebug, LevelInfo:
		return true
	}
	return false
}

// LogMessage is the payload of a logMessage notification.
type LogMessage struct {
	Level   LogLevel `json:"level,omitempty"`
	Message string   `json:"message,omitempty"`
}

// InvokeParams is the named form of the invoke parameters.
// The host sends the positional form, a one-element array.
type InvokeParams struct {
	Line string `json:"line"`
}

type Profile string

const (
	ProfileStructured Profile = "structured"
	ProfileSimple     Profile = "simple"
)

func ParseProfile(s string) (Profile, error) {
	switch Profile(s) {
	case "":
		return ProfileStructured, nil
	case ProfileStructured, ProfileSimple:
		return Profile(s), nil
	}
	return "", fmt.Errorf("unknown profile %q, expected one of [%s,%s]", s, ProfileStructured, ProfileSimple)
}

// InvokeArgs builds the positional params for an invoke request.
func InvokeArgs(line string) []string {
	return []string{line}
}

// DecodeInvokeParams extracts the command line from either ["line"] or {"line": "..."}.
func DecodeInvokeParams(raw []byte) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", fmt.Errorf("%w: missing invoke params", ErrMalformedParams)
	}
	switch raw[0] {
	case '[':
		var args []string
		if err := json.Unmarshal(raw, &args); err != nil {
			return "", fmt.Errorf("%w: %s", ErrMalformedParams, err)
		}
		if len(args) != 1 {
			return "", fmt.Errorf("%w: invoke takes 1 param, got %d", ErrMalformedParams, len(args))
		}
		return args[0], nil
	case '{':
		var p InvokeParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return "", fmt.Errorf("%w: %s", ErrMalformedParams, err)
		}
		return p.Line, nil
	}
	return "", fmt.Errorf("%w: invoke params must be an array or object", ErrMalformedParams)
}

// DecodeLogMessage accepts every shape a worker may send for logMessage:
// an object, a bare string, or either of those wrapped in a one-element array.
// Bare strings come from the simple profile and are treated as Info.
func DecodeLogMessage(raw []byte) (LogMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return LogMessage{}, fmt.Errorf("%w: missing logMessage params", ErrMalformedParams)
	}
	switch raw[0] {
	case '{':
		var msg LogMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return LogMessage{}, fmt.Errorf("%w: %s", ErrMalformedParams, err)
		}
		return msg, nil
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return LogMessage{}, fmt.Errorf("%w: %s", ErrMalformedParams, err)
		}
		return LogMessage{Level: LevelInfo, Message: s}, nil
	case '[':
		var args []json.RawMessage
		if err := json.Unmarshal(raw, &args); err != nil {
			return LogMessage{}, fmt.Errorf("%w: %s", ErrMalformedParams, err)
		}
		if len(args) != 1 {
			return LogMessage{}, fmt.Errorf("%w: logMessage takes 1 param, got %d", ErrMalformedParams, len(args))
		}
		inner := bytes.TrimSpace(args[0])
		if len(inner) > 0 && inner[0] == '[' {
			return LogMessage{}, fmt.Errorf("%w: nested array", ErrMalformedParams)
		}
		return DecodeLogMessage(inner)
	}
	return LogMessage{}, fmt.Errorf("%w: logMessage params must be an object or string", ErrMalformedParams)
}

// LogParams builds the notification params for msg under the given profile.
func LogParams(profile Profile, msg LogMessage) any {
	if profile == ProfileSimple {
		return []string{msg.Message}
	}
	return msg
}
