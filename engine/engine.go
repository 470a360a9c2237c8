// Package engine defines the contract between the bridge and the embedded command engine.
// The engine is opaque: it is handed one line at a time and reports everything it produces through a Sink.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnsupported is returned by interactive prompts. No interactive input reaches the engine.
	ErrUnsupported = errors.New("engine: interactive input is not supported")
	// ErrNotStarted wraps faults that happen before a command begins executing.
	ErrNotStarted    = errors.New("engine: execution did not start")
	ErrSessionClosed = errors.New("engine: session closed")
)

// MinimumColumns is the width reported to engines that ask about the display.
const MinimumColumns = 80

type Geometry struct {
	Columns int
	Rows    int
}

type Credential struct {
	UserName string
	Password string
}

// Sink receives everything an engine writes during execution.
type Sink interface {
	Write(text string)
	WriteLine(text string)
	WriteErrorLine(text string)
	WriteWarningLine(text string)
	WriteDebugLine(text string)
	WriteVerboseLine(text string)

	// ReadLine always reports that no input is available.
	ReadLine() (string, bool)
	PromptForChoice(caption, message string, choices []string, defaultChoice int) (int, error)
	PromptForCredential(caption, message, userName, targetName string) (*Credential, error)
	Geometry() Geometry
}

// Headless implements the input and display half of Sink for sinks that have no terminal.
type Headless struct{}

func (Headless) ReadLine() (string, bool) { return "", false }

func (Headless) PromptForChoice(caption, message string, choices []string, defaultChoice int) (int, error) {
	return defaultChoice, ErrUnsupported
}

func (Headless) PromptForCredential(caption, message, userName, targetName string) (*Credential, error) {
	return nil, ErrUnsupported
}

func (Headless) Geometry() Geometry { return Geometry{Columns: MinimumColumns} }

// OutputStage selects how a pipeline's results reach the sink.
type OutputStage int

const (
	// OutputDefault passes byte output through as written and prefixes values.
	OutputDefault OutputStage = iota
	// OutputHost formats every record into whole lines on the sink.
	OutputHost
)

func (o OutputStage) String() string {
	switch o {
	case OutputDefault:
		return "default"
	case OutputHost:
		return "host"
	}
	return fmt.Sprintf("OutputStage(%d)", int(o))
}

// Pipeline is one execution unit built from one command line.
type Pipeline struct {
	Command string
	// MergeErrors sends the engine's error stream and raised errors to the sink's error lines
	// instead of returning them from Execute.
	MergeErrors bool
	Output      OutputStage
}

// Constant is a named read-only value exposed to every command in a session.
// Values are strings or map[string]string.
type Constant struct {
	Name        string
	Value       any
	Description string
}

type Config struct {
	Constants []Constant
}

type Engine interface {
	Open(cfg Config, sink Sink) (Session, error)
}

// Session is a long-lived execution context. Execute is never called concurrently.
type Session interface {
	Execute(ctx context.Context, p Pipeline) error
	Close() error
}

// ExecError is returned from Execute when errors are not merged into the output.
type ExecError struct {
	Err    error
	Stderr []string
}

func (e *ExecError) Error() string {
	if e.Err == nil {
		return strings.Join(e.Stderr, "; ")
	}
	if len(e.Stderr) == 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s (stderr: %s)", e.Err, strings.Join(e.Stderr, "; "))
}

func (e *ExecError) Unwrap() error { return e.Err }
