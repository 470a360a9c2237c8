// Package elvish runs bridge commands with the embeddable Elvish interpreter.
package elvish

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"sync"
	"sync/atomic"

	"github.com/guseggert/cmdbridge/engine"
	"src.elv.sh/pkg/eval"
	"src.elv.sh/pkg/eval/vals"
	"src.elv.sh/pkg/eval/vars"
	"src.elv.sh/pkg/parse"
)

const sourceName = "[invoke]"

var constantName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_-]*$`)

type Engine struct{}

func New() *Engine { return &Engine{} }

// Open creates an evaler whose global namespace holds the read-only constants
// and the write-* builtins that report through sink.
func (e *Engine) Open(cfg engine.Config, sink engine.Sink) (engine.Session, error) {
	ns := eval.BuildNs()
	seen := map[string]bool{}
	for _, c := range cfg.Constants {
		if !constantName.MatchString(c.Name) {
			return nil, fmt.Errorf("invalid constant name %q", c.Name)
		}
		if seen[c.Name] {
			return nil, fmt.Errorf("duplicate constant %q", c.Name)
		}
		seen[c.Name] = true
		v, err := toValue(c.Value)
		if err != nil {
			return nil, fmt.Errorf("constant %q: %w", c.Name, err)
		}
		ns = ns.AddVar(c.Name, vars.NewReadOnly(v))
	}
	ns = ns.AddGoFns(map[string]any{
		"write-error":   sink.WriteErrorLine,
		"write-warning": sink.WriteWarningLine,
		"write-verbose": sink.WriteVerboseLine,
		"write-debug":   sink.WriteDebugLine,
	})

	ev := eval.NewEvaler()
	ev.ExtendGlobal(ns)
	return &session{ev: ev, sink: sink}, nil
}

func toValue(v any) (any, error) {
	switch v := v.(type) {
	case string:
		return v, nil
	case map[string]string:
		m := vals.EmptyMap
		for k, val := range v {
			m = m.Assoc(k, val)
		}
		return m, nil
	}
	return nil, fmt.Errorf("unsupported constant type %T", v)
}

type session struct {
	ev     *eval.Evaler
	sink   engine.Sink
	closed atomic.Bool
}

func (s *session) Execute(ctx context.Context, p engine.Pipeline) error {
	if s.closed.Load() {
		return fmt.Errorf("%w: %w", engine.ErrNotStarted, engine.ErrSessionClosed)
	}

	var (
		stderrMu sync.Mutex
		stderr   []string
	)
	errorLine := func(line string) {
		if p.MergeErrors {
			s.sink.WriteErrorLine(line)
			return
		}
		stderrMu.Lock()
		stderr = append(stderr, line)
		stderrMu.Unlock()
	}

	outPort, waitOut, err := eval.PipePort(
		func(ch <-chan any) {
			for v := range ch {
				s.writeValue(p.Output, v)
			}
		},
		func(r *os.File) { s.copyOutput(p.Output, r) },
	)
	if err != nil {
		return fmt.Errorf("%w: creating output port: %s", engine.ErrNotStarted, err)
	}
	errPort, waitErr, err := eval.PipePort(
		func(ch <-chan any) {
			for v := range ch {
				errorLine(vals.ToString(v))
			}
		},
		func(r *os.File) { readLines(r, errorLine) },
	)
	if err != nil {
		waitOut()
		return fmt.Errorf("%w: creating error port: %s", engine.ErrNotStarted, err)
	}

	evalErr := s.ev.Eval(
		parse.Source{Name: sourceName, Code: p.Command},
		eval.EvalCfg{Ports: []*eval.Port{eval.DummyInputPort, outPort, errPort}},
	)
	waitOut()
	waitErr()

	if p.MergeErrors {
		if evalErr != nil {
			s.sink.WriteErrorLine(evalErr.Error())
		}
		return nil
	}
	if evalErr != nil || len(stderr) > 0 {
		return &engine.ExecError{Err: evalErr, Stderr: stderr}
	}
	return nil
}

func (s *session) writeValue(stage engine.OutputStage, v any) {
	if stage == engine.OutputHost {
		s.sink.WriteLine(vals.ToString(v))
		return
	}
	s.sink.WriteLine("▶ " + vals.ToString(v))
}

func (s *session) copyOutput(stage engine.OutputStage, r io.Reader) {
	if stage == engine.OutputHost {
		readLines(r, s.sink.WriteLine)
		return
	}
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			s.sink.Write(string(buf[:n]))
		}
		if err != nil {
			return
		}
	}
}

// readLines calls f for every line read from r, without the trailing newline.
// A final line without a newline is still reported.
func readLines(r io.Reader, f func(string)) {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			if line[len(line)-1] == '\n' {
				line = line[:len(line)-1]
			}
			if len(line) > 0 && line[len(line)-1] == '\r' {
				line = line[:len(line)-1]
			}
			f(line)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				f(fmt.Sprintf("reading output: %s", err))
			}
			return
		}
	}
}

func (s *session) Close() error {
	s.closed.Store(true)
	return nil
}
