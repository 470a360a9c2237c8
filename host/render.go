package host

import (
	"fmt"
	"io"
	"sync"

	"github.com/guseggert/cmdbridge/protocol"
	"github.com/muesli/termenv"
)

type ColorMode string

const (
	ColorAuto   ColorMode = "auto"
	ColorAlways ColorMode = "always"
	ColorNever  ColorMode = "never"
)

func ParseColorMode(s string) (ColorMode, error) {
	switch ColorMode(s) {
	case "":
		return ColorAuto, nil
	case ColorAuto, ColorAlways, ColorNever:
		return ColorMode(s), nil
	}
	return "", fmt.Errorf("unknown color mode %q, expected one of [%s,%s,%s]", s, ColorAuto, ColorAlways, ColorNever)
}

// Treatment is how a log line is highlighted.
type Treatment int

const (
	Plain Treatment = iota
	Red
	Yellow
	Cyan
	Magenta
)

// ANSI color codes, bright variants.
var treatmentColors = map[Treatment]string{
	Red:     "9",
	Yellow:  "11",
	Cyan:    "14",
	Magenta: "13",
}

// TreatmentFor maps a severity to its treatment. Unknown severities are plain.
func TreatmentFor(level protocol.LogLevel) Treatment {
	switch level {
	case protocol.LevelError:
		return Red
	case protocol.LevelWarning:
		return Yellow
	case protocol.LevelVerbose:
		return Cyan
	case protocol.LevelDebug:
		return Magenta
	}
	return Plain
}

// Renderer writes log messages, diagnostics and prompts to the operator's terminal.
// It is safe for concurrent use, since notifications arrive while the prompt loop is waiting.
type Renderer struct {
	mu  sync.Mutex
	w   io.Writer
	out *termenv.Output
}

func NewRenderer(w io.Writer, mode ColorMode) *Renderer {
	var opts []termenv.OutputOption
	switch mode {
	case ColorAlways:
		opts = append(opts, termenv.WithProfile(termenv.ANSI))
	case ColorNever:
		opts = append(opts, termenv.WithProfile(termenv.Ascii))
	}
	return &Renderer{w: w, out: termenv.NewOutput(w, opts...)}
}

func (r *Renderer) style(t Treatment, text string) string {
	s := r.out.String(text)
	if code, ok := treatmentColors[t]; ok {
		s = s.Foreground(r.out.Color(code))
	}
	return s.String()
}

func (r *Renderer) Render(msg protocol.LogMessage) {
	line := r.style(TreatmentFor(msg.Level), msg.Message)
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.w, line)
}

// Diagnostic prints a single line about the bridge itself, as opposed to output from a command.
func (r *Renderer) Diagnostic(text string) {
	line := r.out.String(text).Bold().String()
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.w, line)
}

func (r *Renderer) Prompt(prompt string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprint(r.w, prompt)
}
