package engine

import (
	"fmt"
	"io"
	"sync"
)

// ConsoleSink writes engine output straight to a terminal.
type ConsoleSink struct {
	Headless

	mu  sync.Mutex
	out io.Writer
}

func NewConsoleSink(out io.Writer) *ConsoleSink {
	return &ConsoleSink{out: out}
}

func (c *ConsoleSink) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

func (c *ConsoleSink) Write(text string)            { c.printf("%s", text) }
func (c *ConsoleSink) WriteLine(text string)        { c.printf("%s\n", text) }
func (c *ConsoleSink) WriteErrorLine(text string)   { c.printf("ERROR: %s\n", text) }
func (c *ConsoleSink) WriteWarningLine(text string) { c.printf("WARNING: %s\n", text) }
func (c *ConsoleSink) WriteDebugLine(text string)   { c.printf("DEBUG: %s\n", text) }
func (c *ConsoleSink) WriteVerboseLine(text string) { c.printf("VERBOSE: %s\n", text) }
