package worker

import (
	"strings"

	"github.com/guseggert/cmdbridge/engine"
	"github.com/guseggert/cmdbridge/protocol"
)

// bridgeSink forwards engine output to the host as log notifications.
type bridgeSink struct {
	engine.Headless
	log func(level protocol.LogLevel, message string)
}

func (b *bridgeSink) Write(text string) {
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return
	}
	b.log(protocol.LevelInfo, text)
}

func (b *bridgeSink) WriteLine(text string)        { b.log(protocol.LevelInfo, text) }
func (b *bridgeSink) WriteErrorLine(text string)   { b.log(protocol.LevelError, text) }
func (b *bridgeSink) WriteWarningLine(text string) { b.log(protocol.LevelWarning, text) }
func (b *bridgeSink) WriteDebugLine(text string)   { b.log(protocol.LevelDebug, text) }
func (b *bridgeSink) WriteVerboseLine(text string) { b.log(protocol.LevelVerbose, text) }
