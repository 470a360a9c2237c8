package host

import (
	"bytes"
	"testing"

	"github.com/guseggert/cmdbridge/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderColors(t *testing.T) {
	cases := []struct {
		level protocol.LogLevel
		want  string
	}{
		{level: protocol.LevelError, want: "\x1b[91mmsg\x1b[0m\n"},
		{level: protocol.LevelWarning, want: "\x1b[93mmsg\x1b[0m\n"},
		{level: protocol.LevelVerbose, want: "\x1b[96mmsg\x1b[0m\n"},
		{level: protocol.LevelDebug, want: "\x1b[95mmsg\x1b[0m\n"},
		{level: protocol.LevelInfo, want: "msg\n"},
		{level: "Shout", want: "msg\n"},
		{level: "", want: "msg\n"},
	}
	for _, c := range cases {
		t.Run(string(c.level), func(t *testing.T) {
			var buf bytes.Buffer
			NewRenderer(&buf, ColorAlways).Render(protocol.LogMessage{Level: c.level, Message: "msg"})
			assert.Equal(t, c.want, buf.String())
		})
	}
}

func TestRenderNeverColors(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf, ColorNever)
	r.Render(protocol.LogMessage{Level: protocol.LevelError, Message: "bad"})
	r.Diagnostic("worker disconnected")
	r.Prompt("> ")
	assert.Equal(t, "bad\nworker disconnected\n> ", buf.String())
}

func TestTreatmentFor(t *testing.T) {
	assert.Equal(t, Red, TreatmentFor(protocol.LevelError))
	assert.Equal(t, Yellow, TreatmentFor(protocol.LevelWarning))
	assert.Equal(t, Cyan, TreatmentFor(protocol.LevelVerbose))
	assert.Equal(t, Magenta, TreatmentFor(protocol.LevelDebug))
	assert.Equal(t, Plain, TreatmentFor(protocol.LevelInfo))
	assert.Equal(t, Plain, TreatmentFor("whatever"))
}

func TestParseColorMode(t *testing.T) {
	m, err := ParseColorMode("")
	require.NoError(t, err)
	assert.Equal(t, ColorAuto, m)

	m, err = ParseColorMode("never")
	require.NoError(t, err)
	assert.Equal(t, ColorNever, m)

	_, err = ParseColorMode("sometimes")
	require.Error(t, err)
}
