package engine

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsoleSinkPrefixes(t *testing.T) {
	var buf bytes.Buffer
	sink := NewConsoleSink(&buf)
	sink.Write("a")
	sink.WriteLine("b")
	sink.WriteErrorLine("c")
	sink.WriteWarningLine("d")
	sink.WriteDebugLine("e")
	sink.WriteVerboseLine("f")
	assert.Equal(t, "ab\nERROR: c\nWARNING: d\nDEBUG: e\nVERBOSE: f\n", buf.String())
}

func TestHeadlessHasNoInput(t *testing.T) {
	var sink Sink = NewConsoleSink(&bytes.Buffer{})

	line, ok := sink.ReadLine()
	assert.False(t, ok)
	assert.Empty(t, line)

	_, err := sink.PromptForChoice("pick", "one", []string{"a", "b"}, 1)
	require.ErrorIs(t, err, ErrUnsupported)

	cred, err := sink.PromptForCredential("login", "", "me", "host")
	require.ErrorIs(t, err, ErrUnsupported)
	assert.Nil(t, cred)

	assert.Equal(t, MinimumColumns, sink.Geometry().Columns)
}

func TestExecErrorMessage(t *testing.T) {
	cause := errors.New("exit status 1")
	cases := []struct {
		err *ExecError
		exp string
	}{
		{err: &ExecError{Err: cause}, exp: "exit status 1"},
		{err: &ExecError{Err: cause, Stderr: []string{"no such file"}}, exp: "exit status 1 (stderr: no such file)"},
		{err: &ExecError{Stderr: []string{"a", "b"}}, exp: "a; b"},
	}
	for _, c := range cases {
		assert.Equal(t, c.exp, c.err.Error())
	}
	assert.ErrorIs(t, &ExecError{Err: cause}, cause)
}
