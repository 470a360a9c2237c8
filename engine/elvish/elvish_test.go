package elvish

import (
	"context"
	"sync"
	"testing"

	"github.com/guseggert/cmdbridge/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	kind string
	text string
}

type recordingSink struct {
	engine.Headless

	mu      sync.Mutex
	records []record
}

func (r *recordingSink) add(kind, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record{kind: kind, text: text})
}

func (r *recordingSink) Write(text string)            { r.add("write", text) }
func (r *recordingSink) WriteLine(text string)        { r.add("line", text) }
func (r *recordingSink) WriteErrorLine(text string)   { r.add("error", text) }
func (r *recordingSink) WriteWarningLine(text string) { r.add("warning", text) }
func (r *recordingSink) WriteDebugLine(text string)   { r.add("debug", text) }
func (r *recordingSink) WriteVerboseLine(text string) { r.add("verbose", text) }

func (r *recordingSink) get() []record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]record(nil), r.records...)
}

func (r *recordingSink) kinds(kind string) []string {
	var out []string
	for _, rec := range r.get() {
		if rec.kind == kind {
			out = append(out, rec.text)
		}
	}
	return out
}

func open(t *testing.T, cfg engine.Config) (engine.Session, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	sess, err := New().Open(cfg, sink)
	require.NoError(t, err)
	t.Cleanup(func() { sess.Close() })
	return sess, sink
}

func host(cmd string) engine.Pipeline {
	return engine.Pipeline{Command: cmd, MergeErrors: true, Output: engine.OutputHost}
}

func TestEchoProducesLine(t *testing.T) {
	sess, sink := open(t, engine.Config{})
	require.NoError(t, sess.Execute(context.Background(), host("echo hello")))
	assert.Equal(t, []record{{kind: "line", text: "hello"}}, sink.get())
}

func TestValueOutput(t *testing.T) {
	sess, sink := open(t, engine.Config{})
	require.NoError(t, sess.Execute(context.Background(), host("put foo")))
	require.NoError(t, sess.Execute(context.Background(), engine.Pipeline{Command: "put bar", Output: engine.OutputDefault}))
	assert.Equal(t, []string{"foo", "▶ bar"}, sink.kinds("line"))
}

func TestDefaultStagePassesBytesThrough(t *testing.T) {
	sess, sink := open(t, engine.Config{})
	require.NoError(t, sess.Execute(context.Background(), engine.Pipeline{Command: "echo raw", Output: engine.OutputDefault}))

	var written string
	for _, s := range sink.kinds("write") {
		written += s
	}
	assert.Equal(t, "raw\n", written)
}

func TestUnknownCommandMergedIntoErrorLines(t *testing.T) {
	sess, sink := open(t, engine.Config{})
	err := sess.Execute(context.Background(), host("this-is-not-a-valid-command"))
	require.NoError(t, err)

	errs := sink.kinds("error")
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[len(errs)-1], "this-is-not-a-valid-command")
}

func TestUnmergedErrorsAreReturned(t *testing.T) {
	sess, sink := open(t, engine.Config{})
	err := sess.Execute(context.Background(), engine.Pipeline{Command: "fail boom", Output: engine.OutputDefault})

	var execErr *engine.ExecError
	require.ErrorAs(t, err, &execErr)
	assert.Contains(t, err.Error(), "boom")
	assert.Empty(t, sink.kinds("error"))
}

func TestStderrMerged(t *testing.T) {
	sess, sink := open(t, engine.Config{})
	require.NoError(t, sess.Execute(context.Background(), host("echo oops >&2")))
	assert.Equal(t, []string{"oops"}, sink.kinds("error"))
}

func TestBlankCommandsProduceNothing(t *testing.T) {
	sess, sink := open(t, engine.Config{})
	require.NoError(t, sess.Execute(context.Background(), host("")))
	require.NoError(t, sess.Execute(context.Background(), host("   ")))
	assert.Empty(t, sink.get())
}

func TestSyntaxErrorLeavesSessionUsable(t *testing.T) {
	sess, sink := open(t, engine.Config{})
	require.NoError(t, sess.Execute(context.Background(), host("echo (")))
	assert.NotEmpty(t, sink.kinds("error"))

	require.NoError(t, sess.Execute(context.Background(), host("echo again")))
	assert.Equal(t, []string{"again"}, sink.kinds("line"))
}

func TestConstants(t *testing.T) {
	cfg := engine.Config{Constants: []engine.Constant{
		{Name: "bridge", Value: map[string]string{"profile": "structured"}},
		{Name: "greeting", Value: "hi"},
	}}
	sess, sink := open(t, cfg)

	require.NoError(t, sess.Execute(context.Background(), host("echo $bridge[profile] $greeting")))
	assert.Equal(t, []string{"structured hi"}, sink.kinds("line"))

	err := sess.Execute(context.Background(), engine.Pipeline{Command: "set greeting = bye", Output: engine.OutputHost})
	require.Error(t, err)

	require.NoError(t, sess.Execute(context.Background(), host("echo $greeting")))
	assert.Equal(t, []string{"structured hi", "hi"}, sink.kinds("line"))
}

func TestInvalidConstants(t *testing.T) {
	cases := []struct {
		name   string
		consts []engine.Constant
	}{
		{name: "bad name", consts: []engine.Constant{{Name: "a b", Value: "x"}}},
		{name: "duplicate", consts: []engine.Constant{{Name: "a", Value: "x"}, {Name: "a", Value: "y"}}},
		{name: "bad type", consts: []engine.Constant{{Name: "a", Value: 42}}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := New().Open(engine.Config{Constants: c.consts}, &recordingSink{})
			require.Error(t, err)
		})
	}
}

func TestWriteBuiltins(t *testing.T) {
	sess, sink := open(t, engine.Config{})
	cmd := "write-warning careful; write-verbose chatty; write-debug trace; write-error bad"
	require.NoError(t, sess.Execute(context.Background(), host(cmd)))
	assert.Equal(t, []record{
		{kind: "warning", text: "careful"},
		{kind: "verbose", text: "chatty"},
		{kind: "debug", text: "trace"},
		{kind: "error", text: "bad"},
	}, sink.get())
}

func TestClosedSession(t *testing.T) {
	sess, _ := open(t, engine.Config{})
	require.NoError(t, sess.Close())
	err := sess.Execute(context.Background(), host("echo hello"))
	require.ErrorIs(t, err, engine.ErrNotStarted)
	require.ErrorIs(t, err, engine.ErrSessionClosed)
}
