package worker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/guseggert/cmdbridge/engine"
	"github.com/guseggert/cmdbridge/protocol"
)

const consolePrompt = "> "

// RunConsole runs commands typed on in directly against a local session, without a host.
// Output is written to out. It returns at EOF, on "exit", or when ctx is done.
func RunConsole(ctx context.Context, eng engine.Engine, in io.Reader, out io.Writer) error {
	sink := engine.NewConsoleSink(out)
	cfg := engine.Config{Constants: []engine.Constant{bridgeConstant(uuid.NewString(), protocol.ProfileStructured)}}
	session, err := eng.Open(cfg, sink)
	if err != nil {
		return fmt.Errorf("opening session: %w", err)
	}
	defer session.Close()

	lines := make(chan string)
	go func() {
		defer close(lines)
		br := bufio.NewReader(in)
		for {
			line, err := readLine(br)
			if err != nil {
				return
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		sink.Write(consolePrompt)
		var line string
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = l
		}
		if strings.TrimSpace(line) == "exit" {
			return nil
		}
		err := session.Execute(ctx, engine.Pipeline{Command: line, MergeErrors: true, Output: engine.OutputHost})
		if err != nil {
			sink.WriteErrorLine(err.Error())
		}
	}
}

// readLine returns the next line of br without its line ending, whatever its length.
// A final line without a newline is returned before io.EOF.
func readLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return "", err
	}
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r"), nil
}
