package transport

import (
	"io"
	"os"
	"sync"
)

// duplex joins a reader and a writer into one byte stream.
type duplex struct {
	io.Reader
	io.Writer

	closers   []io.Closer
	closeOnce sync.Once
	closeErr  error
}

// New joins r and w into a single io.ReadWriteCloser.
// Closing it closes each of closers once, in order, and returns the first error.
func New(r io.Reader, w io.Writer, closers ...io.Closer) io.ReadWriteCloser {
	return &duplex{Reader: r, Writer: w, closers: closers}
}

func (d *duplex) Close() error {
	d.closeOnce.Do(func() {
		for _, c := range d.closers {
			if err := c.Close(); err != nil && d.closeErr == nil {
				d.closeErr = err
			}
		}
	})
	return d.closeErr
}

// Stdio is the worker side of a piped child process: requests arrive on stdin and replies leave on stdout.
func Stdio() io.ReadWriteCloser {
	return New(os.Stdin, os.Stdout, os.Stdin, os.Stdout)
}
