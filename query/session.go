// Package query implements the analyzer's command layer: an explicit
// registry of named operations, a dispatcher the external shell feeds
// command lines into, and the query implementations themselves. Results
// stream to the session's output writer, progress to its error writer,
// both behind a single output lock.
package query

import (
	"fmt"
	"io"
	"sync"

	"github.com/nielstron/python-memtools/catalog"
)

// Session binds a catalog environment to the writers one interactive
// session produces output on. Out receives result lines, Err receives
// progress and diagnostics. Both are guarded by one lock so concurrent
// scan workers never interleave partial lines.
type Session struct {
	Env *catalog.Environment
	Out io.Writer
	Err io.Writer
	// NumThreads caps scan parallelism; 0 selects the hardware default.
	NumThreads int

	mu sync.Mutex
}

// NewSession creates a session over env writing to out and err.
func NewSession(env *catalog.Environment, out, err io.Writer) *Session {
	return &Session{Env: env, Out: out, Err: err}
}

// Printf writes a result line under the output lock.
func (s *Session) Printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.Out, format, args...)
}

// Errorf writes a diagnostic line under the output lock.
func (s *Session) Errorf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.Err, format, args...)
}

// WriteProgress implements scan.ProgressWriter: progress lines go to Err
// under the output lock, un-terminated so the next write overwrites.
func (s *Session) WriteProgress(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	io.WriteString(s.Err, line)
}
