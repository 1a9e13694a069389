package ui

import (
	"fmt"
	"io"
	"sync"
	"time"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Spinner animates a one-line progress indicator while a remote call runs.
type Spinner struct {
	out      io.Writer
	msg      string
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once
}

// NewSpinner creates a spinner writing to out.
func NewSpinner(out io.Writer, msg string) *Spinner {
	return &Spinner{
		out:      out,
		msg:      msg,
		interval: 80 * time.Millisecond,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins the animation in a goroutine.
func (s *Spinner) Start() {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for i := 0; ; i++ {
			fmt.Fprintf(s.out, "\r%s  %s", StyleEvent.Render(spinnerFrames[i%len(spinnerFrames)]), s.msg)
			select {
			case <-s.stop:
				fmt.Fprintf(s.out, "\r%-60s\r", "")
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop halts the spinner and waits for it to clear the line. Safe to call
// more than once.
func (s *Spinner) Stop() {
	s.once.Do(func() {
		close(s.stop)
		<-s.done
	})
}

// StopWithMsg halts the spinner and prints a final line.
func (s *Spinner) StopWithMsg(msg string) {
	s.Stop()
	fmt.Fprintln(s.out, msg)
}
