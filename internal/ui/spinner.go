package ui

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
)

// Spinner shows progress on a single terminal line while a blocking step
// such as dialing the document server runs.
type Spinner struct {
	out      io.Writer
	spinner  spinner.Spinner
	interval time.Duration

	mu      sync.Mutex
	message string
	done    chan struct{}
	stopped bool
}

// NewSpinner returns a Dot spinner writing to stdout.
func NewSpinner(message string) *Spinner {
	return &Spinner{
		out:      os.Stdout,
		spinner:  spinner.Dot,
		interval: 80 * time.Millisecond,
		message:  message,
		done:     make(chan struct{}),
	}
}

// NewConnectionSpinner returns a Globe spinner for network waits.
func NewConnectionSpinner(message string) *Spinner {
	s := NewSpinner(message)
	s.spinner = spinner.Globe
	s.interval = 180 * time.Millisecond
	return s
}

func (s *Spinner) Start() {
	go func() {
		frames := s.spinner.Frames
		for i := 0; ; i++ {
			select {
			case <-s.done:
				return
			case <-time.After(s.interval):
			}
			s.mu.Lock()
			fmt.Fprintf(s.out, "\r%s %s", SpinnerStyle.Render(frames[i%len(frames)]), s.message)
			s.mu.Unlock()
		}
	}()
}

// SetMessage replaces the text next to the spinner.
func (s *Spinner) SetMessage(message string) {
	s.mu.Lock()
	s.message = message
	s.mu.Unlock()
}

// Stop clears the line. It is safe to call more than once.
func (s *Spinner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.done)
	fmt.Fprint(s.out, "\r\033[K")
}

func (s *Spinner) Success(message string) {
	s.Stop()
	fmt.Fprintf(s.out, "%s %s\n", SuccessStyle.Render(IconSuccess), message)
}

func (s *Spinner) Error(message string) {
	s.Stop()
	fmt.Fprintf(s.out, "%s %s\n", ErrorStyle.Render(IconError), message)
}
