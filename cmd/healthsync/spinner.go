package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/lipgloss"
)

const (
	spinnerFrameWidth = 2 // braille frames render ~2 columns
	spinnerAnimDelay  = 80 * time.Millisecond
	spinnerClearPad   = 5
)

// progressSpinner animates a spinner whose message can change while it runs.
type progressSpinner struct {
	frames  []string
	w       io.Writer
	done    atomic.Bool
	stopped chan struct{}

	mu       sync.Mutex
	message  string
	clearLen int
}

func newProgressSpinner(w io.Writer, message string) *progressSpinner {
	return &progressSpinner{
		frames:   []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
		w:        w,
		message:  message,
		clearLen: spinnerFrameWidth + 1 + len(message),
		stopped:  make(chan struct{}),
	}
}

func (s *progressSpinner) Start() {
	if !isTTY() {
		fmt.Fprintf(s.w, "%s...\n", s.message)
		close(s.stopped)
		return
	}

	go func() {
		defer close(s.stopped)
		style := lipgloss.NewStyle().Foreground(colorPrimary)
		for i := 0; !s.done.Load(); i++ {
			s.mu.Lock()
			msg := s.message
			s.mu.Unlock()
			fmt.Fprintf(s.w, "\r%s %s", style.Render(s.frames[i%len(s.frames)]), msg)
			time.Sleep(spinnerAnimDelay)
		}
	}()
}

// SetMessage replaces the text shown next to the spinner.
func (s *progressSpinner) SetMessage(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.message = msg
	if n := spinnerFrameWidth + 1 + len(msg); n > s.clearLen {
		s.clearLen = n
	}
}

func (s *progressSpinner) Stop() {
	s.done.Store(true)
	<-s.stopped
	if isTTY() {
		s.mu.Lock()
		n := s.clearLen
		s.mu.Unlock()
		fmt.Fprint(s.w, "\r"+strings.Repeat(" ", n+spinnerClearPad)+"\r")
	}
}
