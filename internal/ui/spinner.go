package ui

import (
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Spinner shows that a request to the engine is outstanding.
type Spinner struct {
	ui      *UI
	label   string
	done    chan struct{}
	wg      sync.WaitGroup
	started time.Time
	running bool
	mu      sync.Mutex
}

// Spinner animation frames (braille pattern).
var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// NewSpinner creates a new animated spinner.
func (u *UI) NewSpinner(label string) *Spinner {
	return &Spinner{
		ui:    u,
		label: label,
		done:  make(chan struct{}),
	}
}

// Start begins the spinner animation.
func (s *Spinner) Start() *Spinner {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return s
	}
	s.running = true
	s.started = time.Now()
	s.mu.Unlock()

	if !s.ui.shouldStyle() {
		// Non-TTY: just print the message once
		fmt.Fprintf(s.ui.Out, "%s...", s.label)
		return s
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		frame := 0
		spinnerStyle := lipgloss.NewStyle().Foreground(ColorPrimary)

		ticker := time.NewTicker(80 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				fmt.Fprintf(s.ui.Out, "\r%s %s... %s",
					spinnerStyle.Render(spinnerFrames[frame]),
					s.label,
					StyleMuted.Render(time.Since(s.started).Truncate(100*time.Millisecond).String()),
				)
				frame = (frame + 1) % len(spinnerFrames)
			}
		}
	}()
	return s
}

// halt stops the animation once. It reports false if the spinner never ran.
func (s *Spinner) halt() bool {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return false
	}
	s.running = false
	s.mu.Unlock()

	close(s.done)
	s.wg.Wait()
	return true
}

// Stop stops the spinner without showing a final status.
func (s *Spinner) Stop() {
	if !s.halt() {
		return
	}
	if s.ui.shouldStyle() {
		fmt.Fprint(s.ui.Out, "\r\033[K")
	} else {
		fmt.Fprintln(s.ui.Out)
	}
}

// Success stops the spinner and shows a success message.
func (s *Spinner) Success(msg string) {
	s.finish(StyleSuccess.Render(SymbolSuccess), lipgloss.NewStyle(), msg)
}

// Warning stops the spinner and shows a message that needs attention but is
// not a failure, such as a step-up request.
func (s *Spinner) Warning(msg string) {
	s.finish(StyleWarning.Render(SymbolWarning), StyleWarning, msg)
}

// Error stops the spinner and shows an error message.
func (s *Spinner) Error(msg string) {
	s.finish(StyleError.Render(SymbolError), StyleError, msg)
}

func (s *Spinner) finish(symbol string, style lipgloss.Style, msg string) {
	if !s.halt() {
		return
	}
	if !s.ui.shouldStyle() {
		fmt.Fprintf(s.ui.Out, " %s\n", msg)
		return
	}
	fmt.Fprintf(s.ui.Out, "\r\033[K%s %s... %s\n", symbol, s.label, style.Render(msg))
}
