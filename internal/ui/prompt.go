package ui

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// ErrNoInput is returned when the input stream ends before a line is read.
var ErrNoInput = errors.New("no input")

// Prompt reads one line of visible input after printing label.
func (u *UI) Prompt(label string) (string, error) {
	fmt.Fprintf(u.Out, "%s ", u.promptLabel(label))
	return readLine(u.reader())
}

// PromptSecret reads one line without echo when In is a terminal.
func (u *UI) PromptSecret(label string) (string, error) {
	fmt.Fprintf(u.Out, "%s ", u.promptLabel(label))
	if f, ok := u.In.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(u.Out)
		if err != nil {
			return "", fmt.Errorf("read secret: %w", err)
		}
		return string(b), nil
	}
	return readLine(u.reader())
}

// ReadLine reads one line of input without a prompt, as for --password-stdin.
func (u *UI) ReadLine() (string, error) {
	return readLine(u.reader())
}

func (u *UI) promptLabel(label string) string {
	if !u.shouldStyle() {
		return label + ":"
	}
	return lipgloss.NewStyle().Foreground(ColorPrimary).Bold(true).Render(label + ":")
}

// reader shares one buffered reader over In so successive prompts do not
// lose buffered input.
func (u *UI) reader() *bufio.Reader {
	if u.in == nil {
		r := u.In
		if r == nil {
			r = strings.NewReader("")
		}
		u.in = bufio.NewReader(r)
	}
	return u.in
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		if errors.Is(err, io.EOF) {
			return "", ErrNoInput
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
