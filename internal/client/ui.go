package client

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/schollz/progressbar/v3"
	"github.com/skip2/go-qrcode"

	"nudge/internal/constants"
)

var (
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color(constants.ColorDim))
	cyanStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color(constants.ColorCyan))
	greenStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color(constants.ColorGreen)).Bold(true)
	yellowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(constants.ColorYellow)).Bold(true)
	redStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color(constants.ColorRed)).Bold(true)
	purpleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(constants.ColorPurple))
	boldStyle   = lipgloss.NewStyle().Bold(true)
)

// UI writes the human-facing status lines of a transfer.
type UI struct {
	out io.Writer
	in  *bufio.Reader
}

func NewUI(out io.Writer, in io.Reader) *UI {
	if out == nil {
		out = io.Discard
	}
	u := &UI{out: out}
	if in != nil {
		u.in = bufio.NewReader(in)
	}
	return u
}

func (u *UI) Banner(subtitle string) {
	fmt.Fprintln(u.out)
	fmt.Fprintf(u.out, "  %s %s\n", cyanStyle.Bold(true).Render(constants.AppName), boldStyle.Render("v"+constants.Version))
	fmt.Fprintf(u.out, "  %s\n", dimStyle.Render(subtitle))
	fmt.Fprintln(u.out)
}

func (u *UI) Hint(text string) {
	fmt.Fprintf(u.out, "  %s\n", dimStyle.Render(text))
}

// Step marks work in progress.
func (u *UI) Step(text string) {
	fmt.Fprintf(u.out, "%s %s\n", yellowStyle.Render("[~]"), text)
}

func (u *UI) Success(text string) {
	fmt.Fprintf(u.out, "%s %s\n", greenStyle.Render("[✔]"), text)
}

func (u *UI) Fail(err error) {
	fmt.Fprintf(u.out, "%s %s\n", redStyle.Render("[✗]"), err)
}

func (u *UI) Field(label, value string) {
	fmt.Fprintf(u.out, "  %s %s\n", dimStyle.Render(fmt.Sprintf("%-10s", label)), value)
}

func (u *UI) Sep() {
	fmt.Fprintf(u.out, "  %s\n", dimStyle.Render(strings.Repeat("─", 50)))
}

func (u *UI) Cyan(s string) string   { return cyanStyle.Render(s) }
func (u *UI) Yellow(s string) string { return yellowStyle.Render(s) }
func (u *UI) Dim(s string) string    { return dimStyle.Render(s) }
func (u *UI) Purple(s string) string { return purpleStyle.Render(s) }

// QR prints content as a terminal QR code.
func (u *UI) QR(content string) error {
	q, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return fmt.Errorf("qr code: %w", err)
	}
	fmt.Fprintln(u.out, q.ToSmallString(false))
	return nil
}

// Confirm asks a yes/no question. Anything but y or yes, including a closed
// input, is a no.
func (u *UI) Confirm(prompt string) bool {
	if u.in == nil {
		return false
	}
	fmt.Fprintf(u.out, "%s %s %s ", yellowStyle.Render("[?]"), prompt, dimStyle.Render("[y/N]"))
	answer, err := u.in.ReadString('\n')
	if err != nil && answer == "" {
		fmt.Fprintln(u.out)
		return false
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}

// Progress returns a byte progress bar for a transfer of total bytes.
func (u *UI) Progress(total uint64, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(int64(total),
		progressbar.OptionSetWriter(u.out),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(u.out) }),
	)
}
