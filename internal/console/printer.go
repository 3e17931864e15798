package console

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/luma/tcpserial/events"
)

// Printer writes events and messages for a person watching a terminal.
// Colours are only used when the output is a terminal.
type Printer struct {
	mu sync.Mutex
	w  io.Writer

	rx   *color.Color
	nak  *color.Color
	info *color.Color
	err  *color.Color
}

func NewPrinter(w io.Writer) *Printer {
	colored := false
	if f, ok := w.(*os.File); ok {
		colored = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}

	return newPrinter(w, colored)
}

// NewPlainPrinter never colours its output.
func NewPlainPrinter(w io.Writer) *Printer {
	return newPrinter(w, false)
}

func newPrinter(w io.Writer, colored bool) *Printer {
	p := &Printer{
		w:    w,
		rx:   color.New(color.FgGreen),
		nak:  color.New(color.FgRed, color.Bold),
		info: color.New(color.FgCyan),
		err:  color.New(color.FgYellow),
	}

	for _, c := range []*color.Color{p.rx, p.nak, p.info, p.err} {
		if colored {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}

	return p
}

// Event prints e. WhoAmI and request events are not shown.
func (p *Printer) Event(e events.Event) {
	switch e.Kind {
	case events.Received:
		p.print(p.rx, "RX%s: %s", source(e.ClientID), e.Line)

	case events.Nak:
		p.print(p.nak, "NAK%s: %s", source(e.ClientID), e.Line)

	case events.Connected:
		if e.ClientID > 0 {
			p.print(p.info, "Client #%d connected from %s", e.ClientID, e.Line)
		} else {
			p.print(p.info, "Connected to %s", e.Line)
		}

	case events.Disconnected:
		if e.ClientID > 0 {
			p.print(p.info, "Client #%d disconnected", e.ClientID)
		} else {
			p.print(p.info, "Disconnected")
		}

	case events.Identified:
		if e.ClientID == -1 {
			p.print(p.err, "Server sent an unreadable id: %s", e.Line)
		} else {
			p.print(p.info, "We are client #%d", e.ClientID)
		}

	case events.Reset:
		p.print(p.info, "RESET%s", source(e.ClientID))
	}
}

func (p *Printer) Infof(format string, args ...interface{}) {
	p.print(p.info, format, args...)
}

func (p *Printer) Errorf(format string, args ...interface{}) {
	p.print(p.err, format, args...)
}

func (p *Printer) print(c *color.Color, format string, args ...interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, _ = c.Fprintln(p.w, fmt.Sprintf(format, args...))
}

func source(clientID int) string {
	if clientID > 0 {
		return fmt.Sprintf(" [%d]", clientID)
	}

	return ""
}
