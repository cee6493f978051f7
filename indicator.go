package golin

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"
)

// Indicator is an observable on/off output such as a board LED.
// Toggle is called from interrupt context and must not block.
type Indicator interface {
	Toggle()
}

// IndicatorFunc adapts a plain function to an Indicator.
type IndicatorFunc func()

func (f IndicatorFunc) Toggle() { f() }

type nopIndicator struct{}

func (nopIndicator) Toggle() {}

// LED renders an indicator on a terminal.
type LED struct {
	name    string
	out     io.Writer
	on      *color.Color
	off     *color.Color
	mu      sync.Mutex
	state   bool
	toggles uint64
}

// NewLED creates a LED writing its state changes to out. A nil writer keeps the
// LED silent, state and toggle count are still tracked. Toggle writes to out
// synchronously, use an OutputQueue for terminals and other slow writers.
func NewLED(name string, out io.Writer, attr color.Attribute) *LED {
	return &LED{
		name: name,
		out:  out,
		on:   color.New(attr, color.Bold),
		off:  color.New(color.FgHiBlack),
	}
}

func (l *LED) Toggle() {
	l.mu.Lock()
	l.state = !l.state
	l.toggles++
	state := l.state
	l.mu.Unlock()
	if l.out == nil {
		return
	}
	if state {
		fmt.Fprintf(l.out, "%s %s\n", l.name, l.on.Sprint("●"))
		return
	}
	fmt.Fprintf(l.out, "%s %s\n", l.name, l.off.Sprint("○"))
}

func (l *LED) State() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *LED) Toggles() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.toggles
}

func (l *LED) Name() string {
	return l.name
}
