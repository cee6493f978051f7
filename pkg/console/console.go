// Package console is the operator menu of a LIN node: one key per role,
// read a byte at a time from any reader.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/roffe/golin"
)

const Header = "-- LIN Example --\r\n" +
	"-- golin --\r\n"

const Menu = "\n\rMenu :\n\r" +
	"------\n\r" +
	"  Set LIN node property:\r\n" +
	"  -------------------------------------------\n\r" +
	"  m: Set LIN node as Master PUBLISH \n\r" +
	"  r: Set LIN node as Master SUBSCRIBER \n\r" +
	"  s: Set LIN node as Slave SUBSCRIBER \n\r" +
	"  p: Set LIN node as Slave PUBLISH \n\r" +
	"  h: Display menu \n\r" +
	"------\n\r\r\n"

const Prompt = "Press 'h' or 'H' to display the main menu again!!\r\n"

var announce = map[golin.Role]string{
	golin.MasterPublish:   "-- Set LIN to Master mode\n\r",
	golin.MasterSubscribe: "-- Set LIN to Master SUBSCRIBE mode\n\r",
	golin.SlaveSubscribe:  "-- Set LIN to Slave SUBSCRIBE mode\n\r",
	golin.SlavePublish:    "-- Set LIN to Slave PUBLISH mode\n\r",
}

// Selector applies a role, *golin.Node satisfies it.
type Selector interface {
	SelectRole(golin.Role) error
}

type Console struct {
	sel Selector
	out io.Writer
	// OnError is called when the selector rejects a role, defaults to
	// printing the error.
	OnError func(error)
}

func New(sel Selector, out io.Writer) *Console {
	c := &Console{
		sel: sel,
		out: out,
	}
	c.OnError = func(err error) {
		fmt.Fprintf(c.out, "error: %v\r\n", err)
	}
	return c
}

// HandleKey acts on one key. Line endings and blanks are skipped, every other
// key ends with the prompt, whether it did anything or not.
func (c *Console) HandleKey(key byte) {
	switch key {
	case '\r', '\n', ' ', '\t':
		return
	case 'h', 'H':
		io.WriteString(c.out, Menu)
	default:
		if r, ok := golin.ParseRole(key); ok {
			io.WriteString(c.out, announce[r])
			if err := c.sel.SelectRole(r); err != nil {
				c.OnError(err)
			}
		}
	}
	io.WriteString(c.out, Prompt)
}

// Run prints the header and menu then handles keys from in until it is
// exhausted or ctx is done.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	io.WriteString(c.out, Header)
	io.WriteString(c.out, Menu)

	keys := make(chan byte)
	errChan := make(chan error, 1)
	go func() {
		br := bufio.NewReader(in)
		for {
			b, err := br.ReadByte()
			if err != nil {
				errChan <- err
				return
			}
			select {
			case keys <- b:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errChan:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		case b := <-keys:
			c.HandleKey(b)
		}
	}
}
