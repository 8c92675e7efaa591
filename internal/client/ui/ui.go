// Package ui is the full-screen terminal front-end of the relay client.
package ui

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jroimartin/gocui"

	"github.com/omochice/clinical-relay/internal/client"
)

const (
	messagesView = "messages"
	statusView   = "status"
	inputView    = "input"
)

// UI shows the conversation above a one-line input field.
type UI struct {
	gui      *gocui.Gui
	session  *client.Session
	username string
}

// New creates the terminal UI for c. Close must be called to restore the
// terminal.
func New(c client.Client, username string) (*UI, error) {
	g, err := gocui.NewGui(gocui.OutputNormal)
	if err != nil {
		return nil, err
	}

	ui := &UI{gui: g, username: username}
	ui.session = client.NewSession(c, ui.print)
	g.Cursor = true
	g.SetManagerFunc(ui.layout)
	return ui, nil
}

func (ui *UI) layout(g *gocui.Gui) error {
	maxX, maxY := g.Size()
	msgHeight := maxY - 6

	if v, err := g.SetView(messagesView, 0, 0, maxX-1, msgHeight); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Messages"
		v.Wrap = true
		v.Autoscroll = true
	}

	if v, err := g.SetView(statusView, 0, msgHeight+1, maxX-1, msgHeight+3); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Status"
		fmt.Fprintf(v, "Logged in as %s | /fhir <json> sends a document | /q or Ctrl-C quits", ui.username)
	}

	if v, err := g.SetView(inputView, 0, msgHeight+3, maxX-1, maxY-1); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = ui.username + ">"
		v.Editable = true
		v.Wrap = true

		if _, err := g.SetCurrentView(inputView); err != nil {
			return err
		}
	}

	return nil
}

func (ui *UI) keybindings() error {
	if err := ui.gui.SetKeybinding("", gocui.KeyCtrlC, gocui.ModNone,
		func(_ *gocui.Gui, _ *gocui.View) error {
			return gocui.ErrQuit
		}); err != nil {
		return err
	}

	return ui.gui.SetKeybinding(inputView, gocui.KeyEnter, gocui.ModNone, ui.handleInput)
}

func (ui *UI) handleInput(_ *gocui.Gui, v *gocui.View) error {
	line := strings.TrimRight(v.Buffer(), "\n")
	v.Clear()
	_ = v.SetCursor(0, 0)

	if err := ui.session.HandleLine(line); err != nil {
		if errors.Is(err, client.ErrQuit) {
			return gocui.ErrQuit
		}
		ui.print(fmt.Sprintf("Failed to send: %v", err))
	}
	return nil
}

// print appends line to the message view. Safe for use from any goroutine.
func (ui *UI) print(line string) {
	ui.gui.Update(func(g *gocui.Gui) error {
		v, err := g.View(messagesView)
		if err != nil {
			return err
		}
		fmt.Fprintln(v, line)
		return nil
	})
}

// Run logs in and runs the UI until the user quits.
func (ui *UI) Run(password string) error {
	if err := ui.keybindings(); err != nil {
		return err
	}
	if err := ui.session.Login(ui.username, password); err != nil {
		return err
	}

	go func() {
		_ = ui.session.Receive()
	}()

	if err := ui.gui.MainLoop(); err != nil && err != gocui.ErrQuit {
		return err
	}
	return nil
}

// Close restores the terminal.
func (ui *UI) Close() {
	ui.gui.Close()
}
