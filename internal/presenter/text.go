// Package presenter renders workflow views for a terminal.
package presenter

import (
	"fmt"
	"io"
	"sync"

	"github.com/book-expert/image-audio/internal/workflow"
)

// Text writes one line per visible change of the status line or audio URL.
type Text struct {
	out      io.Writer
	lastText string
	lastURL  string
	mu       sync.Mutex
}

// NewText creates a Text presenter writing to out.
func NewText(out io.Writer) *Text {
	return &Text{out: out, lastText: "", lastURL: ""}
}

// Render is a workflow.Listener.
func (p *Text) Render(view workflow.View) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if view.ShowStatus && view.StatusText != p.lastText {
		_, _ = fmt.Fprintln(p.out, view.StatusText)
	}

	if view.AudioURL != "" && view.AudioURL != p.lastURL {
		_, _ = fmt.Fprintf(p.out, "Audio: %s\n", view.AudioURL)
	}

	if view.ShowStatus {
		p.lastText = view.StatusText
	} else {
		p.lastText = ""
	}

	p.lastURL = view.AudioURL
}
