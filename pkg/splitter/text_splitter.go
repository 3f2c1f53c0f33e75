// Package splitter shortens long documents at natural boundaries.
package splitter

import (
	"github.com/tmc/langchaingo/textsplitter"
)

// Clipper keeps the leading chunk of a document, cut at the last paragraph,
// line or word boundary that fits.
type Clipper struct {
	splitter textsplitter.RecursiveCharacter
	size     int
}

// NewClipper returns a Clipper for chunks of at most size runes.
func NewClipper(size int) *Clipper {
	return &Clipper{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(size),
			textsplitter.WithChunkOverlap(0),
		),
		size: size,
	}
}

// Head returns the leading chunk of text, never longer than the chunk size in
// runes. Text that already fits is returned unchanged.
func (c *Clipper) Head(text string) string {
	if len([]rune(text)) <= c.size {
		return text
	}

	head := ""
	if chunks, err := c.splitter.SplitText(text); err == nil && len(chunks) > 0 {
		head = chunks[0]
	}
	if head == "" {
		head = text
	}

	// A single separator-free run can exceed the chunk size.
	if r := []rune(head); len(r) > c.size {
		head = string(r[:c.size])
	}
	return head
}
