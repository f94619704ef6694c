package document

import "errors"

// ErrClosed is returned by mutating calls on a document that has been
// closed for writing.
var ErrClosed = errors.New("document closed")

// Mark is an inline formatting attribute applied to inserted text.
type Mark string

const (
	MarkBold   Mark = "bold"
	MarkItalic Mark = "italic"
	MarkStrike Mark = "strike"
	MarkCode   Mark = "code"
)

// ListKind distinguishes bulleted from ordered lists.
type ListKind string

const (
	ListBulleted ListKind = "bulleted"
	ListOrdered  ListKind = "ordered"
)

// Editor is the editing surface the streaming renderer drives. The renderer
// only ever appends at the cursor; marks toggled on stay active for
// subsequent inserts until toggled off again.
type Editor interface {
	// InsertText appends plain text at the cursor, carrying the active marks.
	InsertText(text string) error
	// InsertBlock appends text that opens a structural element when it names
	// one (heading or quote prefix at the start of an empty block); otherwise
	// it behaves like InsertText.
	InsertBlock(text string) error
	// InsertParagraph starts a new block: a sibling item inside a list, a
	// plain paragraph elsewhere.
	InsertParagraph() error

	ToggleMark(mark Mark) error
	MarkActive(mark Mark) bool

	ToggleCodeBlock() error
	InCodeBlock() bool

	ToggleList(kind ListKind) error
	SinkListItem() error
	LiftListItem() error

	// DeleteRange removes the rune range [from, to) measured over the
	// document's plain text, block boundaries counting as one newline.
	DeleteRange(from, to int) error

	// SetCursorEnd moves the cursor to the end of the document, optionally
	// requesting that the end be scrolled into view.
	SetCursorEnd(scrollIntoView bool) error
}
