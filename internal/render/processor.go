// Package render turns a stream of markdown fragments into editing
// operations on a document. Fragments may split tokens, delimiters, and
// markers at arbitrary byte positions; the processor buffers just enough to
// act only on input whose meaning can no longer change.
package render

import (
	"errors"
	"strings"

	"github.com/okempf/inkstream/internal/document"
)

// Closing tag some models append to generated answers, in raw and
// HTML-entity-escaped form. Neither may ever reach the document.
const (
	sentinelRaw     = "</answer>"
	sentinelEscaped = "&lt;/answer&gt;"
)

var errNoEditor = errors.New("no editor bound")

var markPatterns = []struct {
	token string
	mark  document.Mark
}{
	{"**", document.MarkBold},
	{"~~", document.MarkStrike},
	{"`", document.MarkCode},
	{"*", document.MarkItalic},
}

// Processor is the incremental markdown transducer. One processor renders
// one turn at a time; Reset prepares it for the next turn without touching
// the document it rendered into.
type Processor struct {
	editor document.Editor

	pending        string
	lineStart      bool
	inCode         bool
	codeBlockStart bool
	inList         bool
	listOrdered    bool
	listDepth      int
	ended          bool
	dirty          bool
}

func New(editor document.Editor) *Processor {
	return &Processor{editor: editor, lineStart: true}
}

// SetEditor rebinds the processor to a document, typically at turn start.
func (p *Processor) SetEditor(editor document.Editor) {
	p.editor = editor
}

// Reset clears parse state for a new turn. The document is left as is.
func (p *Processor) Reset() {
	p.pending = ""
	p.lineStart = true
	p.inCode = false
	p.codeBlockStart = false
	p.inList = false
	p.listOrdered = false
	p.listDepth = 0
	p.ended = false
	p.dirty = false
}

// Ended reports whether the closing sentinel has been seen; further input
// is dropped until Reset.
func (p *Processor) Ended() bool {
	return p.ended
}

// Process consumes one fragment. An error means a document operation was
// refused; the failing line is dropped and the processor stays usable for
// the next fragment.
func (p *Processor) Process(token string) error {
	if p.editor == nil {
		return errNoEditor
	}
	if p.ended {
		return nil
	}
	p.pending += token

	if idx := sentinelIndex(p.pending); idx >= 0 {
		p.pending = p.pending[:idx]
		p.ended = true
	}
	var held string
	if !p.ended {
		if n := sentinelHold(p.pending); n > 0 {
			held = p.pending[len(p.pending)-n:]
			p.pending = p.pending[:len(p.pending)-n]
		}
	}

	err := p.drain()
	p.pending += held

	if p.dirty {
		p.dirty = false
		if cursorErr := p.editor.SetCursorEnd(true); cursorErr != nil && err == nil {
			err = cursorErr
		}
	}
	return err
}

// EnterNewLine handles a line break: a literal newline inside a code block
// (suppressed while the block is still empty), a paragraph break outside
// (collapsed when already at line start).
func (p *Processor) EnterNewLine() error {
	if p.editor == nil {
		return errNoEditor
	}
	if p.inCode {
		if p.codeBlockStart {
			return nil
		}
		if err := p.editor.InsertText("\n"); err != nil {
			return err
		}
		p.lineStart = true
		p.dirty = true
		return nil
	}
	if p.lineStart {
		return nil
	}
	if err := p.editor.InsertParagraph(); err != nil {
		return err
	}
	p.lineStart = true
	p.dirty = true
	return nil
}

// drain renders complete lines and any unambiguous trailing chunk, leaving
// ambiguous text pending.
func (p *Processor) drain() error {
	for p.pending != "" {
		nl := strings.IndexByte(p.pending, '\n')
		if nl < 0 {
			if p.holdForMore() {
				return nil
			}
			chunk := p.pending
			p.pending = ""
			return p.renderChunk(chunk)
		}
		line := p.pending[:nl]
		p.pending = p.pending[nl+1:]
		if line != "" {
			if err := p.renderChunk(line); err != nil {
				return err
			}
		}
		if err := p.EnterNewLine(); err != nil {
			return err
		}
	}
	return nil
}

// holdForMore reports whether the newline-free pending text is still
// ambiguous: nothing but whitespace and structural prefix runes, a bare
// ordered-list marker prefix, or an unterminated fence line.
func (p *Processor) holdForMore() bool {
	if structuralPrefixOnly(p.pending) {
		return true
	}
	if orderedMarkerPrefix(p.pending) {
		return true
	}
	if p.lineStart && !p.inCode && strings.HasPrefix(p.pending, "```") {
		return true
	}
	return false
}

func (p *Processor) renderChunk(chunk string) error {
	if p.inCode {
		if p.lineStart && strings.TrimRight(chunk, " \t") == "```" {
			return p.closeCodeBlock()
		}
		if err := p.editor.InsertText(chunk); err != nil {
			return err
		}
		p.codeBlockStart = false
		p.lineStart = false
		p.dirty = true
		return nil
	}
	if p.lineStart {
		if marker, ok := parseListMarker(chunk); ok {
			if err := p.applyListMarker(marker); err != nil {
				return err
			}
			return p.renderInline(marker.rest)
		}
		if p.inList {
			if err := p.leaveList(); err != nil {
				return err
			}
		}
		if strings.HasPrefix(chunk, "```") {
			return p.openCodeBlock()
		}
		if prefix := structuralPrefix(chunk); prefix != "" {
			if err := p.editor.InsertBlock(prefix); err != nil {
				return err
			}
			p.lineStart = false
			p.dirty = true
			chunk = chunk[len(prefix):]
		}
	}
	return p.renderInline(chunk)
}

// renderInline splits the chunk around inline delimiters, toggling the
// corresponding marks. Earliest occurrence wins; at the same index the more
// specific pattern does.
func (p *Processor) renderInline(text string) error {
	for text != "" {
		idx, pat := nextDelimiter(text)
		if idx < 0 {
			return p.insert(text)
		}
		if idx > 0 {
			if err := p.insert(text[:idx]); err != nil {
				return err
			}
		}
		if err := p.editor.ToggleMark(markPatterns[pat].mark); err != nil {
			return err
		}
		text = text[idx+len(markPatterns[pat].token):]
	}
	return nil
}

func (p *Processor) insert(text string) error {
	if text == "" {
		return nil
	}
	if err := p.editor.InsertText(text); err != nil {
		return err
	}
	p.lineStart = false
	p.dirty = true
	return nil
}

func (p *Processor) openCodeBlock() error {
	// the fence line, language tag included, never reaches the document
	if err := p.editor.ToggleCodeBlock(); err != nil {
		return err
	}
	p.inCode = true
	p.codeBlockStart = true
	p.lineStart = true
	p.dirty = true
	return nil
}

func (p *Processor) closeCodeBlock() error {
	if err := p.editor.ToggleCodeBlock(); err != nil {
		return err
	}
	p.inCode = false
	p.codeBlockStart = false
	p.lineStart = true
	p.dirty = true
	return nil
}

type listMarker struct {
	ordered bool
	depth   int
	rest    string
}

// parseListMarker recognizes "- ", "* " and "N. " items, leading
// indentation setting the nesting depth.
func parseListMarker(line string) (listMarker, bool) {
	indent := 0
	for indent < len(line) && line[indent] == ' ' {
		indent++
	}
	rest := line[indent:]
	depth := indent/document.ListIndentUnit + 1
	if strings.HasPrefix(rest, "- ") || strings.HasPrefix(rest, "* ") {
		return listMarker{ordered: false, depth: depth, rest: rest[2:]}, true
	}
	digits := 0
	for digits < len(rest) && rest[digits] >= '0' && rest[digits] <= '9' {
		digits++
	}
	if digits > 0 && digits+1 < len(rest) && rest[digits] == '.' && rest[digits+1] == ' ' {
		return listMarker{ordered: true, depth: depth, rest: rest[digits+2:]}, true
	}
	return listMarker{}, false
}

func (p *Processor) applyListMarker(m listMarker) error {
	kind := document.ListBulleted
	if m.ordered {
		kind = document.ListOrdered
	}
	if !p.inList {
		if err := p.editor.ToggleList(kind); err != nil {
			return err
		}
		p.inList = true
		p.listDepth = 1
		p.listOrdered = m.ordered
	} else if m.ordered != p.listOrdered {
		if err := p.editor.ToggleList(kind); err != nil {
			return err
		}
		p.listOrdered = m.ordered
	}
	for p.listDepth < m.depth {
		if err := p.editor.SinkListItem(); err != nil {
			return err
		}
		p.listDepth++
	}
	for p.listDepth > m.depth {
		if err := p.editor.LiftListItem(); err != nil {
			return err
		}
		p.listDepth--
	}
	p.lineStart = false
	p.dirty = true
	return nil
}

// leaveList lifts back out to a paragraph; the lift at depth one converts
// the current empty item.
func (p *Processor) leaveList() error {
	for p.listDepth > 1 {
		if err := p.editor.LiftListItem(); err != nil {
			return err
		}
		p.listDepth--
	}
	if err := p.editor.LiftListItem(); err != nil {
		return err
	}
	p.inList = false
	p.listOrdered = false
	p.listDepth = 0
	p.dirty = true
	return nil
}

func structuralPrefix(s string) string {
	if strings.HasPrefix(s, "> ") {
		return "> "
	}
	hashes := 0
	for hashes < len(s) && s[hashes] == '#' {
		hashes++
	}
	if hashes >= 1 && hashes <= 6 && hashes < len(s) && s[hashes] == ' ' {
		return s[:hashes+1]
	}
	return ""
}

// structuralPrefixOnly reports text made solely of runes that could still
// grow into a marker, fence, heading or quote prefix.
func structuralPrefixOnly(s string) bool {
	for _, r := range s {
		switch r {
		case ' ', '\t', '-', '*', '#', '>', '`', '~':
		default:
			return false
		}
	}
	return true
}

// orderedMarkerPrefix reports leading spaces, digits, and at most one
// trailing dot: the start of an "N. " item that is not yet confirmed.
func orderedMarkerPrefix(s string) bool {
	i := 0
	for i < len(s) && s[i] == ' ' {
		i++
	}
	start := i
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == start {
		return false
	}
	if i == len(s) {
		return true
	}
	return s[i] == '.' && i+1 == len(s)
}

func nextDelimiter(s string) (int, int) {
	idx, pat := -1, -1
	for i, candidate := range markPatterns {
		at := strings.Index(s, candidate.token)
		if at < 0 {
			continue
		}
		if idx < 0 || at < idx {
			idx, pat = at, i
		}
	}
	return idx, pat
}

// sentinelIndex returns the earliest complete sentinel occurrence, raw or
// escaped, or -1.
func sentinelIndex(s string) int {
	idx := -1
	for _, sentinel := range []string{sentinelRaw, sentinelEscaped} {
		if at := strings.Index(s, sentinel); at >= 0 && (idx < 0 || at < idx) {
			idx = at
		}
	}
	return idx
}

// sentinelHold returns the length of the longest trailing text that is a
// proper prefix of either sentinel form and must wait for more input.
func sentinelHold(s string) int {
	held := 0
	for _, sentinel := range []string{sentinelRaw, sentinelEscaped} {
		limit := len(sentinel) - 1
		if len(s) < limit {
			limit = len(s)
		}
		for n := limit; n > held; n-- {
			if strings.HasSuffix(s, sentinel[:n]) {
				held = n
				break
			}
		}
	}
	return held
}
