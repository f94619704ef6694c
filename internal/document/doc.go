package document

import (
	"errors"
	"strings"
	"sync"
	"unicode/utf8"
)

// ListIndentUnit is the number of leading spaces that equal one list
// nesting level in streamed markdown. Serialization and marker detection
// both derive indentation from it.
const ListIndentUnit = 2

// BlockType labels the coarse structure of a document block.
type BlockType string

const (
	BlockParagraph BlockType = "paragraph"
	BlockHeading   BlockType = "heading"
	BlockQuote     BlockType = "quote"
	BlockCode      BlockType = "code_block"
	BlockListItem  BlockType = "list_item"
)

// Run is a span of text with a fixed set of inline marks.
type Run struct {
	Text  string `json:"text"`
	Marks []Mark `json:"marks,omitempty"`
}

// Block is one element of the flat document body. Level is set for
// headings, Kind and Depth for list items.
type Block struct {
	Type  BlockType `json:"type"`
	Level int       `json:"level,omitempty"`
	Kind  ListKind  `json:"kind,omitempty"`
	Depth int       `json:"depth,omitempty"`
	Runs  []Run     `json:"runs"`
}

// Doc is the in-memory Editor used for the server-side rendered copy of a
// generated document. It keeps a flat block list with an appending cursor
// and is safe for concurrent use.
type Doc struct {
	mu     sync.RWMutex
	blocks []Block
	active []Mark
	inCode bool
	closed bool
}

func NewDoc() *Doc {
	return &Doc{}
}

// Close makes the document read-only; subsequent mutations return ErrClosed.
func (d *Doc) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
}

func (d *Doc) InsertText(text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	d.appendRun(text)
	return nil
}

func (d *Doc) InsertBlock(text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if !d.inCode {
		blk := d.currentBlock()
		if blk.Type == BlockParagraph && len(blk.Runs) == 0 {
			if lvl := headingLevel(text); lvl > 0 {
				blk.Type = BlockHeading
				blk.Level = lvl
				d.appendRun(text[lvl+1:])
				return nil
			}
			if rest, ok := strings.CutPrefix(text, "> "); ok {
				blk.Type = BlockQuote
				d.appendRun(rest)
				return nil
			}
		}
	}
	d.appendRun(text)
	return nil
}

func (d *Doc) InsertParagraph() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if d.inCode {
		return errors.New("paragraph inside code block")
	}
	cur := d.currentBlock()
	next := Block{Type: BlockParagraph}
	if cur.Type == BlockListItem {
		next = Block{Type: BlockListItem, Kind: cur.Kind, Depth: cur.Depth}
	}
	d.blocks = append(d.blocks, next)
	return nil
}

func (d *Doc) ToggleMark(mark Mark) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	for i, m := range d.active {
		if m == mark {
			d.active = append(d.active[:i], d.active[i+1:]...)
			return nil
		}
	}
	d.active = append(d.active, mark)
	return nil
}

func (d *Doc) MarkActive(mark Mark) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, m := range d.active {
		if m == mark {
			return true
		}
	}
	return false
}

func (d *Doc) ToggleCodeBlock() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if d.inCode {
		d.inCode = false
		d.blocks = append(d.blocks, Block{Type: BlockParagraph})
		return nil
	}
	d.inCode = true
	blk := d.currentBlock()
	if blk.Type == BlockParagraph && len(blk.Runs) == 0 {
		blk.Type = BlockCode
		return nil
	}
	d.blocks = append(d.blocks, Block{Type: BlockCode})
	return nil
}

func (d *Doc) InCodeBlock() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.inCode
}

func (d *Doc) ToggleList(kind ListKind) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	blk := d.currentBlock()
	if blk.Type == BlockListItem {
		if blk.Kind == kind {
			blk.Type = BlockParagraph
			blk.Kind = ""
			blk.Depth = 0
			return nil
		}
		blk.Kind = kind
		return nil
	}
	if blk.Type == BlockParagraph && len(blk.Runs) == 0 {
		blk.Type = BlockListItem
		blk.Kind = kind
		blk.Depth = 1
		return nil
	}
	d.blocks = append(d.blocks, Block{Type: BlockListItem, Kind: kind, Depth: 1})
	return nil
}

func (d *Doc) SinkListItem() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	blk := d.currentBlock()
	if blk.Type != BlockListItem {
		return errors.New("sink outside list item")
	}
	blk.Depth++
	return nil
}

func (d *Doc) LiftListItem() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	blk := d.currentBlock()
	if blk.Type != BlockListItem {
		return errors.New("lift outside list item")
	}
	if blk.Depth <= 1 {
		blk.Type = BlockParagraph
		blk.Kind = ""
		blk.Depth = 0
		return nil
	}
	blk.Depth--
	return nil
}

// DeleteRange removes the rune range [from, to) over the document's plain
// text, block boundaries counting as one newline. Deleting a boundary merges
// the adjacent blocks.
func (d *Doc) DeleteRange(from, to int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if from < 0 || to < from {
		return errors.New("invalid range")
	}
	if from == to {
		return nil
	}
	var out []Block
	pos := 0
	mergeNext := false
	for i := range d.blocks {
		blk := d.blocks[i]
		kept := keptRuns(blk.Runs, pos, from, to)
		pos += runsLen(blk.Runs)
		boundaryDeleted := false
		if i < len(d.blocks)-1 {
			if pos >= from && pos < to {
				boundaryDeleted = true
			}
			pos++
		}
		if mergeNext && len(out) > 0 {
			last := &out[len(out)-1]
			for _, r := range kept {
				last.Runs = appendRunMerged(last.Runs, r)
			}
		} else {
			nb := blk
			nb.Runs = kept
			out = append(out, nb)
		}
		mergeNext = boundaryDeleted
	}
	d.blocks = out
	return nil
}

func (d *Doc) SetCursorEnd(scrollIntoView bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	return nil
}

// Blocks returns a deep copy of the document body.
func (d *Doc) Blocks() []Block {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Block, len(d.blocks))
	for i, b := range d.blocks {
		nb := b
		nb.Runs = make([]Run, len(b.Runs))
		for j, r := range b.Runs {
			nr := r
			if len(r.Marks) > 0 {
				nr.Marks = append([]Mark(nil), r.Marks...)
			}
			nb.Runs[j] = nr
		}
		out[i] = nb
	}
	return out
}

func (d *Doc) currentBlock() *Block {
	if len(d.blocks) == 0 {
		d.blocks = append(d.blocks, Block{Type: BlockParagraph})
	}
	return &d.blocks[len(d.blocks)-1]
}

func (d *Doc) appendRun(text string) {
	if text == "" {
		return
	}
	blk := d.currentBlock()
	blk.Runs = appendRunMerged(blk.Runs, Run{Text: text, Marks: d.activeMarks()})
}

// activeMarks snapshots the toggled marks; code blocks carry none.
func (d *Doc) activeMarks() []Mark {
	if d.inCode || len(d.active) == 0 {
		return nil
	}
	return append([]Mark(nil), d.active...)
}

func appendRunMerged(runs []Run, r Run) []Run {
	if r.Text == "" {
		return runs
	}
	if n := len(runs); n > 0 && sameMarks(runs[n-1].Marks, r.Marks) {
		runs[n-1].Text += r.Text
		return runs
	}
	return append(runs, r)
}

func sameMarks(a, b []Mark) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func headingLevel(text string) int {
	i := 0
	for i < len(text) && text[i] == '#' {
		i++
	}
	if i == 0 || i > 6 || i >= len(text) || text[i] != ' ' {
		return 0
	}
	return i
}

func runsLen(runs []Run) int {
	n := 0
	for _, r := range runs {
		n += utf8.RuneCountInString(r.Text)
	}
	return n
}

// keptRuns returns the runs of a block starting at rune offset bStart with
// the range [from, to) removed, merging adjacent runs that end up with the
// same marks.
func keptRuns(runs []Run, bStart, from, to int) []Run {
	var out []Run
	pos := bStart
	for _, r := range runs {
		chars := []rune(r.Text)
		rStart, rEnd := pos, pos+len(chars)
		pos = rEnd
		if rEnd <= from || rStart >= to {
			out = appendRunMerged(out, Run{Text: r.Text, Marks: r.Marks})
			continue
		}
		if from > rStart {
			out = appendRunMerged(out, Run{Text: string(chars[:from-rStart]), Marks: r.Marks})
		}
		if to < rEnd {
			out = appendRunMerged(out, Run{Text: string(chars[to-rStart:]), Marks: r.Marks})
		}
	}
	return out
}
