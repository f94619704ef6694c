package document

import (
	"errors"
	"testing"
)

func TestInsertBlockConvertsHeadingPrefix(t *testing.T) {
	doc := NewDoc()
	if err := doc.InsertBlock("## "); err != nil {
		t.Fatalf("InsertBlock() error = %v", err)
	}
	if err := doc.InsertText("Release notes"); err != nil {
		t.Fatalf("InsertText() error = %v", err)
	}

	blocks := doc.Blocks()
	if len(blocks) != 1 {
		t.Fatalf("len(blocks) = %d, want 1", len(blocks))
	}
	if blocks[0].Type != BlockHeading || blocks[0].Level != 2 {
		t.Fatalf("block = %+v, want level-2 heading", blocks[0])
	}
	if got := doc.Markdown(); got != "## Release notes\n" {
		t.Fatalf("Markdown() = %q, want %q", got, "## Release notes\n")
	}
}

func TestInsertBlockConvertsQuotePrefix(t *testing.T) {
	doc := NewDoc()
	if err := doc.InsertBlock("> "); err != nil {
		t.Fatalf("InsertBlock() error = %v", err)
	}
	if err := doc.InsertText("ship it"); err != nil {
		t.Fatalf("InsertText() error = %v", err)
	}

	blocks := doc.Blocks()
	if blocks[0].Type != BlockQuote {
		t.Fatalf("block type = %q, want %q", blocks[0].Type, BlockQuote)
	}
	if got := doc.Markdown(); got != "> ship it\n" {
		t.Fatalf("Markdown() = %q, want %q", got, "> ship it\n")
	}
}

func TestInsertBlockIgnoresPrefixMidParagraph(t *testing.T) {
	doc := NewDoc()
	if err := doc.InsertText("scores: "); err != nil {
		t.Fatalf("InsertText() error = %v", err)
	}
	if err := doc.InsertBlock("# "); err != nil {
		t.Fatalf("InsertBlock() error = %v", err)
	}

	blocks := doc.Blocks()
	if blocks[0].Type != BlockParagraph {
		t.Fatalf("block type = %q, want paragraph", blocks[0].Type)
	}
	if blocks[0].Runs[0].Text != "scores: # " {
		t.Fatalf("run text = %q, want %q", blocks[0].Runs[0].Text, "scores: # ")
	}
}

func TestToggleMarkSplitsRuns(t *testing.T) {
	doc := NewDoc()
	if err := doc.InsertText("plain "); err != nil {
		t.Fatalf("InsertText() error = %v", err)
	}
	if err := doc.ToggleMark(MarkBold); err != nil {
		t.Fatalf("ToggleMark() error = %v", err)
	}
	if !doc.MarkActive(MarkBold) {
		t.Fatalf("MarkActive(bold) = false after toggle on")
	}
	if err := doc.InsertText("bold"); err != nil {
		t.Fatalf("InsertText() error = %v", err)
	}
	if err := doc.ToggleMark(MarkBold); err != nil {
		t.Fatalf("ToggleMark() error = %v", err)
	}
	if doc.MarkActive(MarkBold) {
		t.Fatalf("MarkActive(bold) = true after toggle off")
	}
	if err := doc.InsertText(" tail"); err != nil {
		t.Fatalf("InsertText() error = %v", err)
	}

	runs := doc.Blocks()[0].Runs
	if len(runs) != 3 {
		t.Fatalf("len(runs) = %d, want 3: %+v", len(runs), runs)
	}
	if runs[1].Text != "bold" || len(runs[1].Marks) != 1 || runs[1].Marks[0] != MarkBold {
		t.Fatalf("middle run = %+v, want bold %q", runs[1], "bold")
	}
	if got := doc.Markdown(); got != "plain **bold** tail\n" {
		t.Fatalf("Markdown() = %q, want %q", got, "plain **bold** tail\n")
	}
}

func TestAdjacentRunsWithSameMarksMerge(t *testing.T) {
	doc := NewDoc()
	for _, piece := range []string{"one ", "two ", "three"} {
		if err := doc.InsertText(piece); err != nil {
			t.Fatalf("InsertText(%q) error = %v", piece, err)
		}
	}

	runs := doc.Blocks()[0].Runs
	if len(runs) != 1 {
		t.Fatalf("len(runs) = %d, want 1 merged run", len(runs))
	}
	if runs[0].Text != "one two three" {
		t.Fatalf("run text = %q, want %q", runs[0].Text, "one two three")
	}
}

func TestCodeBlockLifecycle(t *testing.T) {
	doc := NewDoc()
	if err := doc.ToggleCodeBlock(); err != nil {
		t.Fatalf("ToggleCodeBlock() error = %v", err)
	}
	if !doc.InCodeBlock() {
		t.Fatalf("InCodeBlock() = false after open")
	}
	if err := doc.InsertText("x := 1"); err != nil {
		t.Fatalf("InsertText() error = %v", err)
	}
	if err := doc.InsertText("\n"); err != nil {
		t.Fatalf("InsertText() error = %v", err)
	}
	if err := doc.InsertText("y := 2"); err != nil {
		t.Fatalf("InsertText() error = %v", err)
	}
	if err := doc.ToggleCodeBlock(); err != nil {
		t.Fatalf("ToggleCodeBlock() error = %v", err)
	}
	if doc.InCodeBlock() {
		t.Fatalf("InCodeBlock() = true after close")
	}
	if err := doc.InsertText("after"); err != nil {
		t.Fatalf("InsertText() error = %v", err)
	}

	want := "```\nx := 1\ny := 2\n```\n\nafter\n"
	if got := doc.Markdown(); got != want {
		t.Fatalf("Markdown() = %q, want %q", got, want)
	}
}

func TestCodeBlockDropsActiveMarks(t *testing.T) {
	doc := NewDoc()
	if err := doc.ToggleMark(MarkItalic); err != nil {
		t.Fatalf("ToggleMark() error = %v", err)
	}
	if err := doc.ToggleCodeBlock(); err != nil {
		t.Fatalf("ToggleCodeBlock() error = %v", err)
	}
	if err := doc.InsertText("raw"); err != nil {
		t.Fatalf("InsertText() error = %v", err)
	}

	blocks := doc.Blocks()
	code := blocks[len(blocks)-1]
	if code.Type != BlockCode {
		t.Fatalf("block type = %q, want code_block", code.Type)
	}
	if len(code.Runs[0].Marks) != 0 {
		t.Fatalf("code run marks = %v, want none", code.Runs[0].Marks)
	}
}

func TestListToggleSinkLift(t *testing.T) {
	doc := NewDoc()
	if err := doc.ToggleList(ListBulleted); err != nil {
		t.Fatalf("ToggleList() error = %v", err)
	}
	if err := doc.InsertText("top"); err != nil {
		t.Fatalf("InsertText() error = %v", err)
	}
	if err := doc.InsertParagraph(); err != nil {
		t.Fatalf("InsertParagraph() error = %v", err)
	}
	if err := doc.SinkListItem(); err != nil {
		t.Fatalf("SinkListItem() error = %v", err)
	}
	if err := doc.InsertText("nested"); err != nil {
		t.Fatalf("InsertText() error = %v", err)
	}

	blocks := doc.Blocks()
	if len(blocks) != 2 {
		t.Fatalf("len(blocks) = %d, want 2", len(blocks))
	}
	if blocks[0].Depth != 1 || blocks[1].Depth != 2 {
		t.Fatalf("depths = %d,%d, want 1,2", blocks[0].Depth, blocks[1].Depth)
	}
	want := "- top\n  - nested\n"
	if got := doc.Markdown(); got != want {
		t.Fatalf("Markdown() = %q, want %q", got, want)
	}
}

func TestLiftListItemAtDepthOneBecomesParagraph(t *testing.T) {
	doc := NewDoc()
	if err := doc.ToggleList(ListOrdered); err != nil {
		t.Fatalf("ToggleList() error = %v", err)
	}
	if err := doc.LiftListItem(); err != nil {
		t.Fatalf("LiftListItem() error = %v", err)
	}

	blocks := doc.Blocks()
	if blocks[0].Type != BlockParagraph || blocks[0].Depth != 0 {
		t.Fatalf("block = %+v, want paragraph at depth 0", blocks[0])
	}
}

func TestSinkOutsideListFails(t *testing.T) {
	doc := NewDoc()
	if err := doc.InsertText("not a list"); err != nil {
		t.Fatalf("InsertText() error = %v", err)
	}
	if err := doc.SinkListItem(); err == nil {
		t.Fatalf("expected error sinking outside a list item")
	}
}

func TestInsertParagraphInsideListCreatesSibling(t *testing.T) {
	doc := NewDoc()
	if err := doc.ToggleList(ListOrdered); err != nil {
		t.Fatalf("ToggleList() error = %v", err)
	}
	if err := doc.InsertText("first"); err != nil {
		t.Fatalf("InsertText() error = %v", err)
	}
	if err := doc.InsertParagraph(); err != nil {
		t.Fatalf("InsertParagraph() error = %v", err)
	}
	if err := doc.InsertText("second"); err != nil {
		t.Fatalf("InsertText() error = %v", err)
	}

	want := "1. first\n2. second\n"
	if got := doc.Markdown(); got != want {
		t.Fatalf("Markdown() = %q, want %q", got, want)
	}
}

func TestDeleteRangeWithinBlock(t *testing.T) {
	doc := NewDoc()
	if err := doc.InsertText("hello cruel world"); err != nil {
		t.Fatalf("InsertText() error = %v", err)
	}
	if err := doc.DeleteRange(5, 11); err != nil {
		t.Fatalf("DeleteRange() error = %v", err)
	}

	if got := doc.Markdown(); got != "hello world\n" {
		t.Fatalf("Markdown() = %q, want %q", got, "hello world\n")
	}
}

func TestDeleteRangeAcrossBoundaryMergesBlocks(t *testing.T) {
	doc := NewDoc()
	if err := doc.InsertText("head"); err != nil {
		t.Fatalf("InsertText() error = %v", err)
	}
	if err := doc.InsertParagraph(); err != nil {
		t.Fatalf("InsertParagraph() error = %v", err)
	}
	if err := doc.InsertText("tail"); err != nil {
		t.Fatalf("InsertText() error = %v", err)
	}
	// plain text is "head\ntail"; drop "d\nt"
	if err := doc.DeleteRange(3, 6); err != nil {
		t.Fatalf("DeleteRange() error = %v", err)
	}

	blocks := doc.Blocks()
	if len(blocks) != 1 {
		t.Fatalf("len(blocks) = %d, want 1 merged block", len(blocks))
	}
	if got := doc.Markdown(); got != "heaail\n" {
		t.Fatalf("Markdown() = %q, want %q", got, "heaail\n")
	}
}

func TestDeleteRangeNoopOnEmptyRange(t *testing.T) {
	doc := NewDoc()
	if err := doc.InsertText("stable"); err != nil {
		t.Fatalf("InsertText() error = %v", err)
	}
	if err := doc.DeleteRange(3, 3); err != nil {
		t.Fatalf("DeleteRange() error = %v", err)
	}
	if got := doc.Markdown(); got != "stable\n" {
		t.Fatalf("Markdown() = %q, want %q", got, "stable\n")
	}
}

func TestClosedDocumentRejectsMutations(t *testing.T) {
	doc := NewDoc()
	if err := doc.InsertText("before"); err != nil {
		t.Fatalf("InsertText() error = %v", err)
	}
	doc.Close()

	if err := doc.InsertText("after"); !errors.Is(err, ErrClosed) {
		t.Fatalf("InsertText() error = %v, want ErrClosed", err)
	}
	if err := doc.ToggleMark(MarkBold); !errors.Is(err, ErrClosed) {
		t.Fatalf("ToggleMark() error = %v, want ErrClosed", err)
	}
	if got := doc.Markdown(); got != "before\n" {
		t.Fatalf("Markdown() = %q, want %q", got, "before\n")
	}
}

func TestMarkdownSkipsEmptyTrailingBlocks(t *testing.T) {
	doc := NewDoc()
	if err := doc.InsertText("body"); err != nil {
		t.Fatalf("InsertText() error = %v", err)
	}
	if err := doc.InsertParagraph(); err != nil {
		t.Fatalf("InsertParagraph() error = %v", err)
	}

	if got := doc.Markdown(); got != "body\n" {
		t.Fatalf("Markdown() = %q, want %q", got, "body\n")
	}
}
