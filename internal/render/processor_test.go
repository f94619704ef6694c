package render

import (
	"reflect"
	"strings"
	"testing"

	"github.com/okempf/inkstream/internal/document"
)

func processAll(t *testing.T, fragments ...string) *document.Doc {
	t.Helper()
	doc := document.NewDoc()
	proc := New(doc)
	for _, fragment := range fragments {
		if err := proc.Process(fragment); err != nil {
			t.Fatalf("Process(%q) error = %v", fragment, err)
		}
	}
	return doc
}

func TestCharAtATimeMatchesWholeString(t *testing.T) {
	source := "# Title\n\nBody with **bold**, *italic*, `code` and ~~gone~~.\n\n" +
		"- item one\n- item two\n  - nested\n\n" +
		"> a quote line\n\n" +
		"```go\nfmt.Println(\"hi\")\n\nreturn\n```\nafter the fence\n"

	whole := processAll(t, source)

	charwise := document.NewDoc()
	proc := New(charwise)
	for _, r := range source {
		if err := proc.Process(string(r)); err != nil {
			t.Fatalf("Process(%q) error = %v", string(r), err)
		}
	}

	if !reflect.DeepEqual(whole.Blocks(), charwise.Blocks()) {
		t.Fatalf("charwise blocks = %+v,\nwant %+v", charwise.Blocks(), whole.Blocks())
	}
	if whole.Markdown() != charwise.Markdown() {
		t.Fatalf("charwise markdown = %q, want %q", charwise.Markdown(), whole.Markdown())
	}
}

func TestSplitBoldDelimiter(t *testing.T) {
	doc := processAll(t, "**", "bold**", " text")

	runs := doc.Blocks()[0].Runs
	if len(runs) != 2 {
		t.Fatalf("len(runs) = %d, want 2: %+v", len(runs), runs)
	}
	if runs[0].Text != "bold" || len(runs[0].Marks) != 1 || runs[0].Marks[0] != document.MarkBold {
		t.Fatalf("first run = %+v, want bold %q", runs[0], "bold")
	}
	if runs[1].Text != " text" || len(runs[1].Marks) != 0 {
		t.Fatalf("second run = %+v, want unmarked %q", runs[1], " text")
	}
}

func TestSplitListMarker(t *testing.T) {
	doc := processAll(t, "-", " item")

	blocks := doc.Blocks()
	if blocks[0].Type != document.BlockListItem {
		t.Fatalf("block type = %q, want list_item", blocks[0].Type)
	}
	if got := doc.Markdown(); got != "- item\n" {
		t.Fatalf("Markdown() = %q, want %q", got, "- item\n")
	}
}

func TestTwoItemList(t *testing.T) {
	doc := processAll(t, "- item one\n- item two\n")

	want := "- item one\n- item two\n"
	if got := doc.Markdown(); got != want {
		t.Fatalf("Markdown() = %q, want %q", got, want)
	}
}

func TestOrderedListWithNesting(t *testing.T) {
	doc := processAll(t, "1. first\n2. second\n  1. inner\n3. third\n")

	want := "1. first\n2. second\n  1. inner\n3. third\n"
	if got := doc.Markdown(); got != want {
		t.Fatalf("Markdown() = %q, want %q", got, want)
	}
}

func TestBareDigitsAreHeldUntilDisambiguated(t *testing.T) {
	doc := document.NewDoc()
	proc := New(doc)
	if err := proc.Process("12"); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(doc.Blocks()) != 0 {
		t.Fatalf("blocks = %+v, want none while marker is ambiguous", doc.Blocks())
	}
	if err := proc.Process(".5 apples\n"); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if got := doc.Markdown(); got != "12.5 apples\n" {
		t.Fatalf("Markdown() = %q, want %q", got, "12.5 apples\n")
	}
}

func TestSentinelSplitAcrossFragmentsNeverRenders(t *testing.T) {
	doc := document.NewDoc()
	proc := New(doc)
	for _, fragment := range []string{"Done.", "</ans", "wer>", "ignored tail"} {
		if err := proc.Process(fragment); err != nil {
			t.Fatalf("Process(%q) error = %v", fragment, err)
		}
	}

	if !proc.Ended() {
		t.Fatalf("Ended() = false after sentinel")
	}
	if got := doc.Markdown(); got != "Done.\n" {
		t.Fatalf("Markdown() = %q, want %q", got, "Done.\n")
	}
	if strings.Contains(doc.Markdown(), "answer") {
		t.Fatalf("sentinel leaked into document: %q", doc.Markdown())
	}
}

func TestEscapedSentinelIsSuppressed(t *testing.T) {
	doc := processAll(t, "All set.", "&lt;/ans", "wer&gt;")

	if got := doc.Markdown(); got != "All set.\n" {
		t.Fatalf("Markdown() = %q, want %q", got, "All set.\n")
	}
}

func TestAmpersandTextIsNotSwallowed(t *testing.T) {
	doc := processAll(t, "AT&", "T works\n")

	if got := doc.Markdown(); got != "AT&T works\n" {
		t.Fatalf("Markdown() = %q, want %q", got, "AT&T works\n")
	}
}

func TestHeadingWithInlineMarks(t *testing.T) {
	doc := processAll(t, "# **Bold** title\n")

	blocks := doc.Blocks()
	if blocks[0].Type != document.BlockHeading || blocks[0].Level != 1 {
		t.Fatalf("block = %+v, want level-1 heading", blocks[0])
	}
	if got := doc.Markdown(); got != "# **Bold** title\n" {
		t.Fatalf("Markdown() = %q, want %q", got, "# **Bold** title\n")
	}
}

func TestQuoteLine(t *testing.T) {
	doc := processAll(t, "> shipped is better than perfect\n")

	if got := doc.Markdown(); got != "> shipped is better than perfect\n" {
		t.Fatalf("Markdown() = %q, want %q", got, "> shipped is better than perfect\n")
	}
}

func TestCodeFenceLifecycle(t *testing.T) {
	doc := processAll(t, "```go\nx := 1\ny := 2\n```\nafter\n")

	want := "```\nx := 1\ny := 2\n```\n\nafter\n"
	if got := doc.Markdown(); got != want {
		t.Fatalf("Markdown() = %q, want %q", got, want)
	}
}

func TestFenceSplitAcrossFragments(t *testing.T) {
	doc := processAll(t, "``", "`py", "thon\nprint(1)\n``", "`\n")

	want := "```\nprint(1)\n```\n"
	if got := doc.Markdown(); got != want {
		t.Fatalf("Markdown() = %q, want %q", got, want)
	}
}

func TestMarkdownSyntaxInsideCodeBlockStaysLiteral(t *testing.T) {
	doc := processAll(t, "```\n# not a heading\n- not a list\n```\n")

	want := "```\n# not a heading\n- not a list\n```\n"
	if got := doc.Markdown(); got != want {
		t.Fatalf("Markdown() = %q, want %q", got, want)
	}
}

func TestConsecutiveNewlinesCollapse(t *testing.T) {
	doc := processAll(t, "one\n\n\ntwo\n")

	blocks := doc.Blocks()
	var nonEmpty int
	for _, b := range blocks {
		if len(b.Runs) > 0 {
			nonEmpty++
		}
	}
	if nonEmpty != 2 {
		t.Fatalf("non-empty blocks = %d, want 2: %+v", nonEmpty, blocks)
	}
	if got := doc.Markdown(); got != "one\n\ntwo\n" {
		t.Fatalf("Markdown() = %q, want %q", got, "one\n\ntwo\n")
	}
}

func TestListExitToParagraph(t *testing.T) {
	doc := processAll(t, "- a\n  - b\nplain after\n")

	want := "- a\n  - b\n\nplain after\n"
	if got := doc.Markdown(); got != want {
		t.Fatalf("Markdown() = %q, want %q", got, want)
	}
}

func TestStrikeAndCodeMarks(t *testing.T) {
	doc := processAll(t, "keep `this` and ~~that~~ around\n")

	if got := doc.Markdown(); got != "keep `this` and ~~that~~ around\n" {
		t.Fatalf("Markdown() = %q, want %q", got, "keep `this` and ~~that~~ around\n")
	}
}

func TestProcessAfterEndedIsNoop(t *testing.T) {
	doc := document.NewDoc()
	proc := New(doc)
	if err := proc.Process("body</answer>"); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if err := proc.Process("more text\n"); err != nil {
		t.Fatalf("Process() after end error = %v", err)
	}

	if got := doc.Markdown(); got != "body\n" {
		t.Fatalf("Markdown() = %q, want %q", got, "body\n")
	}
}

func TestResetClearsParseStateNotDocument(t *testing.T) {
	doc := document.NewDoc()
	proc := New(doc)
	if err := proc.Process("first turn</answer>"); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	proc.Reset()
	if proc.Ended() {
		t.Fatalf("Ended() = true after Reset")
	}
	if err := proc.Process("second\n"); err != nil {
		t.Fatalf("Process() after Reset error = %v", err)
	}

	got := doc.Markdown()
	if !strings.Contains(got, "first turn") || !strings.Contains(got, "second") {
		t.Fatalf("Markdown() = %q, want both turns present", got)
	}
}

func TestProcessErrorDropsLineAndRecovers(t *testing.T) {
	doc := document.NewDoc()
	proc := New(doc)
	doc.Close()
	if err := proc.Process("lost line\n"); err == nil {
		t.Fatalf("expected error from closed document")
	}

	reopened := document.NewDoc()
	proc.SetEditor(reopened)
	if err := proc.Process("recovered\n"); err != nil {
		t.Fatalf("Process() after rebind error = %v", err)
	}
	if got := reopened.Markdown(); got != "recovered\n" {
		t.Fatalf("Markdown() = %q, want %q", got, "recovered\n")
	}
}

func TestProcessWithoutEditorFails(t *testing.T) {
	proc := New(nil)
	if err := proc.Process("anything"); err == nil {
		t.Fatalf("expected error with no editor bound")
	}
}
