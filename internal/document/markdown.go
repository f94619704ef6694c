package document

import (
	"strconv"
	"strings"
)

// Markdown renders the document body back to markdown. Empty blocks are
// skipped, code block content always ends with a single newline before the
// closing fence, and ordered items number themselves per depth.
func (d *Doc) Markdown() string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var b strings.Builder
	wrote := false
	prevList := false
	prevDepth := 0
	ordinals := map[int]int{}
	for _, blk := range d.blocks {
		if blk.Type != BlockCode && len(blk.Runs) == 0 {
			continue
		}
		isList := blk.Type == BlockListItem
		if !isList {
			ordinals = map[int]int{}
			prevDepth = 0
		} else if blk.Depth < prevDepth {
			for depth := range ordinals {
				if depth > blk.Depth {
					delete(ordinals, depth)
				}
			}
		}
		if wrote {
			if isList && prevList {
				b.WriteString("\n")
			} else {
				b.WriteString("\n\n")
			}
		}
		switch blk.Type {
		case BlockHeading:
			b.WriteString(strings.Repeat("#", blk.Level))
			b.WriteString(" ")
			b.WriteString(inlineMarkdown(blk.Runs))
		case BlockQuote:
			b.WriteString("> ")
			b.WriteString(inlineMarkdown(blk.Runs))
		case BlockCode:
			b.WriteString("```\n")
			b.WriteString(strings.TrimRight(runsText(blk.Runs), "\n"))
			b.WriteString("\n```")
		case BlockListItem:
			b.WriteString(strings.Repeat(" ", (blk.Depth-1)*ListIndentUnit))
			if blk.Kind == ListOrdered {
				ordinals[blk.Depth]++
				b.WriteString(strconv.Itoa(ordinals[blk.Depth]))
				b.WriteString(". ")
			} else {
				b.WriteString("- ")
			}
			b.WriteString(inlineMarkdown(blk.Runs))
		default:
			b.WriteString(inlineMarkdown(blk.Runs))
		}
		wrote = true
		prevList = isList
		prevDepth = blk.Depth
	}
	if wrote {
		b.WriteString("\n")
	}
	return b.String()
}

func inlineMarkdown(runs []Run) string {
	var b strings.Builder
	for _, r := range runs {
		b.WriteString(wrapMarks(r.Text, r.Marks))
	}
	return b.String()
}

// wrapMarks nests delimiters deterministically, code innermost.
func wrapMarks(text string, marks []Mark) string {
	if hasMark(marks, MarkCode) {
		text = "`" + text + "`"
	}
	if hasMark(marks, MarkStrike) {
		text = "~~" + text + "~~"
	}
	if hasMark(marks, MarkItalic) {
		text = "*" + text + "*"
	}
	if hasMark(marks, MarkBold) {
		text = "**" + text + "**"
	}
	return text
}

func hasMark(marks []Mark, m Mark) bool {
	for _, candidate := range marks {
		if candidate == m {
			return true
		}
	}
	return false
}

func runsText(runs []Run) string {
	var b strings.Builder
	for _, r := range runs {
		b.WriteString(r.Text)
	}
	return b.String()
}
