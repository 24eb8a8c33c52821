// ABOUTME: Splits text into paragraphs of styled runs
// ABOUTME: Each line is parsed as inline markdown with goldmark

package pdf

import (
	"strings"

	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

// Run is a span of text drawn with a single font style.
type Run struct {
	Text   string
	Bold   bool
	Italic bool
	Code   bool
}

// Paragraph is one line of input. An empty paragraph renders as vertical space only.
type Paragraph struct {
	Runs []Run
}

// Text returns the concatenated run text.
func (p Paragraph) Text() string {
	var b strings.Builder
	for _, r := range p.Runs {
		b.WriteString(r.Text)
	}
	return b.String()
}

// inlineParser recognises emphasis, code spans, links and raw HTML only. Every
// line is a single paragraph, so list, quote and heading markers stay as text.
var inlineParser = parser.NewParser(
	parser.WithBlockParsers(util.Prioritized(parser.NewParagraphParser(), 1000)),
	parser.WithInlineParsers(parser.DefaultInlineParsers()...),
)

// Layout splits text on newlines and returns exactly one paragraph per line,
// empty lines included.
func Layout(s string) []Paragraph {
	lines := strings.Split(s, "\n")
	paragraphs := make([]Paragraph, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSuffix(line, "\r")
		paragraphs = append(paragraphs, Paragraph{Runs: parseLine(line)})
	}
	return paragraphs
}

type styleState struct {
	bold, italic, code int
}

func (s styleState) run(text string) Run {
	return Run{Text: text, Bold: s.bold > 0, Italic: s.italic > 0, Code: s.code > 0}
}

func parseLine(line string) []Run {
	if strings.TrimSpace(line) == "" {
		return nil
	}

	src := []byte(line)
	doc := inlineParser.Parse(text.NewReader(src))

	var (
		runs  []Run
		style styleState
	)
	emit := func(s string) {
		if s == "" {
			return
		}
		r := style.run(s)
		if n := len(runs); n > 0 && sameStyle(runs[n-1], r) {
			runs[n-1].Text += s
			return
		}
		runs = append(runs, r)
	}
	emitDestination := func(dest []byte) {
		if len(dest) > 0 {
			emit(" (" + string(dest) + ")")
		}
	}

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Emphasis:
			delta := 1
			if !entering {
				delta = -1
			}
			if node.Level >= 2 {
				style.bold += delta
			} else {
				style.italic += delta
			}
		case *ast.CodeSpan:
			if entering {
				style.code++
			} else {
				style.code--
			}
		case *ast.Text:
			if entering {
				emit(string(node.Segment.Value(src)))
				if node.SoftLineBreak() || node.HardLineBreak() {
					emit(" ")
				}
			}
		case *ast.String:
			if entering {
				emit(string(node.Value))
			}
		case *ast.Link:
			if !entering {
				emitDestination(node.Destination)
			}
		case *ast.Image:
			if !entering {
				emitDestination(node.Destination)
			}
		case *ast.AutoLink:
			if entering {
				emit(string(node.Label(src)))
			}
			return ast.WalkSkipChildren, nil
		case *ast.RawHTML:
			if entering {
				for i := 0; i < node.Segments.Len(); i++ {
					seg := node.Segments.At(i)
					emit(string(seg.Value(src)))
				}
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})

	// Lines that parse without any text keep their raw form.
	if len(runs) == 0 {
		return []Run{{Text: line}}
	}
	return runs
}

func sameStyle(a, b Run) bool {
	return a.Bold == b.Bold && a.Italic == b.Italic && a.Code == b.Code
}
