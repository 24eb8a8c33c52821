// ABOUTME: Draws laid-out paragraphs onto US Letter pages
// ABOUTME: Uses fpdf core fonts with cp1252 translation

package pdf

import (
	"bytes"
	"fmt"

	"github.com/go-pdf/fpdf"
)

const (
	margin     = 72.0
	fontSize   = 10.0
	leading    = 12.0
	spacer     = 6.0
	bodyFont   = "Helvetica"
	codeFont   = "Courier"
	creatorTag = "foundry-relay"
)

// Render draws paragraphs and returns the encoded PDF.
func Render(paragraphs []Paragraph) ([]byte, error) {
	doc := build(paragraphs)
	if err := doc.Error(); err != nil {
		return nil, fmt.Errorf("building pdf: %w", err)
	}

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, fmt.Errorf("writing pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func build(paragraphs []Paragraph) *fpdf.Fpdf {
	doc := fpdf.New("P", "pt", "Letter", "")
	doc.SetMargins(margin, margin, margin)
	doc.SetAutoPageBreak(true, margin)
	doc.SetCreator(creatorTag, true)
	doc.AddPage()

	tr := doc.UnicodeTranslatorFromDescriptor("")
	for _, p := range paragraphs {
		if len(p.Runs) > 0 {
			for _, r := range p.Runs {
				doc.SetFont(fontFor(r), styleFor(r), fontSize)
				doc.Write(leading, tr(r.Text))
			}
			doc.Ln(leading)
		}
		doc.Ln(spacer)
	}
	return doc
}

func fontFor(r Run) string {
	if r.Code {
		return codeFont
	}
	return bodyFont
}

func styleFor(r Run) string {
	style := ""
	if r.Bold {
		style += "B"
	}
	if r.Italic {
		style += "I"
	}
	return style
}
