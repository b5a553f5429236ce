package report

import (
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
)

const (
	monoFamily = "Courier"
	mdIndent   = 4.0
)

var mdParser parser.Parser = goldmark.New().Parser()

type mdBlock struct {
	text   string
	size   float64
	bold   bool
	mono   bool
	marker string
	depth  int
}

// parseMarkdown flattens CommonMark into the blocks the painter lays out.
// Inline markup keeps its text only; raw HTML is dropped.
func parseMarkdown(src string) []mdBlock {
	source := []byte(src)
	doc := mdParser.Parse(text.NewReader(source))
	return collectBlocks(doc, source, 0, nil)
}

func collectBlocks(parent ast.Node, src []byte, depth int, out []mdBlock) []mdBlock {
	for n := parent.FirstChild(); n != nil; n = n.NextSibling() {
		switch n := n.(type) {
		case *ast.Heading:
			out = append(out, mdBlock{text: inlineText(n, src), size: headingSize(n.Level), bold: true, depth: depth})
		case *ast.Paragraph, *ast.TextBlock:
			if s := inlineText(n, src); s != "" {
				out = append(out, mdBlock{text: s, size: 9, depth: depth})
			}
		case *ast.List:
			out = listBlocks(n, src, depth, out)
		case *ast.Blockquote:
			out = collectBlocks(n, src, depth+1, out)
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				line := strings.TrimRight(string(seg.Value(src)), "\r\n")
				out = append(out, mdBlock{text: line, size: 8, mono: true, depth: depth})
			}
		}
	}
	return out
}

func listBlocks(list *ast.List, src []byte, depth int, out []mdBlock) []mdBlock {
	num := list.Start
	for item := list.FirstChild(); item != nil; item = item.NextSibling() {
		marker := "-"
		if list.IsOrdered() {
			marker = fmt.Sprintf("%d.", num)
			num++
		}
		first := len(out)
		out = collectBlocks(item, src, depth+1, out)
		if len(out) == first {
			out = append(out, mdBlock{size: 9, depth: depth + 1})
		}
		out[first].marker = marker
	}
	return out
}

func inlineText(n ast.Node, src []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch c := c.(type) {
		case *ast.Text:
			b.Write(c.Segment.Value(src))
			if c.SoftLineBreak() || c.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(c.Value)
		case *ast.AutoLink:
			b.Write(c.Label(src))
			return ast.WalkSkipChildren, nil
		case *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String())
}

func headingSize(level int) float64 {
	switch level {
	case 1:
		return 12
	case 2:
		return 10
	default:
		return 9.5
	}
}

func (p *painter) markdown(r Rect, fig *MarkdownFigure) {
	y := r.Y
	if fig.Title != "" {
		p.text(Text{Box: Rect{X: r.X, Y: y, W: r.W, H: tableTitleHeight}, Value: fig.Title, Size: 10, Bold: true, Color: inkColor})
		y += tableTitleHeight + 1
	}

	p.pdf.SetTextColor(inkColor.R, inkColor.G, inkColor.B)
	blocks := parseMarkdown(fig.Text)
	for i, b := range blocks {
		family, style := fontFamily, ""
		if b.mono {
			family = monoFamily
		}
		if b.bold {
			style = "B"
		}
		p.pdf.SetFont(family, style, b.size)
		lineH := b.size * 0.45

		x := r.X + float64(b.depth)*mdIndent
		w := r.Right() - x
		lines := p.splitLines(b.text, w)
		if len(lines) == 0 {
			lines = []string{""}
		}
		for j, line := range lines {
			if y+lineH > r.Bottom() {
				return
			}
			if b.marker != "" && j == 0 {
				p.pdf.SetXY(x-mdIndent, y)
				p.pdf.CellFormat(mdIndent-0.5, lineH, b.marker, "", 0, "RM", false, 0, "")
			}
			p.pdf.SetXY(x, y)
			p.pdf.CellFormat(w, lineH, line, "", 0, "LM", false, 0, "")
			y += lineH
		}
		// consecutive code lines stay tight
		if !(b.mono && i+1 < len(blocks) && blocks[i+1].mono) {
			y += lineH / 2
		}
	}
}
