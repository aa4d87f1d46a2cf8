package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/vk/dfkernel/internal/cellid"
	"github.com/vk/dfkernel/internal/ctyconv"
	"github.com/vk/dfkernel/internal/kernel"
	"github.com/vk/dfkernel/internal/notebook"
	"github.com/vk/dfkernel/internal/result"
	"golang.org/x/term"
)

var (
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#7FD962")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#F07178")).Bold(true)
	deletedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFB454")).Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C7680"))
	nameStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#59C2FF"))
	codeStyle    = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#6C7680")).
			Padding(0, 1)
)

// renderReport formats one report for the terminal.
func renderReport(r *kernel.Report, stdout string) string {
	var b strings.Builder

	header := fmt.Sprintf("[%s]", r.CellID)
	switch r.Status {
	case kernel.StatusOK:
		header = okStyle.Render("✓ "+header) + dimStyle.Render(fmt.Sprintf(" %s", r.Elapsed.Round(time.Microsecond)))
	case kernel.StatusDeleted:
		header = deletedStyle.Render("− " + header + " deleted")
	default:
		header = errorStyle.Render("✗ " + header)
	}
	b.WriteString(header)
	b.WriteByte('\n')

	if r.DisplayCode != "" {
		b.WriteString(codeStyle.Render(r.DisplayCode))
		b.WriteByte('\n')
	}
	if stdout != "" {
		b.WriteString(dimStyle.Render(strings.TrimRight(stdout, "\n")))
		b.WriteByte('\n')
	}

	switch r.Status {
	case kernel.StatusOK:
		b.WriteString(renderValue(r.Value))
	case kernel.StatusError:
		b.WriteString(errorStyle.Render("error: ") + r.Error)
	}

	if len(r.AllUpstream) > 0 {
		b.WriteString("\n" + dimStyle.Render("upstream: "+joinIDs(r.AllUpstream)))
	}
	if len(r.AllDownstream) > 0 {
		b.WriteString("\n" + dimStyle.Render("downstream: "+joinIDs(r.AllDownstream)))
	}
	if len(r.DeletedCells) > 0 {
		b.WriteString("\n" + deletedStyle.Render("deleted: "+joinIDs(r.DeletedCells)))
	}
	return strings.TrimRight(b.String(), "\n")
}

// renderValue lists a multi-output result one name per line.
func renderValue(v any) string {
	res, ok := v.(*result.Result)
	if !ok {
		return ctyconv.Format(v)
	}
	lines := make([]string, 0, res.Len())
	for _, key := range res.Keys() {
		item, _ := res.Peek(key)
		lines = append(lines, nameStyle.Render(key)+" = "+ctyconv.Format(item))
	}
	return strings.Join(lines, "\n")
}

// printNotebook writes each report after the markdown cells that precede its
// cell in nb. Markdown in front of cells that did not run is skipped.
func printNotebook(w io.Writer, nb *notebook.Notebook, reports []*kernel.Report, k *kernel.Kernel) {
	byID := make(map[cellid.ID]*kernel.Report, len(reports))
	for _, r := range reports {
		byID[r.CellID] = r
	}
	md := newMarkdownRenderer(w)

	var notes []string
	for _, c := range nb.Cells {
		switch {
		case c.Type == notebook.TypeMarkdown:
			notes = append(notes, c.Source)
		case c.IsCode():
			r, ok := byID[c.ID]
			if ok {
				for _, n := range notes {
					fmt.Fprintln(w, renderMarkdown(md, n))
				}
				fmt.Fprintln(w, renderReport(r, k.Stdout(r.CellID)))
			}
			notes = nil
		}
	}
}

// newMarkdownRenderer styles markdown for a terminal and falls back to plain
// output otherwise. A nil renderer prints markdown as is.
func newMarkdownRenderer(w io.Writer) *glamour.TermRenderer {
	style, width := glamour.WithStylePath("notty"), 80
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		style = glamour.WithAutoStyle()
		if cols, _, err := term.GetSize(int(f.Fd())); err == nil && cols > 0 {
			width = min(cols, 100)
		}
	}
	r, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(width))
	if err != nil {
		return nil
	}
	return r
}

func renderMarkdown(r *glamour.TermRenderer, src string) string {
	if r == nil {
		return src
	}
	out, err := r.Render(src)
	if err != nil {
		return src
	}
	return strings.Trim(out, "\n")
}

func joinIDs(ids []cellid.ID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	return strings.Join(parts, ", ")
}
