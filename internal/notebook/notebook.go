package notebook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"strings"

	"github.com/vk/dfkernel/internal/cellid"
)

// Cell types used by the kernel. Other types round-trip untouched.
const (
	TypeCode     = "code"
	TypeMarkdown = "markdown"
	TypeRaw      = "raw"
)

// metadataKey is the cell metadata entry the dataflow front end writes.
const metadataKey = "dfmetadata"

// Cell is one notebook cell. Fields the kernel does not model are kept in
// raw form and written back unchanged on Save.
type Cell struct {
	// RawID is the id as stored in the file.
	RawID string
	// ID is the kernel identifier derived from RawID.
	ID     cellid.ID
	Type   string
	Source string
	// Tag is the user-assigned input tag, if any.
	Tag string
	// OutputVars are the names the cell exported on its last run.
	OutputVars []string

	fields   map[string]json.RawMessage
	metadata map[string]json.RawMessage
	df       map[string]json.RawMessage
}

// IsCode reports whether c is a code cell.
func (c *Cell) IsCode() bool { return c.Type == TypeCode }

// Clone returns a copy of c that can be changed without affecting c.
func (c *Cell) Clone() *Cell {
	out := *c
	out.OutputVars = append([]string(nil), c.OutputVars...)
	out.fields = maps.Clone(c.fields)
	out.metadata = maps.Clone(c.metadata)
	out.df = maps.Clone(c.df)
	return &out
}

// ClearDataflow drops the cell's dataflow metadata: tag, exported names and
// anything else stored under dfmetadata.
func (c *Cell) ClearDataflow() {
	c.Tag = ""
	c.OutputVars = nil
	c.df = nil
}

// ResetExecution forgets the cell's execution count.
func (c *Cell) ResetExecution() {
	if c.fields == nil {
		return
	}
	if _, ok := c.fields["execution_count"]; ok {
		c.fields["execution_count"] = json.RawMessage("null")
	}
}

// Notebook is a parsed .ipynb document.
type Notebook struct {
	Cells  []*Cell
	fields map[string]json.RawMessage
}

// WithCells returns a notebook with nb's document metadata and the given
// cells.
func (nb *Notebook) WithCells(cells []*Cell) *Notebook {
	return &Notebook{Cells: cells, fields: maps.Clone(nb.fields)}
}

// NewCell creates a cell of the given type with a freshly minted id.
func NewCell(cellType, source string) *Cell {
	id := cellid.New()
	return &Cell{RawID: id.String(), ID: id, Type: cellType, Source: source}
}

// Load reads and parses the notebook at path.
func Load(path string) (*Notebook, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open notebook: %w", err)
	}
	defer f.Close()

	nb, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse notebook %s: %w", path, err)
	}
	return nb, nil
}

// Decode parses a notebook document from r.
func Decode(r io.Reader) (*Notebook, error) {
	var fields map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&fields); err != nil {
		return nil, err
	}

	var rawCells []map[string]json.RawMessage
	if raw, ok := fields["cells"]; ok {
		if err := json.Unmarshal(raw, &rawCells); err != nil {
			return nil, fmt.Errorf("invalid cells: %w", err)
		}
	}
	delete(fields, "cells")

	nb := &Notebook{fields: fields}
	seen := make(map[cellid.ID]int, len(rawCells))
	for i, raw := range rawCells {
		c, err := decodeCell(raw)
		if err != nil {
			return nil, fmt.Errorf("cell %d: %w", i, err)
		}
		if prev, dup := seen[c.ID]; dup {
			return nil, fmt.Errorf("cell %d: id %q collides with cell %d", i, c.ID, prev)
		}
		seen[c.ID] = i
		nb.Cells = append(nb.Cells, c)
	}
	return nb, nil
}

func decodeCell(fields map[string]json.RawMessage) (*Cell, error) {
	c := &Cell{fields: fields}

	if err := unmarshalField(fields, "cell_type", &c.Type); err != nil {
		return nil, err
	}
	if err := unmarshalField(fields, "id", &c.RawID); err != nil {
		return nil, err
	}
	if c.RawID == "" {
		c.ID = cellid.New()
		c.RawID = c.ID.String()
	} else {
		id, err := cellid.FromNotebook(c.RawID)
		if err != nil {
			return nil, err
		}
		c.ID = id
	}

	source, err := decodeSource(fields["source"])
	if err != nil {
		return nil, err
	}
	c.Source = source

	if err := unmarshalField(fields, "metadata", &c.metadata); err != nil {
		return nil, err
	}
	if err := unmarshalField(c.metadata, metadataKey, &c.df); err != nil {
		return nil, err
	}
	if err := unmarshalField(c.df, "tag", &c.Tag); err != nil {
		return nil, err
	}
	if _, ok := c.df["outputVars"]; ok {
		if err := unmarshalField(c.df, "outputVars", &c.OutputVars); err != nil {
			return nil, err
		}
	} else if c.IsCode() {
		tags, err := outputTags(fields["outputs"])
		if err != nil {
			return nil, err
		}
		c.OutputVars = tags
	}
	return c, nil
}

// decodeSource accepts the string and list-of-lines encodings.
func decodeSource(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var lines []string
	if err := json.Unmarshal(raw, &lines); err != nil {
		return "", fmt.Errorf("invalid source: %w", err)
	}
	return strings.Join(lines, ""), nil
}

// outputTags collects the output_tag of each display output, which older
// front ends recorded instead of dfmetadata.outputVars.
func outputTags(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var outputs []struct {
		Metadata struct {
			OutputTag string `json:"output_tag"`
		} `json:"metadata"`
	}
	if err := json.Unmarshal(raw, &outputs); err != nil {
		return nil, fmt.Errorf("invalid outputs: %w", err)
	}
	var tags []string
	for _, out := range outputs {
		if out.Metadata.OutputTag != "" {
			tags = append(tags, out.Metadata.OutputTag)
		}
	}
	return tags, nil
}

func unmarshalField(fields map[string]json.RawMessage, key string, v any) error {
	raw, ok := fields[key]
	if !ok || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	return nil
}

// Save writes the notebook to path.
func (nb *Notebook) Save(path string) error {
	var buf bytes.Buffer
	if err := nb.Encode(&buf); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write notebook: %w", err)
	}
	return nil
}

// Encode writes the notebook as indented JSON, the layout Jupyter uses.
func (nb *Notebook) Encode(w io.Writer) error {
	out := make(map[string]any, len(nb.fields)+1)
	for k, v := range nb.fields {
		out[k] = v
	}
	if _, ok := out["nbformat"]; !ok {
		out["nbformat"] = 4
		out["nbformat_minor"] = 5
	}
	if _, ok := out["metadata"]; !ok {
		out["metadata"] = map[string]any{}
	}

	cells := make([]map[string]any, 0, len(nb.Cells))
	for _, c := range nb.Cells {
		encoded, err := c.encode()
		if err != nil {
			return fmt.Errorf("cell %s: %w", c.ID, err)
		}
		cells = append(cells, encoded)
	}
	out["cells"] = cells

	enc := json.NewEncoder(w)
	enc.SetIndent("", " ")
	enc.SetEscapeHTML(false)
	return enc.Encode(out)
}

func (c *Cell) encode() (map[string]any, error) {
	out := make(map[string]any, len(c.fields)+4)
	for k, v := range c.fields {
		out[k] = v
	}
	out["id"] = c.RawID
	out["cell_type"] = c.Type
	out["source"] = splitLines(c.Source)

	metadata := make(map[string]any, len(c.metadata)+1)
	for k, v := range c.metadata {
		metadata[k] = v
	}
	df := make(map[string]any, len(c.df)+2)
	for k, v := range c.df {
		df[k] = v
	}
	delete(df, "tag")
	if c.Tag != "" {
		df["tag"] = c.Tag
	}
	if c.IsCode() && (c.df != nil || c.OutputVars != nil) {
		vars := c.OutputVars
		if vars == nil {
			vars = []string{}
		}
		df["outputVars"] = vars
	}
	if len(df) > 0 {
		metadata[metadataKey] = df
	} else {
		delete(metadata, metadataKey)
	}
	out["metadata"] = metadata

	if c.IsCode() {
		if _, ok := out["outputs"]; !ok {
			out["outputs"] = []any{}
		}
		if _, ok := out["execution_count"]; !ok {
			out["execution_count"] = nil
		}
	}
	return out, nil
}

// splitLines renders source as Jupyter's list of newline-terminated lines.
func splitLines(s string) []string {
	if s == "" {
		return []string{}
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// Cell returns the cell with the given id.
func (nb *Notebook) Cell(id cellid.ID) (*Cell, bool) {
	for _, c := range nb.Cells {
		if c.ID == id {
			return c, true
		}
	}
	return nil, false
}

// CodeCells returns the code cells in notebook order.
func (nb *Notebook) CodeCells() []*Cell {
	var out []*Cell
	for _, c := range nb.Cells {
		if c.IsCode() {
			out = append(out, c)
		}
	}
	return out
}

// Codes maps every code cell to its source.
func (nb *Notebook) Codes() map[cellid.ID]string {
	out := make(map[cellid.ID]string)
	for _, c := range nb.CodeCells() {
		out[c.ID] = c.Source
	}
	return out
}

// InputTags maps each tag to the code cell carrying it. When two cells
// carry the same tag the later one wins, as in the front end.
func (nb *Notebook) InputTags() map[string]cellid.ID {
	out := make(map[string]cellid.ID)
	for _, c := range nb.CodeCells() {
		if c.Tag != "" {
			out[c.Tag] = c.ID
		}
	}
	return out
}

// OutputTags maps each code cell with known exports to those names.
func (nb *Notebook) OutputTags() map[cellid.ID][]string {
	out := make(map[cellid.ID][]string)
	for _, c := range nb.CodeCells() {
		if len(c.OutputVars) > 0 {
			out[c.ID] = append([]string(nil), c.OutputVars...)
		}
	}
	return out
}
