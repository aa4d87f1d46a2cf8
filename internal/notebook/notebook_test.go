package notebook

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/dfkernel/internal/cellid"
)

const sample = `{
 "cells": [
  {
   "cell_type": "markdown",
   "id": "0f0f0f0f-aaaa-bbbb-cccc-000000000000",
   "metadata": {},
   "source": ["# Title\n"]
  },
  {
   "cell_type": "code",
   "execution_count": 3,
   "id": "a1b2c3d4-5e6f-4000-8000-000000000001",
   "metadata": {"collapsed": true, "dfmetadata": {"tag": "setup", "outputVars": ["x", "y"], "persistentCode": "x = 1"}},
   "outputs": [],
   "source": ["x = 1\n", "y = 2"]
  },
  {
   "cell_type": "code",
   "execution_count": null,
   "id": "b2c3d4e5",
   "metadata": {},
   "outputs": [{"output_type": "display_data", "metadata": {"output_tag": "z"}, "data": {}}],
   "source": "z = x$setup + 1"
  }
 ],
 "metadata": {"kernelspec": {"name": "dfpython3"}},
 "nbformat": 4,
 "nbformat_minor": 5
}`

func decodeSample(t *testing.T) *Notebook {
	t.Helper()
	nb, err := Decode(strings.NewReader(sample))
	require.NoError(t, err)
	return nb
}

func TestDecode(t *testing.T) {
	nb := decodeSample(t)
	require.Len(t, nb.Cells, 3)

	md := nb.Cells[0]
	assert.Equal(t, TypeMarkdown, md.Type)
	assert.Equal(t, cellid.ID("0f0f0f0f"), md.ID)
	assert.Equal(t, "# Title\n", md.Source)
	assert.False(t, md.IsCode())

	setup := nb.Cells[1]
	assert.Equal(t, "a1b2c3d4-5e6f-4000-8000-000000000001", setup.RawID)
	assert.Equal(t, cellid.ID("a1b2c3d4"), setup.ID)
	assert.Equal(t, "x = 1\ny = 2", setup.Source)
	assert.Equal(t, "setup", setup.Tag)
	assert.Equal(t, []string{"x", "y"}, setup.OutputVars)

	t.Run("output tags fall back to display outputs", func(t *testing.T) {
		assert.Equal(t, []string{"z"}, nb.Cells[2].OutputVars)
	})
}

func TestNotebookMaps(t *testing.T) {
	nb := decodeSample(t)

	if diff := cmp.Diff(map[cellid.ID]string{
		"a1b2c3d4": "x = 1\ny = 2",
		"b2c3d4e5": "z = x$setup + 1",
	}, nb.Codes()); diff != "" {
		t.Errorf("Codes() mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, map[string]cellid.ID{"setup": "a1b2c3d4"}, nb.InputTags())
	if diff := cmp.Diff(map[cellid.ID][]string{
		"a1b2c3d4": {"x", "y"},
		"b2c3d4e5": {"z"},
	}, nb.OutputTags()); diff != "" {
		t.Errorf("OutputTags() mismatch (-want +got):\n%s", diff)
	}

	c, ok := nb.Cell("b2c3d4e5")
	require.True(t, ok)
	assert.Equal(t, "z = x$setup + 1", c.Source)
	_, ok = nb.Cell("missing")
	assert.False(t, ok)
	assert.Len(t, nb.CodeCells(), 2)
}

func TestSaveAndLoadKeepsUnknownFields(t *testing.T) {
	nb := decodeSample(t)
	nb.Cells[1].Source = "x = 10\ny = 2\n"
	nb.Cells[1].Tag = "init"
	nb.Cells[2].OutputVars = []string{"z", "w"}

	path := filepath.Join(t.TempDir(), "out.ipynb")
	require.NoError(t, nb.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Len(t, loaded.Cells, 3)
	assert.Equal(t, "x = 10\ny = 2\n", loaded.Cells[1].Source)
	assert.Equal(t, "init", loaded.Cells[1].Tag)
	assert.Equal(t, []string{"z", "w"}, loaded.Cells[2].OutputVars)

	var buf bytes.Buffer
	require.NoError(t, loaded.Encode(&buf))
	var doc struct {
		Metadata map[string]any   `json:"metadata"`
		NBFormat int              `json:"nbformat"`
		Cells    []map[string]any `json:"cells"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))

	assert.Equal(t, 4, doc.NBFormat)
	assert.Contains(t, doc.Metadata, "kernelspec")

	setup := doc.Cells[1]
	assert.Equal(t, []any{"x = 10\n", "y = 2\n"}, setup["source"])
	assert.EqualValues(t, 3, setup["execution_count"])
	metadata := setup["metadata"].(map[string]any)
	assert.Equal(t, true, metadata["collapsed"])
	df := metadata["dfmetadata"].(map[string]any)
	assert.Equal(t, "x = 1", df["persistentCode"])
	assert.Equal(t, "init", df["tag"])

	md := doc.Cells[0]
	assert.NotContains(t, md, "outputs")
	assert.NotContains(t, md["metadata"].(map[string]any), "dfmetadata")
}

func TestNewCellEncodesAsCode(t *testing.T) {
	nb := &Notebook{}
	c := NewCell(TypeCode, "1 + 1")
	nb.Cells = append(nb.Cells, c)

	var buf bytes.Buffer
	require.NoError(t, nb.Encode(&buf))

	loaded, err := Decode(&buf)
	require.NoError(t, err)
	require.Len(t, loaded.Cells, 1)
	assert.Equal(t, c.ID, loaded.Cells[0].ID)
	assert.Equal(t, "1 + 1", loaded.Cells[0].Source)
	assert.Empty(t, loaded.Cells[0].OutputVars)
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{name: "not json", doc: "{", want: "unexpected EOF"},
		{name: "bad cells", doc: `{"cells": 1}`, want: "invalid cells"},
		{name: "bad id", doc: `{"cells": [{"cell_type": "code", "id": "a b"}]}`, want: "invalid cell identifier"},
		{name: "bad source", doc: `{"cells": [{"cell_type": "code", "id": "a", "source": 3}]}`, want: "invalid source"},
		{
			name: "duplicate id",
			doc:  `{"cells": [{"cell_type": "code", "id": "a-1"}, {"cell_type": "code", "id": "a-2"}]}`,
			want: "collides with cell 0",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.ipynb"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open notebook")
}
