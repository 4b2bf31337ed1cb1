package prompt

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestDefaultsOrderAndText(t *testing.T) {
	specs := NewStatic().Specs()
	require.Len(t, specs, 3)
	for i, label := range Labels {
		assert.Equal(t, label, specs[i].Label)
		assert.NotEmpty(t, specs[i].Instruction)
	}
	assert.Equal(t, "Image Description", specs[0].Title)
	assert.Contains(t, specs[1].Instruction, "Preserve line breaks and formatting")
	assert.Contains(t, specs[2].Instruction, "3-4 concise bullet points")
}

func TestSnapshotIsCopy(t *testing.T) {
	c := NewStatic()
	snap := c.Snapshot()
	snap.Specs[0].Instruction = "mutated"
	assert.NotEqual(t, "mutated", c.Specs()[0].Instruction)
}

func TestOpenEmptyPathIsStatic(t *testing.T) {
	c, err := Open("  ")
	require.NoError(t, err)
	assert.Equal(t, Defaults(), c.Specs())
	assert.NoError(t, c.Watch())
	assert.NoError(t, c.Reload())
}

func TestOpenMergesOverrides(t *testing.T) {
	p := writeFile(t, t.TempDir(), "prompts.yaml", `
prompts:
  extract:
    instruction: "Return the text verbatim."
  summarize:
    title: "Key Points"
`)
	c, err := Open(p)
	require.NoError(t, err)
	snap := c.Snapshot()
	require.Len(t, snap.Specs, 3)

	extract, ok := snap.Get(LabelExtract)
	require.True(t, ok)
	assert.Equal(t, "Return the text verbatim.", extract.Instruction)
	assert.Equal(t, "Text Extraction", extract.Title)

	summarize, _ := snap.Get(LabelSummarize)
	assert.Equal(t, "Key Points", summarize.Title)
	assert.Equal(t, Defaults()[2].Instruction, summarize.Instruction)

	describe, _ := snap.Get(LabelDescribe)
	assert.Equal(t, Defaults()[0], describe)
}

func TestOpenRejectsInvalidFiles(t *testing.T) {
	cases := map[string]string{
		"unknown label": "prompts:\n  translate:\n    instruction: x\n",
		"unknown field": "prompts:\n  describe:\n    model: llava\n",
		"empty text":    "prompts:\n  describe:\n    instruction: \"\"\n",
		"wrong type":    "prompts:\n  describe:\n    instruction: 42\n",
		"missing root":  "describe:\n  instruction: x\n",
		"not yaml":      "prompts: [unclosed\n",
	}
	dir := t.TempDir()
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			p := writeFile(t, dir, "bad.yaml", body)
			_, err := Open(p)
			assert.Error(t, err)
		})
	}
}

func TestReloadKeepsPreviousSnapshotOnError(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "prompts.yaml", "prompts:\n  describe:\n    title: First\n")
	c, err := Open(p)
	require.NoError(t, err)

	var notified []Snapshot
	c.Subscribe(func(s Snapshot) { notified = append(notified, s) })

	writeFile(t, dir, "prompts.yaml", "prompts:\n  describe:\n    title: Second\n")
	require.NoError(t, c.Reload())
	require.Len(t, notified, 1)
	assert.Equal(t, int64(2), notified[0].Version)
	assert.Equal(t, "Second", c.Specs()[0].Title)

	writeFile(t, dir, "prompts.yaml", "prompts:\n  bogus: {}\n")
	assert.Error(t, c.Reload())
	assert.Equal(t, "Second", c.Specs()[0].Title)
	assert.Equal(t, int64(2), c.Snapshot().Version)
	assert.Len(t, notified, 1)
}

func TestLabelValid(t *testing.T) {
	assert.True(t, LabelSummarize.Valid())
	assert.False(t, Label("translate").Valid())
}
