package personas

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry(t *testing.T) {
	reg := Default()
	require.Equal(t, 3, reg.Len())

	list := reg.List()
	assert.Equal(t, "methodologist", list[0].ID)
	assert.Equal(t, "theorist", list[1].ID)
	assert.Equal(t, "pragmatist", list[2].ID)

	for _, p := range list {
		assert.NotEmpty(t, p.SystemPrompt)
		assert.NotEmpty(t, p.Name)
	}
}

func TestGet(t *testing.T) {
	reg := Default()

	p, err := reg.Get("theorist")
	require.NoError(t, err)
	assert.Equal(t, "The Theorist", p.Name)

	_, err = reg.Get("nonexistent")
	assert.ErrorIs(t, err, ErrUnknownPersona)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "personas.toml")
	content := `
[[personas]]
id = "skeptic"
name = "The Skeptic"
system_prompt = "Question every assumption."
display_order = 2

[[personas]]
id = "optimist"
name = "The Optimist"
system_prompt = "Find the upside."
display_order = 1
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	reg, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, 2, reg.Len())

	// Sorted by display order, not file order.
	list := reg.List()
	assert.Equal(t, "optimist", list[0].ID)
	assert.Equal(t, "skeptic", list[1].ID)
}

func TestLoadFile_Invalid(t *testing.T) {
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty.toml")
	require.NoError(t, os.WriteFile(empty, []byte(""), 0o644))
	_, err := LoadFile(empty)
	assert.Error(t, err)

	missingPrompt := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(missingPrompt, []byte("[[personas]]\nid = \"x\"\n"), 0o644))
	_, err = LoadFile(missingPrompt)
	assert.Error(t, err)

	dup := filepath.Join(dir, "dup.toml")
	require.NoError(t, os.WriteFile(dup, []byte(`
[[personas]]
id = "a"
system_prompt = "p"
[[personas]]
id = "a"
system_prompt = "p"
`), 0o644))
	_, err = LoadFile(dup)
	assert.Error(t, err)

	_, err = LoadFile(filepath.Join(dir, "missing.toml"))
	assert.Error(t, err)
}

func TestListReturnsCopy(t *testing.T) {
	reg := Default()
	list := reg.List()
	list[0].SystemPrompt = "mutated"

	fresh, err := reg.Get(list[0].ID)
	require.NoError(t, err)
	assert.NotEqual(t, "mutated", fresh.SystemPrompt)
}
