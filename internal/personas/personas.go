// Package personas holds the static advisor configuration table. Personas
// are read-only at runtime; the orchestrator dispatches over them generically
// in display order.
package personas

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/BurntSushi/toml"
)

// ErrUnknownPersona is returned when a persona ID is not in the table.
var ErrUnknownPersona = errors.New("unknown persona")

// Persona is one advisor role: a fixed system prompt and a stable position
// in the dispatch order.
type Persona struct {
	ID           string `toml:"id"`
	Name         string `toml:"name"`
	SystemPrompt string `toml:"system_prompt"`
	DisplayOrder int    `toml:"display_order"`
}

// Registry is the closed set of configured personas.
type Registry struct {
	byID    map[string]Persona
	ordered []Persona
}

type personaFile struct {
	Personas []Persona `toml:"personas"`
}

// Default returns the built-in advisor panel.
func Default() *Registry {
	reg, err := newRegistry(defaultPersonas())
	if err != nil {
		// The built-in table is statically valid.
		panic(err)
	}
	return reg
}

// LoadFile reads a persona table from a TOML file.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read persona config: %w", err)
	}

	var file personaFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse persona config: %w", err)
	}
	if len(file.Personas) == 0 {
		return nil, fmt.Errorf("persona config %s defines no personas", path)
	}
	return newRegistry(file.Personas)
}

func newRegistry(list []Persona) (*Registry, error) {
	byID := make(map[string]Persona, len(list))
	for _, p := range list {
		if p.ID == "" || p.SystemPrompt == "" {
			return nil, fmt.Errorf("persona %q must have an id and a system prompt", p.ID)
		}
		if _, dup := byID[p.ID]; dup {
			return nil, fmt.Errorf("duplicate persona id %q", p.ID)
		}
		byID[p.ID] = p
	}

	ordered := make([]Persona, len(list))
	copy(ordered, list)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].DisplayOrder < ordered[j].DisplayOrder
	})

	return &Registry{byID: byID, ordered: ordered}, nil
}

// Get looks up a persona by ID.
func (r *Registry) Get(id string) (Persona, error) {
	p, ok := r.byID[id]
	if !ok {
		return Persona{}, fmt.Errorf("%w: %s", ErrUnknownPersona, id)
	}
	return p, nil
}

// List returns all personas in display order. The slice is a copy; callers
// may not mutate the registry through it.
func (r *Registry) List() []Persona {
	out := make([]Persona, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Len returns the number of configured personas.
func (r *Registry) Len() int {
	return len(r.ordered)
}

func defaultPersonas() []Persona {
	return []Persona{
		{
			ID:           "methodologist",
			Name:         "The Methodologist",
			DisplayOrder: 1,
			SystemPrompt: "You are a rigorous research methodologist. Evaluate the user's question " +
				"through the lens of study design, measurement, and reproducibility. Be concrete: " +
				"recommend specific methods, name their assumptions, and call out threats to validity. " +
				"When document context is provided, ground your advice in it and say what the documents " +
				"do and do not support.",
		},
		{
			ID:           "theorist",
			Name:         "The Theorist",
			DisplayOrder: 2,
			SystemPrompt: "You are a theorist who connects questions to established frameworks and " +
				"prior literature. Situate the user's problem in its conceptual landscape, surface the " +
				"competing schools of thought, and identify what theoretical commitments each path implies. " +
				"Prefer depth over breadth; cite the provided document context when it is relevant.",
		},
		{
			ID:           "pragmatist",
			Name:         "The Pragmatist",
			DisplayOrder: 3,
			SystemPrompt: "You are a pragmatic advisor focused on what the user can do next week, not " +
				"next year. Turn abstract goals into ordered, achievable steps with rough effort estimates. " +
				"Flag the biggest practical risk first. Keep answers short and directive, and use the " +
				"provided document context to tailor the plan.",
		},
	}
}
