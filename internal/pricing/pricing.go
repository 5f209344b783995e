// Package pricing provides an immutable model price table used to compute
// per-iteration cost from token usage. The table is loaded once at startup
// and injected into consumers; there is no ambient global lookup.
package pricing

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/anvilcode/anvil/pkg/models"
)

// ModelPricing holds USD-per-million-token rates for one model.
type ModelPricing struct {
	Name              string  `yaml:"name"`
	InputPerMTok      float64 `yaml:"input_per_mtok"`
	OutputPerMTok     float64 `yaml:"output_per_mtok"`
	CacheWritePerMTok float64 `yaml:"cache_write_per_mtok"`
	CacheReadPerMTok  float64 `yaml:"cache_read_per_mtok"`
}

// Table maps model names and aliases to pricing. Immutable after construction.
type Table struct {
	byName  map[string]ModelPricing
	aliases map[string]string
}

// tableFile is the on-disk YAML layout for a price table.
type tableFile struct {
	Aliases map[string]string       `yaml:"aliases"`
	Models  map[string]ModelPricing `yaml:"models"`
}

// Default returns the built-in price table with approximate current rates.
// Rates are data, not contract; override with a price file when exactness matters.
func Default() *Table {
	return newTable(tableFile{
		Aliases: map[string]string{
			"haiku":  "claude-haiku-4-5",
			"sonnet": "claude-sonnet-4-5",
			"opus":   "claude-opus-4-5",
		},
		Models: map[string]ModelPricing{
			"claude-haiku-4-5": {
				Name:              "claude-haiku-4-5",
				InputPerMTok:      1.00,
				OutputPerMTok:     5.00,
				CacheWritePerMTok: 1.25,
				CacheReadPerMTok:  0.10,
			},
			"claude-sonnet-4-5": {
				Name:              "claude-sonnet-4-5",
				InputPerMTok:      3.00,
				OutputPerMTok:     15.00,
				CacheWritePerMTok: 3.75,
				CacheReadPerMTok:  0.30,
			},
			"claude-opus-4-5": {
				Name:              "claude-opus-4-5",
				InputPerMTok:      5.00,
				OutputPerMTok:     25.00,
				CacheWritePerMTok: 6.25,
				CacheReadPerMTok:  0.50,
			},
		},
	})
}

// Load reads a price table from a YAML file.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read price file %s: %w", path, err)
	}

	var file tableFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse price file %s: %w", path, err)
	}
	if len(file.Models) == 0 {
		return nil, fmt.Errorf("price file %s defines no models", path)
	}

	return newTable(file), nil
}

func newTable(file tableFile) *Table {
	t := &Table{
		byName:  make(map[string]ModelPricing, len(file.Models)),
		aliases: make(map[string]string, len(file.Aliases)),
	}
	for name, mp := range file.Models {
		if mp.Name == "" {
			mp.Name = name
		}
		t.byName[name] = mp
	}
	for alias, target := range file.Aliases {
		t.aliases[strings.ToLower(alias)] = target
	}
	return t
}

// Resolve returns the pricing for a model name or alias.
func (t *Table) Resolve(model string) (ModelPricing, bool) {
	if mp, ok := t.byName[model]; ok {
		return mp, true
	}
	if target, ok := t.aliases[strings.ToLower(model)]; ok {
		mp, ok := t.byName[target]
		return mp, ok
	}
	return ModelPricing{}, false
}

// Cost computes the USD cost of a usage sample under the given model.
// Unknown models cost zero; callers that need strictness use Resolve first.
func (t *Table) Cost(model string, usage models.TokenUsage) float64 {
	mp, ok := t.Resolve(model)
	if !ok {
		return 0
	}
	const mtok = 1_000_000
	return float64(usage.InputTokens)/mtok*mp.InputPerMTok +
		float64(usage.OutputTokens)/mtok*mp.OutputPerMTok +
		float64(usage.CacheWriteTokens)/mtok*mp.CacheWritePerMTok +
		float64(usage.CacheReadTokens)/mtok*mp.CacheReadPerMTok
}

// Models returns the names of all models in the table.
func (t *Table) Models() []string {
	names := make([]string, 0, len(t.byName))
	for name := range t.byName {
		names = append(names, name)
	}
	return names
}
