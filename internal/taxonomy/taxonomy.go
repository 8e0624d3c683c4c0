// Package taxonomy holds the category taxonomy and the fixed system prompt
// sent with every categorization call.
package taxonomy

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

// Subcategory is a leaf of the taxonomy with optional keyword hints.
type Subcategory struct {
	Name     string   `yaml:"name" toml:"name"`
	Keywords []string `yaml:"keywords" toml:"keywords"`
}

// Category is a top-level category.
type Category struct {
	Name          string        `yaml:"name" toml:"name"`
	Subcategories []Subcategory `yaml:"subcategories" toml:"subcategories"`
}

// Taxonomy is the full set of categories offered to the model.
type Taxonomy struct {
	FallbackCategory string     `yaml:"fallback_category" toml:"fallback_category"`
	Categories       []Category `yaml:"categories" toml:"categories"`
	Hints            []string   `yaml:"hints" toml:"hints"`
}

// Default returns the built-in taxonomy.
func Default() (*Taxonomy, error) {
	return parse(defaultYAML, ".yaml")
}

// Load reads a taxonomy file; the format follows the extension (.yaml, .yml
// or .toml). An empty path returns the built-in taxonomy.
func Load(path string) (*Taxonomy, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("Load: reading taxonomy %q: %w", path, err)
	}
	t, err := parse(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("Load: %q: %w", path, err)
	}
	return t, nil
}

func parse(data []byte, ext string) (*Taxonomy, error) {
	var t Taxonomy
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("parsing yaml taxonomy: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("parsing toml taxonomy: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported taxonomy format %q", ext)
	}

	if err := t.validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

func (t *Taxonomy) validate() error {
	if len(t.Categories) == 0 {
		return fmt.Errorf("taxonomy has no categories")
	}
	seen := make(map[string]bool, len(t.Categories))
	for _, c := range t.Categories {
		name := normalizeCategory(c.Name)
		if name == "" {
			return fmt.Errorf("taxonomy has a category without a name")
		}
		if seen[name] {
			return fmt.Errorf("duplicate category %q", c.Name)
		}
		seen[name] = true
	}
	if t.FallbackCategory != "" && !seen[normalizeCategory(t.FallbackCategory)] {
		return fmt.Errorf("fallback category %q is not in the taxonomy", t.FallbackCategory)
	}
	return nil
}

// Render formats the taxonomy as the categorization rules block of the prompt.
func (t *Taxonomy) Render() string {
	var b strings.Builder

	b.WriteString("**CATEGORIAS PRINCIPAIS:**\n")
	for _, c := range t.Categories {
		b.WriteString("- " + c.Name + "\n")
	}

	b.WriteString("\n**SUBCATEGORIAS por categoria (com exemplos de palavras-chave):**\n")
	for _, c := range t.Categories {
		b.WriteString("\n" + c.Name + ":\n")
		for _, s := range c.Subcategories {
			b.WriteString("• " + s.Name)
			if len(s.Keywords) > 0 {
				b.WriteString(" (ex: " + strings.Join(s.Keywords, ", ") + ")")
			}
			b.WriteString("\n")
		}
	}

	b.WriteString("\n**INSTRUÇÕES CRÍTICAS DE CATEGORIZAÇÃO:**\n")
	if t.FallbackCategory != "" {
		fmt.Fprintf(&b, "- EVITE usar %s como primeira opção - use apenas quando realmente não houver outra categoria aplicável\n", t.FallbackCategory)
	}
	b.WriteString("- Analise MUITO cuidadosamente o nome da transação antes de categorizar\n")
	b.WriteString("- Procure por palavras-chave específicas mencionadas nos exemplos\n")
	b.WriteString("- Se encontrar uma palavra-chave específica, use a subcategoria correspondente\n")
	for _, h := range t.Hints {
		b.WriteString("- " + h + "\n")
	}
	b.WriteString("- Se não encontrar uma correspondência exata, use a categoria mais lógica baseada no contexto\n")
	if t.FallbackCategory != "" {
		fmt.Fprintf(&b, "- APENAS use %s quando a transação realmente não se encaixar em nenhuma das outras %d categorias\n",
			t.FallbackCategory, len(t.Categories)-1)
	}

	b.WriteString(extractionRules)
	return b.String()
}

const extractionRules = `
**DETECÇÃO DE PARCELAMENTO:**
- Procure por padrões como: "1/12", "02/10", "PARC 3/6", "PARCELA 1 DE 12", "(3/9)"
- Se encontrar, defina parcelado=true e extraia os números
- Se não encontrar indicadores, defina parcelado=false e NÃO inclua numero_parcelas nem total_parcelas

**REGRA CRÍTICA DE EXTRAÇÃO COMPLETA:**
- NUNCA pule uma transação que tenha um valor monetário identificável e uma data
- Se uma linha contém R$ seguido de um número, considere-a uma possível transação
- Prefira incluir transações duvidosas a omiti-las
- Se não conseguir identificar a descrição completa, use o texto disponível
- Para linhas com valores isolados, tente associar com contexto próximo

**TIPO DE DOCUMENTO:**
- Se contém cabeçalhos como "FATURA", "CARTÃO", "CARD", use "credit-card-statement"
- Se contém "EXTRATO", "CONTA CORRENTE", "POUPANÇA", use "bank-statement"
- Se não conseguir determinar, use "other"
`
