// Package extract turns normalized page content into structured product
// fields using a language model with category-specific prompt templates.
package extract

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Template is one category's prompt configuration.
type Template struct {
	System       string `yaml:"system"`
	Instructions string `yaml:"instructions"`
}

// Templates holds the category prompt templates. Unknown categories fall
// back to the default template.
type Templates struct {
	categories map[string]Template
}

const defaultSystem = `You are a product data extraction engine. You read the text of a product web page and return exactly one JSON object with the product's attributes. Return only the JSON object, no prose. Use null for attributes not present on the page. Never invent values.`

const defaultInstructions = `Extract the product attributes from the page content below.

Return a JSON object with exactly these keys:
  "type": short product category, e.g. "kitchen faucet"
  "description": the product's full descriptive name or summary
  "model_no": the manufacturer model number
  "image_url": URL of the primary product image
  "product_link": canonical URL of the product page
  "qty": package quantity as an integer, if stated
  "key": the vendor SKU or internal part key, if stated`

// DefaultTemplate returns the built-in fallback template.
func DefaultTemplate() Template {
	return Template{System: defaultSystem, Instructions: defaultInstructions}
}

type templatesFile struct {
	Categories map[string]Template `yaml:"categories"`
}

// LoadTemplates reads category templates from a YAML file. A missing file
// is not an error: the built-in default template covers every category.
func LoadTemplates(path string) (*Templates, error) {
	t := &Templates{categories: map[string]Template{}}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return t, nil
		}
		return nil, eris.Wrapf(err, "extract: read templates %s", path)
	}

	var file templatesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, eris.Wrapf(err, "extract: parse templates %s", path)
	}

	for name, tpl := range file.Categories {
		if tpl.System == "" {
			tpl.System = defaultSystem
		}
		if tpl.Instructions == "" {
			tpl.Instructions = defaultInstructions
		}
		t.categories[name] = tpl
	}
	return t, nil
}

// Get returns the template for a category, falling back to the default.
func (t *Templates) Get(category string) Template {
	if t != nil {
		if tpl, ok := t.categories[category]; ok {
			return tpl
		}
	}
	return DefaultTemplate()
}
