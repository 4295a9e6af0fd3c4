// Package catalog holds the product configuration: industrial classification
// codes per nomenclature epoch, trade (HS) code associations, waste-category
// links and the manually configured circularity-rate assumptions. The catalog
// is read-only to the pipeline and fully validated at load time.
package catalog

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Code associates one industrial classification code with the HS codes the
// trade source uses for the same goods.
type Code struct {
	Prodcom string   `yaml:"prodcom"`
	HS      []string `yaml:"hs"`
}

// Epoch is a year interval during which one classification code list is
// authoritative. The nomenclature itself changed at a known cutover year, so
// a product typically carries one epoch per list revision.
type Epoch struct {
	List      string `yaml:"list"`
	StartYear int    `yaml:"start_year"`
	EndYear   int    `yaml:"end_year"`
	Codes     []Code `yaml:"codes"`
}

// Rates are the manually configured circularity-rate assumptions.
type Rates struct {
	CurrentPct   float64 `yaml:"current_pct"`
	PotentialPct float64 `yaml:"potential_pct"`
}

// Product is one configured product.
type Product struct {
	Key             string   `yaml:"key"`
	Name            string   `yaml:"name"`
	AvgWeightKG     float64  `yaml:"avg_weight_kg,omitempty"`
	WasteCategories []string `yaml:"waste_categories,omitempty"`
	Epochs          []Epoch  `yaml:"epochs"`
	Rates           Rates    `yaml:"rates"`
}

// Catalog is the full product configuration.
type Catalog struct {
	Products []Product `yaml:"products"`
}

// Load reads and validates a catalog file. Any inconsistency is a
// configuration error and must abort the run before any year is processed.
func Load(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var c Catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks the catalog invariants.
func (c *Catalog) Validate() error {
	seen := make(map[string]bool)
	for _, p := range c.Products {
		if p.Key == "" {
			return fmt.Errorf("catalog: product with empty key")
		}
		if seen[p.Key] {
			return fmt.Errorf("catalog: duplicate product key %q", p.Key)
		}
		seen[p.Key] = true

		if p.Rates.CurrentPct < 0 || p.Rates.CurrentPct > 100 ||
			p.Rates.PotentialPct < 0 || p.Rates.PotentialPct > 100 {
			return fmt.Errorf("catalog: product %q: rates must be within 0-100", p.Key)
		}
		if p.Rates.PotentialPct < p.Rates.CurrentPct {
			return fmt.Errorf("catalog: product %q: potential rate %.1f below current %.1f",
				p.Key, p.Rates.PotentialPct, p.Rates.CurrentPct)
		}
		if len(p.Epochs) == 0 {
			return fmt.Errorf("catalog: product %q: no epochs configured", p.Key)
		}
		for i, e := range p.Epochs {
			if e.StartYear > e.EndYear {
				return fmt.Errorf("catalog: product %q: epoch %s has start %d after end %d",
					p.Key, e.List, e.StartYear, e.EndYear)
			}
			if len(e.Codes) == 0 {
				return fmt.Errorf("catalog: product %q: epoch %s has no codes", p.Key, e.List)
			}
			// Epoch ranges must not overlap: at most one code list may be
			// active for any (product, year).
			for j := 0; j < i; j++ {
				o := p.Epochs[j]
				if e.StartYear <= o.EndYear && o.StartYear <= e.EndYear {
					return fmt.Errorf("catalog: product %q: epochs %s and %s overlap",
						p.Key, o.List, e.List)
				}
			}
		}
	}
	return nil
}

// Get returns a product by key.
func (c *Catalog) Get(key string) (Product, bool) {
	for _, p := range c.Products {
		if p.Key == key {
			return p, true
		}
	}
	return Product{}, false
}

// ActiveEpoch returns the product epoch covering the given year.
func (p Product) ActiveEpoch(year int) (Epoch, bool) {
	for _, e := range p.Epochs {
		if year >= e.StartYear && year <= e.EndYear {
			return e, true
		}
	}
	return Epoch{}, false
}

// ActiveCode is one (product, industrial code) pair valid for a year.
type ActiveCode struct {
	ProductKey string
	Prodcom    string
	HS         []string
}

// ActiveCodes resolves, per year, which industrial codes are in force. A
// product whose epochs do not cover the year contributes nothing; that is
// expected for products that only exist from a later year onward.
func (c *Catalog) ActiveCodes(year int) []ActiveCode {
	var out []ActiveCode
	for _, p := range c.Products {
		e, ok := p.ActiveEpoch(year)
		if !ok {
			continue
		}
		for _, code := range e.Codes {
			out = append(out, ActiveCode{ProductKey: p.Key, Prodcom: code.Prodcom, HS: code.HS})
		}
	}
	return out
}

// ProdcomIndex maps active industrial codes back to their product for a year.
func (c *Catalog) ProdcomIndex(year int) map[string]string {
	idx := make(map[string]string)
	for _, ac := range c.ActiveCodes(year) {
		idx[ac.Prodcom] = ac.ProductKey
	}
	return idx
}

// HSMatch is one resolved trade-code association.
type HSMatch struct {
	ProductKey string
	Prodcom    string
}

// normalizeCode strips punctuation so "8418.69" and "841869" compare equal.
func normalizeCode(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// MatchHS expands a trade HS code into the industrial codes it maps to for
// the given year. Matching is a punctuation-stripped containment test
// against the per-epoch HS associations, and candidates are filtered by the
// epoch year range so an HS code is never mapped into an epoch that does
// not cover the trade year. One HS code may legitimately fan out into
// several industrial codes.
func (c *Catalog) MatchHS(hs string, year int) []HSMatch {
	nhs := normalizeCode(hs)
	if nhs == "" {
		return nil
	}
	var out []HSMatch
	for _, p := range c.Products {
		e, ok := p.ActiveEpoch(year)
		if !ok {
			continue
		}
		for _, code := range e.Codes {
			for _, assoc := range code.HS {
				na := normalizeCode(assoc)
				if na == "" {
					continue
				}
				if strings.HasPrefix(nhs, na) || strings.Contains(na, nhs) {
					out = append(out, HSMatch{ProductKey: p.Key, Prodcom: code.Prodcom})
					break
				}
			}
		}
	}
	return out
}
