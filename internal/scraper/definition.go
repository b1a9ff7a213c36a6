package scraper

import (
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"jobinsight/discovery-service/internal/errors"
	"jobinsight/discovery-service/internal/linknorm"
)

const (
	KindHTML   = "html"
	KindAdzuna = "adzuna"

	defaultDetailWorkers = 6
	defaultMaxPages      = 5
	defaultRatePerSecond = 2.0
)

// Definition describes one configured source. Sources are listed primary
// first.
type Definition struct {
	Name     string  `yaml:"name"`
	Kind     string  `yaml:"kind"`
	Weight   float64 `yaml:"weight"`
	Disabled bool    `yaml:"disabled"`

	// SearchURL may contain {keyword} and {page}. Without {page} only one
	// page is read.
	SearchURL     string    `yaml:"search_url"`
	MaxPages      int       `yaml:"max_pages"`
	DetailWorkers int       `yaml:"detail_workers"`
	RatePerSecond float64   `yaml:"rate_per_second"`
	RequireSkills bool      `yaml:"require_skills"`
	Selectors     Selectors `yaml:"selectors"`
	LinkRule      *LinkRule `yaml:"link_rule"`
}

// Selectors are goquery (CSS) selectors. Card-level selectors are relative to
// the card.
type Selectors struct {
	Card  string `yaml:"card"`
	Title string `yaml:"title"`
	// Link is the element carrying the link; empty means the card itself.
	Link     string `yaml:"link"`
	LinkAttr string `yaml:"link_attr"`
	// LinkTrimPrefix is stripped from the attribute value, then LinkTemplate
	// (if set) replaces {value} with what remains.
	LinkTrimPrefix string `yaml:"link_trim_prefix"`
	LinkTemplate   string `yaml:"link_template"`
	Salary         string `yaml:"salary"`
	SalaryContains string `yaml:"salary_contains"`
	Skills         string `yaml:"skills"`
	// DetailSkills is applied to each posting's own page.
	DetailSkills string `yaml:"detail_skills"`
}

// LinkRule is a linknorm.Rule in configuration form.
type LinkRule struct {
	Domain  string `yaml:"domain"`
	Pattern string `yaml:"pattern"`
	Path    string `yaml:"path"`
}

// ParseDefinitions decodes a YAML document of the form {sources: [...]},
// applies defaults and validates every enabled entry.
func ParseDefinitions(data []byte) ([]Definition, error) {
	var doc struct {
		Sources []Definition `yaml:"sources"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "decode source definitions")
	}

	var defs []Definition
	seen := make(map[string]struct{})
	for i, d := range doc.Sources {
		if d.Disabled {
			continue
		}
		d.applyDefaults()
		if err := d.validate(); err != nil {
			return nil, errors.Wrapf(err, "source #%d", i+1)
		}
		if _, dup := seen[d.Name]; dup {
			return nil, errors.InvalidRequestf("source %q defined twice", d.Name)
		}
		seen[d.Name] = struct{}{}
		defs = append(defs, d)
	}
	if len(defs) == 0 {
		return nil, errors.InvalidRequestf("no enabled sources")
	}
	return defs, nil
}

func (d *Definition) applyDefaults() {
	d.Name = strings.TrimSpace(d.Name)
	d.Kind = strings.ToLower(strings.TrimSpace(d.Kind))
	if d.Kind == "" {
		d.Kind = KindHTML
	}
	if d.Weight == 0 {
		d.Weight = 1
	}
	if d.MaxPages <= 0 {
		d.MaxPages = defaultMaxPages
	}
	if !strings.Contains(d.SearchURL, "{page}") {
		d.MaxPages = 1
	}
	if d.DetailWorkers <= 0 {
		d.DetailWorkers = defaultDetailWorkers
	}
	if d.RatePerSecond <= 0 {
		d.RatePerSecond = defaultRatePerSecond
	}
	if d.Selectors.LinkAttr == "" {
		d.Selectors.LinkAttr = "href"
	}
}

func (d Definition) validate() error {
	if d.Name == "" {
		return errors.InvalidRequestf("name is required")
	}
	if d.Weight < 0 {
		return errors.InvalidRequestf("source %q: negative weight", d.Name)
	}
	switch d.Kind {
	case KindAdzuna:
		return nil
	case KindHTML:
	default:
		return errors.InvalidRequestf("source %q: unknown kind %q", d.Name, d.Kind)
	}
	if !strings.Contains(d.SearchURL, "{keyword}") {
		return errors.InvalidRequestf("source %q: search_url must contain {keyword}", d.Name)
	}
	if d.Selectors.Card == "" || d.Selectors.Title == "" {
		return errors.InvalidRequestf("source %q: card and title selectors are required", d.Name)
	}
	if d.LinkRule != nil {
		if _, err := d.LinkRule.compile(); err != nil {
			return err
		}
	}
	return nil
}

func (r LinkRule) compile() (linknorm.Rule, error) {
	return linknorm.ParseRule(r.Domain, r.Pattern, r.Path)
}

// AdzunaCredentials configure sources of kind adzuna.
type AdzunaCredentials struct {
	AppID   string
	AppKey  string
	Country string
}

// Build creates the sources for defs, in order, and the link normalizer that
// covers the built-in rules plus every definition's link_rule.
func Build(defs []Definition, adz AdzunaCredentials, logger *zap.Logger) ([]Weighted, *linknorm.Normalizer, error) {
	rules := linknorm.DefaultRules()
	for _, d := range defs {
		if d.LinkRule == nil {
			continue
		}
		r, err := d.LinkRule.compile()
		if err != nil {
			return nil, nil, err
		}
		rules = append(rules, r)
	}
	norm := linknorm.New(rules...)

	sources := make([]Weighted, 0, len(defs))
	for _, d := range defs {
		var src Source
		switch d.Kind {
		case KindAdzuna:
			src = NewAdzunaSource(adz.AppID, adz.AppKey, adz.Country, logger)
		default:
			h, err := NewHTMLSource(d, norm, logger)
			if err != nil {
				return nil, nil, err
			}
			src = h
		}
		sources = append(sources, Weighted{Source: src, Weight: d.Weight})
	}
	return sources, norm, nil
}
