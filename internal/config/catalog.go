package config

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/abdulachik/aipulse/internal/model"
)

//go:embed sources.yaml
var defaultSources []byte

// Catalog lists the GitHub repositories and RSS feeds to track.
type Catalog struct {
	Repos []model.TrackedRepo `yaml:"repos"`
	Feeds []model.FeedSource  `yaml:"feeds"`
}

// LoadCatalog reads the catalog from path, or the built-in catalog when path
// is empty.
func LoadCatalog(path string) (*Catalog, error) {
	data := defaultSources
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read sources file: %w", err)
		}
		data = b
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a YAML catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse sources: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks every entry has its identifying fields set and that no
// repository or feed appears twice.
func (c *Catalog) Validate() error {
	repos := make(map[string]bool)
	for i, r := range c.Repos {
		if r.Owner == "" || r.Repo == "" {
			return fmt.Errorf("repo %d: owner and repo are required", i)
		}
		if repos[r.FullName()] {
			return fmt.Errorf("repo %s listed twice", r.FullName())
		}
		repos[r.FullName()] = true
		if r.Company == "" {
			c.Repos[i].Company = model.CompanyOther
		}
	}

	feeds := make(map[string]bool)
	for i, f := range c.Feeds {
		if f.Name == "" || f.URL == "" {
			return fmt.Errorf("feed %d: name and url are required", i)
		}
		if feeds[f.Name] {
			return fmt.Errorf("feed %q listed twice", f.Name)
		}
		feeds[f.Name] = true
		if f.Company == "" {
			c.Feeds[i].Company = model.CompanyVarious
		}
	}
	return nil
}
