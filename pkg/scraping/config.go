// Package scraping holds the scraping schedule model. Miner coordinators run
// their scrapers from it; the validator carries it so the reward config and
// ops tooling can consume the same schedule definition.
package scraping

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/gather-network/gatherx/pkg/data"
)

// LabelScrapingConfig constrains one scraping pass over a set of labels.
type LabelScrapingConfig struct {
	// LabelChoices are the labels to pick from on each pass. Empty means the
	// pass scrapes unlabeled data.
	LabelChoices []string `json:"label_choices,omitempty"`

	// MaxAgeInMinutes bounds how old scraped content may be. Zero means no
	// age bound.
	MaxAgeInMinutes int `json:"max_age_in_minutes,omitempty"`

	// MaxItems bounds how many items one pass may collect. Zero means no
	// item bound.
	MaxItems int `json:"max_items,omitempty"`
}

// Labels parses and canonicalizes the configured label choices.
func (c *LabelScrapingConfig) Labels() ([]*data.DataLabel, error) {
	labels := make([]*data.DataLabel, 0, len(c.LabelChoices))
	for _, choice := range c.LabelChoices {
		label, err := data.NewDataLabel(choice)
		if err != nil {
			return nil, err
		}
		labels = append(labels, label)
	}
	return labels, nil
}

func (c *LabelScrapingConfig) validate() error {
	if c.MaxAgeInMinutes < 0 {
		return fmt.Errorf("max_age_in_minutes must not be negative, got %d", c.MaxAgeInMinutes)
	}
	if c.MaxItems < 0 {
		return fmt.Errorf("max_items must not be negative, got %d", c.MaxItems)
	}
	_, err := c.Labels()
	return err
}

// SourceConfig is the scraping schedule for one data source.
type SourceConfig struct {
	Source         data.DataSource       `json:"source"`
	CadenceSecs    int                   `json:"cadence_secs"`
	LabelsToScrape []LabelScrapingConfig `json:"labels_to_scrape,omitempty"`
}

// Cadence returns the configured cadence as a duration.
func (c *SourceConfig) Cadence() time.Duration {
	return time.Duration(c.CadenceSecs) * time.Second
}

func (c *SourceConfig) validate() error {
	if !c.Source.Valid() {
		return fmt.Errorf("unknown source %d", int32(c.Source))
	}
	if c.CadenceSecs <= 0 {
		return fmt.Errorf("source %s: cadence_secs must be positive, got %d", c.Source, c.CadenceSecs)
	}
	for i := range c.LabelsToScrape {
		if err := c.LabelsToScrape[i].validate(); err != nil {
			return fmt.Errorf("source %s: labels_to_scrape[%d]: %w", c.Source, i, err)
		}
	}
	return nil
}

// Config is the full scraping schedule. Source order is preserved; the
// tracker reports due sources in this order.
type Config struct {
	SourceConfigs []SourceConfig `json:"source_configs"`
}

// Validate checks the schedule for contradictions.
func (c *Config) Validate() error {
	seen := make(map[data.DataSource]struct{}, len(c.SourceConfigs))
	for i := range c.SourceConfigs {
		sc := &c.SourceConfigs[i]
		if err := sc.validate(); err != nil {
			return fmt.Errorf("source_configs[%d]: %w", i, err)
		}
		if _, dup := seen[sc.Source]; dup {
			return fmt.Errorf("source_configs[%d]: duplicate source %s", i, sc.Source)
		}
		seen[sc.Source] = struct{}{}
	}
	return nil
}

// ForSource returns the schedule for one source, if configured.
func (c *Config) ForSource(source data.DataSource) (SourceConfig, bool) {
	for i := range c.SourceConfigs {
		if c.SourceConfigs[i].Source == source {
			return c.SourceConfigs[i], true
		}
	}
	return SourceConfig{}, false
}

// Parse decodes and validates a JSON schedule.
func Parse(b []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse scraping config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scraping config: %w", err)
	}
	return &cfg, nil
}

// Load reads and parses a JSON schedule from disk.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scraping config: %w", err)
	}
	return Parse(b)
}
