package engagement

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/focusquest/focusquest/internal/domain"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// AppRule maps app-name keywords to an activity category.
type AppRule struct {
	Category string   `yaml:"category"`
	Keywords []string `yaml:"keywords"`
}

// Catalog is the decoded, validated reward catalog. Predicates are decoded
// once here; nothing downstream parses catalog data again.
type Catalog struct {
	Apps         []AppRule
	Missions     []domain.MissionDef
	Achievements []domain.AchievementDef
	Items        []domain.Item
	Offers       []domain.Offer

	missions     map[string]domain.MissionDef
	achievements map[string]domain.AchievementDef
	items        map[string]domain.Item
	offers       map[string]domain.Offer
}

type rawCatalog struct {
	Apps         []AppRule               `yaml:"apps"`
	Missions     []domain.MissionDef     `yaml:"missions"`
	Achievements []domain.AchievementDef `yaml:"achievements"`
	Items        []domain.Item           `yaml:"items"`
	Offers       []domain.Offer          `yaml:"offers"`
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalog)
}

// LoadCatalog reads a catalog file. An empty path selects the built-in one.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes YAML catalog data. Malformed entries are logged and
// skipped; only undecodable YAML is an error.
func ParseCatalog(data []byte) (*Catalog, error) {
	var raw rawCatalog
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	log := slog.Default().With("component", "catalog")
	c := &Catalog{
		missions:     make(map[string]domain.MissionDef),
		achievements: make(map[string]domain.AchievementDef),
		items:        make(map[string]domain.Item),
		offers:       make(map[string]domain.Offer),
	}

	for _, r := range raw.Apps {
		if r.Category == "" || len(r.Keywords) == 0 {
			log.Warn("skipping app rule without category or keywords", "category", r.Category)
			continue
		}
		rule := AppRule{Category: strings.ToLower(r.Category)}
		for _, kw := range r.Keywords {
			if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
				rule.Keywords = append(rule.Keywords, kw)
			}
		}
		c.Apps = append(c.Apps, rule)
	}

	for _, m := range raw.Missions {
		if err := validateMission(m); err != nil {
			log.Warn("skipping malformed mission", "id", m.ID, "err", err)
			continue
		}
		if _, dup := c.missions[m.ID]; dup {
			log.Warn("skipping duplicate mission", "id", m.ID)
			continue
		}
		c.missions[m.ID] = m
		c.Missions = append(c.Missions, m)
	}

	for _, a := range raw.Achievements {
		if err := validateAchievement(a); err != nil {
			log.Warn("skipping malformed achievement", "id", a.ID, "err", err)
			continue
		}
		if _, dup := c.achievements[a.ID]; dup {
			log.Warn("skipping duplicate achievement", "id", a.ID)
			continue
		}
		c.achievements[a.ID] = a
		c.Achievements = append(c.Achievements, a)
	}

	for _, it := range raw.Items {
		if it.ID == "" {
			log.Warn("skipping item without id", "name", it.Name)
			continue
		}
		if it.XPMultiplier < 0 || it.Duration < 0 {
			log.Warn("skipping item with negative multiplier or duration", "id", it.ID)
			continue
		}
		c.items[it.ID] = it
		c.Items = append(c.Items, it)
	}

	for _, o := range raw.Offers {
		if o.ID == "" || o.Price < 0 {
			log.Warn("skipping malformed offer", "id", o.ID)
			continue
		}
		if _, ok := c.items[o.ItemID]; !ok {
			log.Warn("skipping offer for unknown item", "id", o.ID, "item", o.ItemID)
			continue
		}
		if o.Quantity <= 0 {
			o.Quantity = 1
		}
		c.offers[o.ID] = o
		c.Offers = append(c.Offers, o)
	}

	return c, nil
}

func validateMission(m domain.MissionDef) error {
	switch {
	case m.ID == "":
		return fmt.Errorf("missing id")
	case m.MetricKey == "":
		return fmt.Errorf("missing metric_key")
	case m.Target <= 0:
		return fmt.Errorf("target must be positive, got %d", m.Target)
	case m.RewardXP < 0 || m.RewardCoins < 0:
		return fmt.Errorf("rewards must not be negative")
	}
	return nil
}

func validateAchievement(a domain.AchievementDef) error {
	if a.ID == "" {
		return fmt.Errorf("missing id")
	}
	if a.RewardXP < 0 || a.RewardCoins < 0 {
		return fmt.Errorf("rewards must not be negative")
	}
	return a.Predicate.Validate()
}

// Mission looks up a mission definition.
func (c *Catalog) Mission(id string) (domain.MissionDef, bool) {
	m, ok := c.missions[id]
	return m, ok
}

// Achievement looks up an achievement definition.
func (c *Catalog) Achievement(id string) (domain.AchievementDef, bool) {
	a, ok := c.achievements[id]
	return a, ok
}

// Item looks up an item definition.
func (c *Catalog) Item(id string) (domain.Item, bool) {
	it, ok := c.items[id]
	return it, ok
}

// Offer looks up a shop offer.
func (c *Catalog) Offer(id string) (domain.Offer, bool) {
	o, ok := c.offers[id]
	return o, ok
}

// CatalogCounts tallies catalog entries by section.
type CatalogCounts struct {
	Apps         int
	Missions     int
	Achievements int
	Items        int
	Offers       int
}

// CatalogReport compares what a catalog file declares with what survives
// validation.
type CatalogReport struct {
	Declared CatalogCounts
	Loaded   CatalogCounts
}

// Clean reports whether every declared entry was loaded.
func (r CatalogReport) Clean() bool {
	return r.Declared == r.Loaded
}

// InspectCatalog loads the catalog at path and reports how many entries
// were skipped. Skipped entries are logged as they are found.
func InspectCatalog(path string) (CatalogReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return CatalogReport{}, fmt.Errorf("read catalog: %w", err)
	}
	var raw rawCatalog
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return CatalogReport{}, fmt.Errorf("decode catalog: %w", err)
	}
	c, err := ParseCatalog(data)
	if err != nil {
		return CatalogReport{}, err
	}
	return CatalogReport{
		Declared: CatalogCounts{len(raw.Apps), len(raw.Missions), len(raw.Achievements), len(raw.Items), len(raw.Offers)},
		Loaded:   CatalogCounts{len(c.Apps), len(c.Missions), len(c.Achievements), len(c.Items), len(c.Offers)},
	}, nil
}
