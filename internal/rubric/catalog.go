package rubric

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
)

// Catalog is a versioned set of goals, usually loaded from a YAML file.
// It also serves as an in-memory Source.
type Catalog struct {
	Version string
	Goals   []*Goal
}

type catalogFile struct {
	Version string     `yaml:"version"`
	Goals   []goalFile `yaml:"goals"`
}

type goalFile struct {
	ID          string `yaml:"id"`
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	Items       []Item `yaml:"items"`

	// Kept as a node so an absent key (use the default) can be told apart
	// from an explicit null (never expires).
	CertificationDays yaml.Node `yaml:"certification_days"`
}

func (g goalFile) period(defaultPeriod time.Duration) (*time.Duration, error) {
	n := g.CertificationDays
	switch {
	case n.Kind == 0:
		p := defaultPeriod
		return &p, nil
	case n.Tag == "!!null":
		return nil, nil
	}
	var days int
	if err := n.Decode(&days); err != nil {
		return nil, fmt.Errorf("goal %q: certification_days: %w", g.ID, err)
	}
	p := time.Duration(days) * 24 * time.Hour
	return &p, nil
}

// LoadCatalog parses and validates a YAML catalog. Goals without a
// certification_days key receive defaultPeriod.
func LoadCatalog(r io.Reader, defaultPeriod time.Duration) (*Catalog, error) {
	var f catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	c := &Catalog{Version: f.Version}
	for _, gf := range f.Goals {
		g := &Goal{
			ID:          gf.ID,
			Title:       gf.Title,
			Description: gf.Description,
			Items:       gf.Items,
		}
		period, err := gf.period(defaultPeriod)
		if err != nil {
			return nil, err
		}
		g.CertificationPeriod = period
		c.Goals = append(c.Goals, g)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadCatalogFile reads a catalog from disk.
func LoadCatalogFile(path string, defaultPeriod time.Duration) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return LoadCatalog(f, defaultPeriod)
}

// Validate performs the structural checks on the catalog and returns a
// combined error describing every problem found.
func (c *Catalog) Validate() error {
	var errs []string

	if c.Version != "" && !semver.IsValid(CanonicalVersion(c.Version)) {
		errs = append(errs, fmt.Sprintf("catalog version %q is not a semantic version", c.Version))
	}

	goalIDs := make(map[string]bool, len(c.Goals))
	for _, g := range c.Goals {
		if strings.TrimSpace(g.ID) == "" {
			errs = append(errs, "goal with empty ID")
			continue
		}
		if goalIDs[g.ID] {
			errs = append(errs, fmt.Sprintf("duplicate goal ID: %q", g.ID))
		}
		goalIDs[g.ID] = true

		if g.CertificationPeriod != nil && *g.CertificationPeriod <= 0 {
			errs = append(errs, fmt.Sprintf("goal %q: certification period must be positive", g.ID))
		}

		itemIDs := make(map[string]bool, len(g.Items))
		for i, it := range g.Items {
			prefix := fmt.Sprintf("goal %q item %d", g.ID, i)
			if strings.TrimSpace(it.ID) == "" {
				errs = append(errs, prefix+": empty item ID")
				continue
			}
			prefix = fmt.Sprintf("goal %q item %q", g.ID, it.ID)
			if itemIDs[it.ID] {
				errs = append(errs, prefix+": duplicate item ID")
			}
			itemIDs[it.ID] = true
			if strings.TrimSpace(it.Criterion) == "" {
				errs = append(errs, prefix+": empty criterion")
			}
			if len(it.Hints) == 0 {
				errs = append(errs, prefix+": at least one hint is required")
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("rubric catalog validation failed:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}

// Warnings lists authoring issues that do not block loading.
func (c *Catalog) Warnings() []string {
	var out []string
	for _, g := range c.Goals {
		for _, it := range g.Items {
			if len(it.PassIndicators) < 2 {
				out = append(out, fmt.Sprintf("goal %q item %q has %d pass indicator(s); at least 2 are recommended",
					g.ID, it.ID, len(it.PassIndicators)))
			}
		}
	}
	return out
}

// Goal implements Source.
func (c *Catalog) Goal(_ context.Context, goalID string) (*Goal, error) {
	for _, g := range c.Goals {
		if g.ID == goalID {
			return g, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrGoalNotFound, goalID)
}

// ListGoals implements Source.
func (c *Catalog) ListGoals(_ context.Context) ([]*Goal, error) {
	return c.Goals, nil
}

// CanonicalVersion prefixes a bare version with "v" for semver comparison.
func CanonicalVersion(v string) string {
	v = strings.TrimSpace(v)
	if v == "" || strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}

// IsDowngrade reports whether installing next over current would move the
// catalog backwards.
func IsDowngrade(current, next string) bool {
	cur, nxt := CanonicalVersion(current), CanonicalVersion(next)
	if !semver.IsValid(cur) || !semver.IsValid(nxt) {
		return false
	}
	return semver.Compare(nxt, cur) < 0
}
