package giftlist

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Owner maps a list owner to the site's numeric list identifier.
type Owner struct {
	Name string `mapstructure:"owner" yaml:"owner"`
	ID   int    `mapstructure:"id" yaml:"id"`
}

// Path returns the list path relative to the site root.
func (o Owner) Path() string {
	return strconv.Itoa(o.ID)
}

// Registry is the ordered, fixed set of lists to scrape.
type Registry []Owner

// DefaultRegistry returns the reference deployment's owners.
func DefaultRegistry() Registry {
	return Registry{
		{Name: "Philippe", ID: 82254},
		{Name: "Marion", ID: 70277},
		{Name: "Kevin", ID: 70861},
		{Name: "Laure-Elodie", ID: 61056},
		{Name: "Teyrence", ID: 75829},
		{Name: "Mathéo", ID: 61275},
		{Name: "David", ID: 71513},
		{Name: "Fanny", ID: 71087},
		{Name: "Alizéa", ID: 81068},
		{Name: "Emma", ID: 71511},
		{Name: "Dominique", ID: 101938},
		{Name: "Marie-Danièle", ID: 71089},
	}
}

// Validate rejects empty names, non-positive ids and duplicate owners.
func (r Registry) Validate() error {
	if len(r) == 0 {
		return errors.New("registry must list at least one owner")
	}
	seen := make(map[string]struct{}, len(r))
	for i, o := range r {
		name := strings.TrimSpace(o.Name)
		if name == "" {
			return fmt.Errorf("registry entry %d: owner is required", i)
		}
		if o.ID <= 0 {
			return fmt.Errorf("registry entry %q: id must be > 0", name)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("registry entry %q: duplicate owner", name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

// LoadRegistry reads a YAML list of {owner, id} pairs.
func LoadRegistry(path string) (Registry, error) {
	// #nosec G304 -- path comes from operator configuration.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry file: %w", err)
	}
	var reg Registry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("decode registry file: %w", err)
	}
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	return reg, nil
}
