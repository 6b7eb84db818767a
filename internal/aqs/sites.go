package aqs

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"go.yaml.in/yaml/v3"
)

// ErrUnknownSite is returned by Lookup for a name not in the registry.
var ErrUnknownSite = errors.New("unknown site")

// Registry is the read-only name → site table used for a run.
type Registry struct {
	sites []Site
	index map[string]int
}

// registryFile is the on-disk YAML layout:
//
//	sites:
//	  - name: Queens
//	    state: "36"
//	    county: "081"
//	    site: "0124"
type registryFile struct {
	Sites []Site `yaml:"sites"`
}

// DefaultRegistry returns the built-in site table.
func DefaultRegistry() *Registry {
	r, err := NewRegistry([]Site{
		{Name: "Queens", State: "36", County: "081", Station: "0124"},
		{Name: "Chester", State: "34", County: "027", Station: "3001"},
	})
	if err != nil {
		panic(err)
	}
	return r
}

// NewRegistry validates sites and builds a registry preserving their order.
func NewRegistry(sites []Site) (*Registry, error) {
	if len(sites) == 0 {
		return nil, errors.New("registry has no sites")
	}

	r := &Registry{
		sites: make([]Site, 0, len(sites)),
		index: make(map[string]int, len(sites)),
	}
	for i, s := range sites {
		s.Name = strings.TrimSpace(s.Name)
		if s.Name == "" {
			return nil, fmt.Errorf("site #%d: empty name", i)
		}
		if _, dup := r.index[s.Name]; dup {
			return nil, fmt.Errorf("site %q: duplicate name", s.Name)
		}
		for _, f := range []struct{ key, val string }{
			{"state", s.State},
			{"county", s.County},
			{"site", s.Station},
		} {
			if !isDigits(f.val) {
				return nil, fmt.Errorf("site %q: invalid %s code %q", s.Name, f.key, f.val)
			}
		}
		r.index[s.Name] = len(r.sites)
		r.sites = append(r.sites, s)
	}
	return r, nil
}

// LoadRegistry reads a YAML registry file. Unknown keys are rejected.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}

	var rf registryFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&rf); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse registry %s: %w", path, err)
	}

	r, err := NewRegistry(rf.Sites)
	if err != nil {
		return nil, fmt.Errorf("registry %s: %w", path, err)
	}
	return r, nil
}

// Sites returns the sites in declaration order.
func (r *Registry) Sites() []Site {
	out := make([]Site, len(r.sites))
	copy(out, r.sites)
	return out
}

// Lookup returns the site registered under name.
func (r *Registry) Lookup(name string) (Site, error) {
	i, ok := r.index[name]
	if !ok {
		return Site{}, fmt.Errorf("%w: %q", ErrUnknownSite, name)
	}
	return r.sites[i], nil
}

// Len returns the number of registered sites.
func (r *Registry) Len() int {
	return len(r.sites)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
