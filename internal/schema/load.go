package schema

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/viper"
)

var supportedExts = map[string]struct{}{
	".json": {},
	".yaml": {},
	".yml":  {},
}

// LoadFile reads one site descriptor. Unknown fields are rejected.
func LoadFile(path string) (Site, error) {
	// Translation keys such as "m.sc." must not be split into nested maps.
	v := viper.NewWithOptions(viper.KeyDelimiter("::"))
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Site{}, fmt.Errorf("read schema %s: %w", path, err)
	}
	var site Site
	if err := v.UnmarshalExact(&site); err != nil {
		return Site{}, fmt.Errorf("decode schema %s: %w", path, err)
	}
	if site.Name == "" {
		site.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	site.ApplyDefaults()
	if err := site.Validate(); err != nil {
		return Site{}, fmt.Errorf("invalid schema %s: %w", path, err)
	}
	return site, nil
}

// LoadDir reads every descriptor in dir, sorted by site name.
func LoadDir(dir string) ([]Site, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read schema dir: %w", err)
	}
	var sites []Site
	seen := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, ok := supportedExts[strings.ToLower(filepath.Ext(entry.Name()))]; !ok {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		site, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[site.Name]; dup {
			return nil, fmt.Errorf("site %q defined in both %s and %s", site.Name, prev, path)
		}
		seen[site.Name] = path
		sites = append(sites, site)
	}
	if len(sites) == 0 {
		return nil, errors.New("no site schemas found")
	}
	sort.Slice(sites, func(i, j int) bool { return sites[i].Name < sites[j].Name })
	return sites, nil
}

// Select keeps the named sites, preserving order. An empty filter keeps all.
func Select(sites []Site, names []string) ([]Site, error) {
	if len(names) == 0 {
		return sites, nil
	}
	want := make(map[string]bool, len(names))
	for _, name := range names {
		want[name] = false
	}
	var out []Site
	for _, site := range sites {
		if _, ok := want[site.Name]; ok {
			want[site.Name] = true
			out = append(out, site)
		}
	}
	for name, found := range want {
		if !found {
			return nil, fmt.Errorf("unknown site %q", name)
		}
	}
	return out, nil
}
