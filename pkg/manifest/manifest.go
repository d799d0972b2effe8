package manifest

import (
	"net/url"
	"os"

	"github.com/jmgilman/go/errors"
	"gopkg.in/yaml.v3"
)

// Manifest lists the URLs stored when a worker is installed.
// Static URLs are usually root-relative and go to the static namespace,
// external URLs are absolute and go to the external namespace.
type Manifest struct {
	Static   []string `yaml:"static"`
	External []string `yaml:"external"`
}

// Load reads a YAML manifest file.
func Load(filename string) (Manifest, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return Manifest{}, errors.Wrapf(err, errors.CodeInvalidConfig, "could not read manifest %s", filename)
	}
	return Parse(b)
}

// Parse parses and validates a YAML manifest.
// Duplicate URLs are dropped, keeping the first occurrence.
func Parse(b []byte) (Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(b, &m); err != nil {
		return m, errors.Wrap(err, errors.CodeInvalidConfig, "could not parse manifest")
	}
	return New(m.Static, m.External)
}

// New creates a validated manifest. Duplicate URLs are dropped, keeping the first occurrence.
func New(static, external []string) (Manifest, error) {
	m := Manifest{
		Static:   dedupe(static),
		External: dedupe(external),
	}
	return m, m.Validate()
}

// Validate checks that every URL parses and that external URLs are absolute.
func (m Manifest) Validate() error {
	for _, raw := range m.Static {
		if _, err := url.Parse(raw); err != nil || raw == "" {
			return errors.Newf(errors.CodeInvalidConfig, "invalid static manifest url %q", raw)
		}
	}
	for _, raw := range m.External {
		u, err := url.Parse(raw)
		if err != nil || !u.IsAbs() {
			return errors.Newf(errors.CodeInvalidConfig, "external manifest url %q must be absolute", raw)
		}
	}
	return nil
}

// StaticPaths returns the paths of the static URLs, for classification.
func (m Manifest) StaticPaths() []string {
	paths := make([]string, 0, len(m.Static))
	for _, raw := range m.Static {
		if u, err := url.Parse(raw); err == nil {
			paths = append(paths, u.Path)
		}
	}
	return paths
}

func dedupe(urls []string) []string {
	if urls == nil {
		return nil
	}
	seen := make(map[string]bool, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}
	return out
}
