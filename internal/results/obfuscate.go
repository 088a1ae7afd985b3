// Package results post-processes XCCDF result files produced by oscap
// before they are packaged: sensitive fields are blanked and a known
// version defect in older content is repaired.
package results

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/beevik/etree"
	"gopkg.in/yaml.v3"

	"github.com/anstrom/complyscan/internal/errors"
	"github.com/anstrom/complyscan/internal/logging"
)

//go:embed obfuscations.yaml
var defaultObfuscations []byte

// Obfuscations holds the element paths blanked for each scope.
type Obfuscations struct {
	Generic  []string `yaml:"obfuscate"`
	Hostname []string `yaml:"obfuscate_hostname"`
}

// DefaultObfuscations returns the built-in path lists.
func DefaultObfuscations() Obfuscations {
	o, err := ParseObfuscations(defaultObfuscations)
	if err != nil {
		panic(fmt.Sprintf("embedded obfuscations are invalid: %v", err))
	}
	return o
}

// LoadObfuscations reads path lists from a YAML file. An empty path
// returns the built-in lists.
func LoadObfuscations(path string) (Obfuscations, error) {
	if path == "" {
		return DefaultObfuscations(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Obfuscations{}, fmt.Errorf("failed to read obfuscations file: %w", err)
	}
	return ParseObfuscations(data)
}

// ParseObfuscations decodes path lists and checks every path compiles.
func ParseObfuscations(data []byte) (Obfuscations, error) {
	var o Obfuscations
	if err := yaml.Unmarshal(data, &o); err != nil {
		return Obfuscations{}, fmt.Errorf("failed to parse obfuscations: %w", err)
	}
	for _, list := range [][]string{o.Generic, o.Hostname} {
		for _, p := range list {
			if _, err := etree.CompilePath(p); err != nil {
				return Obfuscations{}, fmt.Errorf("invalid obfuscation path %q: %w", p, err)
			}
		}
	}
	return o, nil
}

// Obfuscate blanks the text of every element matched by paths. Paths that
// do not compile are ignored.
func Obfuscate(doc *etree.Document, paths []string) int {
	blanked := 0
	for _, p := range paths {
		compiled, err := etree.CompilePath(p)
		if err != nil {
			continue
		}
		for _, el := range doc.FindElementsPath(compiled) {
			el.SetText("")
			blanked++
		}
	}
	return blanked
}

// Obfuscator rewrites result files according to the configured scopes.
type Obfuscator struct {
	paths    Obfuscations
	hostname bool
	logger   *logging.Logger
}

// NewObfuscator creates an Obfuscator. Hostname paths are applied in
// addition to the generic ones when hostname is set.
func NewObfuscator(paths Obfuscations, hostname bool, logger *logging.Logger) *Obfuscator {
	if logger == nil {
		logger = logging.Default()
	}
	return &Obfuscator{
		paths:    paths,
		hostname: hostname,
		logger:   logger.WithComponent("results"),
	}
}

// ObfuscateFile blanks sensitive fields in the result file at path and
// writes it back in place.
func (o *Obfuscator) ObfuscateFile(path string) error {
	doc := etree.NewDocument()
	if err := doc.ReadFromFile(path); err != nil {
		return errors.WrapFatal(errors.CodePostProcess, "failed to parse results file", err)
	}

	blanked := Obfuscate(doc, o.paths.Generic)
	if o.hostname {
		blanked += Obfuscate(doc, o.paths.Hostname)
	}

	if err := doc.WriteToFile(path); err != nil {
		return errors.WrapFatal(errors.CodePostProcess, "failed to write obfuscated results file", err)
	}
	o.logger.Debug("Obfuscated results file", "path", path, "elements", blanked)
	return nil
}
