package pmode

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Document is the YAML form of an exchange configuration.
//
// MEP and binding accept shorthand values ("oneway", "twoway", "push",
// "pull", "pushAndPush") which are expanded to the ebMS3 URIs, or the full
// URIs themselves.
type Document struct {
	Party     string              `yaml:"party"` // local gateway party name
	Parties   []*Party            `yaml:"parties"`
	Services  []*Service          `yaml:"services"`
	Legs      []*LegConfiguration `yaml:"legs"`
	Processes []*Process          `yaml:"processes"`
}

var mepShorthand = map[string]string{
	"oneway": MepOneWay,
	"twoway": MepTwoWay,
}

var bindingShorthand = map[string]string{
	"push":        BindingPush,
	"pull":        BindingPull,
	"pushAndPush": BindingPushAndPush,
}

// Load reads an exchange configuration from a YAML file. Environment
// variables in the document are expanded (${VAR} or $VAR syntax) before
// parsing, so party endpoints and credentials can be injected at runtime.
func Load(path string) (*Configuration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pmode file: %w", err)
	}
	return Parse([]byte(os.ExpandEnv(string(data))))
}

// Parse builds a configuration from YAML bytes.
func Parse(data []byte) (*Configuration, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing pmode document: %w", err)
	}

	for _, p := range doc.Processes {
		if uri, ok := mepShorthand[p.Mep]; ok {
			p.Mep = uri
		}
		if uri, ok := bindingShorthand[p.MepBinding]; ok {
			p.MepBinding = uri
		}
	}

	cfg, err := NewConfiguration(doc.Party, doc.Parties, doc.Services, doc.Legs, doc.Processes)
	if err != nil {
		return nil, fmt.Errorf("validating pmode document: %w", err)
	}
	return cfg, nil
}
