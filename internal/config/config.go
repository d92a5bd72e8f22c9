// Package config loads the YAML settings shared by every dicombids command.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/carbocation/pfx"
	"gopkg.in/yaml.v3"
)

// DefaultVendor is the manufacturer whose PET exports receive SUV correction.
const DefaultVendor = "UIH"

// DefaultRepresentativeFile is the file read from each series directory when
// a directory holds exactly one series.
const DefaultRepresentativeFile = "00000001.dcm"

// Rule maps series whose description contains SeriesDescription to a BIDS
// output. Type "PET" routes the series through SUV correction.
type Rule struct {
	SeriesDescription string `yaml:"series_description"`
	Type              string `yaml:"type"`
	Func              string `yaml:"func"`
	Task              string `yaml:"task"`
}

// IsPET reports whether matching series are corrected to SUVbw.
func (r Rule) IsPET() bool {
	return strings.EqualFold(r.Type, "PET")
}

// Config holds the settings read from a YAML file.
type Config struct {
	Vendor             string        `yaml:"vendor"`
	Converter          string        `yaml:"converter"`
	Timeout            time.Duration `yaml:"timeout"`
	RepresentativeFile string        `yaml:"representative_file"`
	Rules              []Rule        `yaml:"rules"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Vendor:             DefaultVendor,
		RepresentativeFile: DefaultRepresentativeFile,
		Rules: []Rule{
			{SeriesDescription: "PET", Type: "PET", Func: "pet", Task: "rest"},
			{SeriesDescription: "t1_gre", Type: "T1w", Func: "anat", Task: "rest"},
			{SeriesDescription: "epi_ra", Type: "bold", Func: "func", Task: "rest"},
		},
	}
}

// Load reads path, fills unset fields from Default and validates the result.
// An empty path returns Default.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return Config{}, pfx.Err(err)
	}
	return Parse(content)
}

// Parse decodes YAML content; unknown keys are rejected.
func Parse(content []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	def := Default()
	if c.Vendor == "" {
		c.Vendor = def.Vendor
	}
	if c.RepresentativeFile == "" {
		c.RepresentativeFile = def.RepresentativeFile
	}
	if c.Rules == nil {
		c.Rules = def.Rules
	}
	for i := range c.Rules {
		if c.Rules[i].Task == "" {
			c.Rules[i].Task = "rest"
		}
	}
}

// Validate checks the configuration for values no command can work with.
func (c Config) Validate() error {
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must be >= 0, got %s", c.Timeout)
	}
	if strings.ContainsAny(c.RepresentativeFile, `/\`) {
		return fmt.Errorf("representative_file must be a file name or pattern, got %q", c.RepresentativeFile)
	}
	for i, r := range c.Rules {
		switch {
		case r.SeriesDescription == "":
			return fmt.Errorf("rule %d: series_description is required", i+1)
		case r.Type == "":
			return fmt.Errorf("rule %d (%s): type is required", i+1, r.SeriesDescription)
		case r.Func == "":
			return fmt.Errorf("rule %d (%s): func is required", i+1, r.SeriesDescription)
		case strings.ContainsAny(r.Func+r.Task+r.Type, `/\_`):
			return fmt.Errorf("rule %d (%s): type, func and task must not contain '/', '\\' or '_'", i+1, r.SeriesDescription)
		}
	}
	return nil
}

// Match returns the first rule whose description substring occurs in name.
func (c Config) Match(name string) (Rule, bool) {
	for _, r := range c.Rules {
		if strings.Contains(name, r.SeriesDescription) {
			return r, true
		}
	}
	return Rule{}, false
}
