// Package edgecases injects the irregularities found in real scanner exports
// into synthetic ones: hostile characters, missing attributes, stray non-image
// files and truncated images.
package edgecases

import (
	"fmt"
	"slices"
	"strings"
)

// EdgeCaseType represents a category of edge case
type EdgeCaseType string

const (
	SpecialChars   EdgeCaseType = "special-chars"
	MissingTags    EdgeCaseType = "missing-tags"
	JunkFiles      EdgeCaseType = "junk-files"
	TruncatedFiles EdgeCaseType = "truncated-files"
)

// AllEdgeCaseTypes returns all valid edge case types
func AllEdgeCaseTypes() []EdgeCaseType {
	return []EdgeCaseType{SpecialChars, MissingTags, JunkFiles, TruncatedFiles}
}

// Config holds edge case generation settings
type Config struct {
	Percentage int            // 0-100, share of series receiving edge cases
	Types      []EdgeCaseType // Which edge case types to enable
}

// ParseTypes parses comma-separated edge case types
func ParseTypes(input string) ([]EdgeCaseType, error) {
	if input == "" {
		return nil, nil
	}
	parts := strings.Split(input, ",")
	result := make([]EdgeCaseType, 0, len(parts))
	for _, p := range parts {
		t := EdgeCaseType(strings.TrimSpace(p))
		if !slices.Contains(AllEdgeCaseTypes(), t) {
			return nil, fmt.Errorf("unknown edge case type %q, valid types: %v", p, AllEdgeCaseTypes())
		}
		result = append(result, t)
	}
	return result, nil
}

// Validate checks if config is valid
func (c *Config) Validate() error {
	if c.Percentage < 0 || c.Percentage > 100 {
		return fmt.Errorf("edge-cases percentage must be 0-100, got %d", c.Percentage)
	}
	if c.Percentage > 0 && len(c.Types) == 0 {
		return fmt.Errorf("edge-cases enabled but no types specified")
	}
	return nil
}

// IsEnabled returns true if edge cases are enabled
func (c *Config) IsEnabled() bool {
	return c.Percentage > 0 && len(c.Types) > 0
}

// HasType checks if a specific edge case type is enabled
func (c *Config) HasType(t EdgeCaseType) bool {
	return slices.Contains(c.Types, t)
}
