package alert

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Keyword maps a term found in message text to a canonical label
type Keyword struct {
	Term  string `yaml:"term"`
	Label string `yaml:"label"`
}

// Rules drive classification. Levels are checked in order and the first
// match wins, so they must be listed by priority.
type Rules struct {
	LocalRegions    []string  `yaml:"local_regions"`
	NationwideTerms []string  `yaml:"nationwide_terms"`
	Disasters       []Keyword `yaml:"disasters"`
	Levels          []Keyword `yaml:"levels"`
}

// DefaultRules returns the built-in keyword lists for Korean disaster texts.
// Longer terms come before terms they contain (지진해일 before 지진).
func DefaultRules(localRegions ...string) Rules {
	return Rules{
		LocalRegions:    localRegions,
		NationwideTerms: []string{"전국"},
		Disasters: []Keyword{
			{Term: "폭염", Label: "heatwave"},
			{Term: "한파", Label: "cold-wave"},
			{Term: "지진해일", Label: "tsunami"},
			{Term: "지진", Label: "earthquake"},
			{Term: "호우", Label: "heavy-rain"},
			{Term: "대설", Label: "heavy-snow"},
			{Term: "강풍", Label: "strong-wind"},
			{Term: "태풍", Label: "typhoon"},
			{Term: "홍수", Label: "flood"},
			{Term: "산사태", Label: "landslide"},
			{Term: "산불", Label: "wildfire"},
			{Term: "황사", Label: "yellow-dust"},
			{Term: "미세먼지", Label: "fine-dust"},
		},
		Levels: []Keyword{
			{Term: "경보", Label: "warning"},
			{Term: "주의보", Label: "watch"},
			{Term: "주의", Label: "advisory"},
			{Term: "긴급", Label: "urgent"},
			{Term: "심각", Label: "severe"},
			{Term: "경계", Label: "alert"},
			{Term: "관심", Label: "concern"},
		},
	}
}

// LoadRules reads a YAML rules file. Sections missing from the file keep
// their defaults; local regions in the file replace the given ones.
func LoadRules(path string, localRegions ...string) (Rules, error) {
	rules := DefaultRules(localRegions...)
	if path == "" {
		return rules, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return rules, fmt.Errorf("failed to read rules file: %w", err)
	}

	var file Rules
	if err := yaml.Unmarshal(data, &file); err != nil {
		return rules, fmt.Errorf("failed to parse rules file %s: %w", path, err)
	}

	if len(file.LocalRegions) > 0 {
		rules.LocalRegions = file.LocalRegions
	}
	if len(file.NationwideTerms) > 0 {
		rules.NationwideTerms = file.NationwideTerms
	}
	if len(file.Disasters) > 0 {
		rules.Disasters = file.Disasters
	}
	if len(file.Levels) > 0 {
		rules.Levels = file.Levels
	}

	for _, k := range append(append([]Keyword{}, rules.Disasters...), rules.Levels...) {
		if k.Term == "" || k.Label == "" {
			return rules, fmt.Errorf("rules file %s: keyword entries need both term and label", path)
		}
	}

	return rules, nil
}
