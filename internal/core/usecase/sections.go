package usecase

import (
	_ "embed"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed sections.yaml
var sectionsYAML []byte

type sectionGroup struct {
	Keywords []string `yaml:"keywords"`
	Sections []string `yaml:"sections"`
}

// sectionGroups maps query phrasings to the course-sheet section titles used
// by the ingested corpus. Loaded once from the embedded definition.
var sectionGroups = mustLoadSectionGroups()

func mustLoadSectionGroups() map[string]sectionGroup {
	groups := make(map[string]sectionGroup)
	if err := yaml.Unmarshal(sectionsYAML, &groups); err != nil {
		panic("usecase: invalid embedded sections.yaml: " + err.Error())
	}
	return groups
}

// inferTargetSections returns section titles the query phrasing points at,
// or nil when no section-specific wording is present.
func inferTargetSections(query string) []string {
	lower := strings.ToLower(query)
	var out []string
	seen := make(map[string]struct{})
	for _, name := range []string{"prereq", "assessment", "learning", "teaching", "contents"} {
		group := sectionGroups[name]
		for _, keyword := range group.Keywords {
			if !strings.Contains(lower, keyword) {
				continue
			}
			for _, section := range group.Sections {
				if _, dup := seen[section]; dup {
					continue
				}
				seen[section] = struct{}{}
				out = append(out, section)
			}
			break
		}
	}
	return out
}

// defaultExpansionSections are the informative sections pulled in when the
// query gives no section hint.
func defaultExpansionSections() []string {
	return append(
		append([]string(nil), sectionGroups["contents"].Sections...),
		sectionGroups["learning"].Sections...,
	)
}
