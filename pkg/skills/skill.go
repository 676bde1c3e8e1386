// Package skills manages the catalog of generated skills. A skill is a
// directory holding a SKILL.md file whose YAML frontmatter describes it.
package skills

import "time"

// Skill is a skill found in the catalog.
type Skill struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Domain      string    `json:"domain,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	Directory   string    `json:"directory"`
	Content     string    `json:"-"`
	ModTime     time.Time `json:"modified"`
}

// Metadata is the YAML frontmatter of SKILL.md.
type Metadata struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Domain      string   `yaml:"domain,omitempty"`
	Tags        []string `yaml:"tags,omitempty,flow"`
}
