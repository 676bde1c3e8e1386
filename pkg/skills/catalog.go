package skills

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/gobwas/glob"
	"github.com/pkg/errors"
	"github.com/rogpeppe/go-internal/lockedfile"
	"gopkg.in/yaml.v3"
)

var (
	// ErrSkillNotFound is returned for unknown skill names.
	ErrSkillNotFound = errors.New("skill not found")
	// ErrSkillExists is returned when a name is already taken.
	ErrSkillExists = errors.New("skill already exists")

	validName = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)
)

// ValidateName checks that name is usable as a skill directory.
func ValidateName(name string) error {
	if !validName.MatchString(name) || strings.Contains(name, "..") {
		return errors.Errorf("invalid skill name %q: use lowercase letters, digits, '.', '_' and '-'", name)
	}
	return nil
}

// Catalog manages the skills below one directory.
type Catalog struct {
	root      string
	discovery *Discovery
}

// NewCatalog creates a catalog rooted at dir.
func NewCatalog(dir string) *Catalog {
	return &Catalog{root: dir, discovery: &Discovery{skillDirs: []string{dir}}}
}

// Root returns the catalog directory.
func (c *Catalog) Root() string {
	return c.root
}

// List returns the skills sorted by name. A non-empty filter is a glob
// matched against the name, the domain and every tag.
func (c *Catalog) List(filter string) ([]*Skill, error) {
	var g glob.Glob
	if filter != "" {
		var err error
		if g, err = glob.Compile(filter); err != nil {
			return nil, errors.Wrapf(err, "invalid filter %q", filter)
		}
	}

	all, err := c.discovery.DiscoverSkills()
	if err != nil {
		return nil, err
	}

	out := make([]*Skill, 0, len(all))
	for _, s := range all {
		if g == nil || matches(g, s) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func matches(g glob.Glob, s *Skill) bool {
	if g.Match(s.Name) || (s.Domain != "" && g.Match(s.Domain)) {
		return true
	}
	for _, t := range s.Tags {
		if g.Match(t) {
			return true
		}
	}
	return false
}

// Get returns the skill called name.
func (c *Catalog) Get(name string) (*Skill, error) {
	return c.discovery.GetSkill(name)
}

// Delete removes the skill directory.
func (c *Catalog) Delete(name string) error {
	s, err := c.Get(name)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(s.Directory); err != nil {
		return errors.Wrapf(err, "failed to delete skill %s", name)
	}
	return nil
}

// Rename moves the skill directory and updates its frontmatter name.
func (c *Catalog) Rename(oldName, newName string) (*Skill, error) {
	if err := ValidateName(newName); err != nil {
		return nil, err
	}
	s, err := c.Get(oldName)
	if err != nil {
		return nil, err
	}
	if oldName == newName {
		return s, nil
	}
	if _, err := c.Get(newName); err == nil {
		return nil, errors.Wrapf(ErrSkillExists, "%q", newName)
	}

	target := filepath.Join(c.root, newName)
	if _, err := os.Stat(target); err == nil {
		return nil, errors.Wrapf(ErrSkillExists, "directory %s", target)
	}
	if err := os.Rename(s.Directory, target); err != nil {
		return nil, errors.Wrapf(err, "failed to rename skill %s", oldName)
	}

	md := metadataOf(s)
	md.Name = newName
	if err := writeSkillFile(filepath.Join(target, skillFileName), md, s.Content); err != nil {
		return nil, err
	}
	return c.Get(newName)
}

// UpdateMetadata rewrites the frontmatter of a skill, keeping its body.
// The name cannot be changed here; use Rename.
func (c *Catalog) UpdateMetadata(name string, md Metadata) (*Skill, error) {
	s, err := c.Get(name)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(md.Description) == "" {
		return nil, errors.New("skill description must not be empty")
	}
	md.Name = s.Name
	if err := writeSkillFile(filepath.Join(s.Directory, skillFileName), md, s.Content); err != nil {
		return nil, err
	}
	return c.Get(name)
}

func metadataOf(s *Skill) Metadata {
	return Metadata{Name: s.Name, Description: s.Description, Domain: s.Domain, Tags: s.Tags}
}

func writeSkillFile(path string, md Metadata, body string) error {
	front, err := yaml.Marshal(md)
	if err != nil {
		return errors.Wrap(err, "failed to marshal skill metadata")
	}

	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(front)
	buf.WriteString("---\n\n")
	buf.WriteString(strings.TrimLeft(body, "\n"))

	if err := lockedfile.Write(path, &buf, 0o644); err != nil {
		return errors.Wrap(err, "failed to write skill file")
	}
	return nil
}
