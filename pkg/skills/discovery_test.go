package skills

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSkill(t *testing.T, dir, name, front string) string {
	t.Helper()
	skillDir := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(skillDir, 0o755))
	content := "---\n" + front + "---\n\n# " + name + "\n\nSome content here.\n"
	require.NoError(t, os.WriteFile(filepath.Join(skillDir, skillFileName), []byte(content), 0o644))
	return skillDir
}

func TestNewDiscovery(t *testing.T) {
	t.Run("requires dirs", func(t *testing.T) {
		_, err := NewDiscovery()
		require.Error(t, err)
	})

	t.Run("with custom dirs", func(t *testing.T) {
		customDirs := []string{"/tmp/skills1", "/tmp/skills2"}
		discovery, err := NewDiscovery(WithSkillDirs(customDirs...))
		require.NoError(t, err)
		assert.Equal(t, customDirs, discovery.skillDirs)
	})
}

func TestDiscoverSkills(t *testing.T) {
	tmpDir := t.TempDir()
	writeSkill(t, tmpDir, "test-skill", "name: test-skill\ndescription: A test skill\ndomain: finance\ntags: [sql, dbt]\n")
	writeSkill(t, tmpDir, "another-skill", "name: another-skill\ndescription: Another test skill\n")

	// Invalid skills are skipped.
	writeSkill(t, tmpDir, "no-description", "name: no-description\n")
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "stray.md"), []byte("not a skill"), 0o644))

	discovery, err := NewDiscovery(WithSkillDirs(tmpDir))
	require.NoError(t, err)

	skills, err := discovery.DiscoverSkills()
	require.NoError(t, err)
	require.Len(t, skills, 2)

	s := skills["test-skill"]
	require.NotNil(t, s)
	assert.Equal(t, "A test skill", s.Description)
	assert.Equal(t, "finance", s.Domain)
	assert.Equal(t, []string{"sql", "dbt"}, s.Tags)
	assert.Equal(t, filepath.Join(tmpDir, "test-skill"), s.Directory)
	assert.Contains(t, s.Content, "# test-skill")
	assert.NotContains(t, s.Content, "description:")
	assert.False(t, s.ModTime.IsZero())
}

func TestDiscoverSkills_Precedence(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()
	writeSkill(t, first, "dup", "name: dup\ndescription: from first\n")
	writeSkill(t, second, "dup", "name: dup\ndescription: from second\n")

	discovery, err := NewDiscovery(WithSkillDirs(first, second))
	require.NoError(t, err)

	s, err := discovery.GetSkill("dup")
	require.NoError(t, err)
	assert.Equal(t, "from first", s.Description)
}

func TestGetSkill_NotFound(t *testing.T) {
	discovery, err := NewDiscovery(WithSkillDirs(t.TempDir()))
	require.NoError(t, err)

	_, err = discovery.GetSkill("missing")
	assert.ErrorIs(t, err, ErrSkillNotFound)
}

func TestExtractBodyContent(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"with frontmatter", "---\nname: x\n---\n\nBody", "Body"},
		{"without frontmatter", "Just body", "Just body"},
		{"unterminated frontmatter", "---\nname: x\nBody", "---\nname: x\nBody"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, extractBodyContent(tt.input))
		})
	}
}
