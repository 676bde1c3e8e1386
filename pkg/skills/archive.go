package skills

import (
	"archive/zip"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// DefaultExcludes are left out of exported archives.
var DefaultExcludes = []string{"**/.DS_Store", "**/.git/**", "**/*.tmp", "**/*~"}

// maxImportSize bounds the uncompressed size of an imported archive.
const maxImportSize = 64 << 20

// Export zips the skill into destDir/<name>.zip and returns the path. Files
// whose slash separated path inside the skill matches an exclude pattern
// are skipped.
func (c *Catalog) Export(name, destDir string, excludes []string) (string, error) {
	s, err := c.Get(name)
	if err != nil {
		return "", err
	}
	for _, p := range excludes {
		if !doublestar.ValidatePattern(p) {
			return "", errors.Errorf("invalid exclude pattern %q", p)
		}
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", errors.Wrap(err, "failed to create export directory")
	}
	out := filepath.Join(destDir, name+".zip")
	f, err := os.Create(out)
	if err != nil {
		return "", errors.Wrap(err, "failed to create archive")
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	err = filepath.WalkDir(s.Directory, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(s.Directory, p)
		if err != nil || rel == "." {
			return err
		}
		rel = filepath.ToSlash(rel)
		if excluded(rel, excludes) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		return addFile(zw, p, name+"/"+rel)
	})
	if err != nil {
		zw.Close()
		return "", errors.Wrap(err, "failed to write archive")
	}
	if err := zw.Close(); err != nil {
		return "", errors.Wrap(err, "failed to finish archive")
	}
	return out, nil
}

func excluded(rel string, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
		// Directory patterns such as **/.git/** also exclude the directory itself.
		if ok, _ := doublestar.Match(p, rel+"/"); ok {
			return true
		}
	}
	return false
}

func addFile(zw *zip.Writer, src, name string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	w, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, in)
	return err
}

// Import extracts a skill archive into the catalog. The archive must hold a
// SKILL.md, either at its root or in a single top level directory. Entries
// escaping the skill directory are rejected before anything is written.
func (c *Catalog) Import(zipPath string) (*Skill, error) {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open archive")
	}
	defer zr.Close()

	prefix, err := archivePrefix(zr.File)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(c.root, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create skills directory")
	}
	staging := filepath.Join(c.root, ".import-"+uuid.NewString())
	defer os.RemoveAll(staging)

	var total int64
	for _, f := range zr.File {
		rel := strings.TrimPrefix(f.Name, prefix)
		if rel == "" || strings.HasSuffix(f.Name, "/") {
			continue
		}
		dest := filepath.Join(staging, filepath.FromSlash(rel))
		total += int64(f.UncompressedSize64)
		if total > maxImportSize {
			return nil, errors.New("archive is too large")
		}
		if err := extract(f, dest); err != nil {
			return nil, err
		}
	}

	s, err := loadSkill(filepath.Join(staging, skillFileName))
	if err != nil {
		return nil, errors.Wrap(err, "archive does not contain a valid SKILL.md")
	}
	if err := ValidateName(s.Name); err != nil {
		return nil, err
	}
	if _, err := c.Get(s.Name); err == nil {
		return nil, errors.Wrapf(ErrSkillExists, "%q", s.Name)
	}
	target := filepath.Join(c.root, s.Name)
	if _, err := os.Stat(target); err == nil {
		return nil, errors.Wrapf(ErrSkillExists, "directory %s", target)
	}
	if err := os.Rename(staging, target); err != nil {
		return nil, errors.Wrap(err, "failed to install skill")
	}
	return c.Get(s.Name)
}

// archivePrefix validates every entry name and returns the directory prefix
// holding SKILL.md.
func archivePrefix(files []*zip.File) (string, error) {
	prefix := ""
	found := false
	for _, f := range files {
		name := f.Name
		clean := path.Clean(name)
		if strings.Contains(name, `\`) || path.IsAbs(name) || clean == ".." || strings.HasPrefix(clean, "../") {
			return "", errors.Errorf("archive entry %q escapes the skill directory", name)
		}
		if path.Base(clean) == skillFileName && strings.Count(clean, "/") <= 1 {
			candidate := strings.TrimSuffix(clean, skillFileName)
			if !found || len(candidate) < len(prefix) {
				prefix = candidate
			}
			found = true
		}
	}
	if !found {
		return "", errors.New("archive does not contain SKILL.md")
	}
	for _, f := range files {
		if !strings.HasPrefix(path.Clean(f.Name)+suffixFor(f.Name), prefix) {
			return "", errors.Errorf("archive entry %q is outside the skill directory %q", f.Name, prefix)
		}
	}
	return prefix, nil
}

func suffixFor(name string) string {
	if strings.HasSuffix(name, "/") {
		return "/"
	}
	return ""
}

func extract(f *zip.File, dest string) error {
	if f.FileInfo().Mode()&os.ModeSymlink != 0 {
		return errors.Errorf("archive entry %q is a symlink", f.Name)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return errors.Wrap(err, "failed to create directory")
	}

	rc, err := f.Open()
	if err != nil {
		return errors.Wrapf(err, "failed to open archive entry %s", f.Name)
	}
	defer rc.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", dest)
	}
	defer out.Close()

	if _, err := io.Copy(out, io.LimitReader(rc, maxImportSize)); err != nil {
		return errors.Wrapf(err, "failed to extract %s", f.Name)
	}
	return nil
}
