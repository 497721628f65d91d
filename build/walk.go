package build

import (
	"io/fs"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// ListSourceModules returns the files under the root with one of the extensions, as sorted slash paths
// relative to the root. An exclude pattern ending with "/" skips a directory by name or by relative path,
// other patterns are matched against the base name and the relative path of files.
func ListSourceModules(root string, exts []string, excludes []string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(filename string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, filename)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}
		if d.IsDir() {
			if excluded(rel, d.Name(), excludes, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || excluded(rel, d.Name(), excludes, false) {
			return nil
		}
		ext := path.Ext(rel)
		for _, e := range exts {
			if ext == e {
				files = append(files, rel)
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func excluded(rel string, name string, excludes []string, dir bool) bool {
	for _, pattern := range excludes {
		if strings.HasSuffix(pattern, "/") {
			if !dir {
				continue
			}
			pattern = strings.TrimSuffix(pattern, "/")
		} else if dir {
			continue
		}
		if ok, _ := path.Match(pattern, name); ok {
			return true
		}
		if ok, _ := path.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}
