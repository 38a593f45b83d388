package main

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"

	ports "github.com/ZanzyTHEbar/intentguard/intentguard/generation/harness/ports"
)

// maxSourceFileBytes skips generated or vendored blobs when walking directories.
const maxSourceFileBytes = 256 << 10

// parseObjectFlags turns name=path pairs into code objects.
func parseObjectFlags(specs []string) ([]ports.CodeObject, error) {
	objects := make([]ports.CodeObject, 0, len(specs))
	for _, spec := range specs {
		name, path, ok := strings.Cut(spec, "=")
		if !ok || name == "" || path == "" {
			return nil, fmt.Errorf("invalid --object %q, expected name=path", spec)
		}
		obj, err := loadObject(name, path)
		if err != nil {
			return nil, err
		}
		objects = append(objects, obj)
	}
	return objects, nil
}

// loadObject reads a file, or every text file under a directory, into one code object.
func loadObject(name, path string) (ports.CodeObject, error) {
	info, err := os.Stat(path)
	if err != nil {
		return ports.CodeObject{}, fmt.Errorf("code object %s: %w", name, err)
	}
	if !info.IsDir() {
		data, err := os.ReadFile(path)
		if err != nil {
			return ports.CodeObject{}, fmt.Errorf("code object %s: %w", name, err)
		}
		return ports.CodeObject{Name: name, Code: string(data)}, nil
	}

	code, err := readTree(path)
	if err != nil {
		return ports.CodeObject{}, fmt.Errorf("code object %s: %w", name, err)
	}
	return ports.CodeObject{Name: name, Code: code}, nil
}

// readTree concatenates the text files under root in lexical order, each preceded by a
// path header. Paths matched by root/.gitignore are skipped.
func readTree(root string) (string, error) {
	matcher, err := ignore.CompileIgnoreFile(filepath.Join(root, ".gitignore"))
	if err != nil {
		if !os.IsNotExist(err) {
			return "", err
		}
		matcher = ignore.CompileIgnoreLines()
	}

	var b strings.Builder
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == "." {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if d.Name() == ".git" || matcher.MatchesPath(rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || matcher.MatchesPath(rel) {
			return nil
		}

		info, err := d.Info()
		if err != nil || info.Size() > maxSourceFileBytes {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if bytes.IndexByte(data, 0) >= 0 {
			return nil
		}

		fmt.Fprintf(&b, "# %s\n%s", rel, data)
		if len(data) > 0 && data[len(data)-1] != '\n' {
			b.WriteByte('\n')
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("no source files under %s", root)
	}
	return b.String(), nil
}
