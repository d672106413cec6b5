// Package artifact writes compiled output trees and overlays the
// supplemental tree from the sibling rules repository.
package artifact

import (
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	"github.com/xxxbrian/ruleset-forge/internal/compile"
)

// Tree is an artifact tree rooted at a billy filesystem. Layout is one
// directory per format, one file per category.
type Tree struct {
	fs billy.Filesystem
}

// NewTree wraps an existing filesystem root.
func NewTree(fs billy.Filesystem) *Tree {
	return &Tree{fs: fs}
}

// WriteCategory writes every artifact of one category. The caller
// serializes writes per run, so a category's multi-format output never
// interleaves with another writer.
func (t *Tree) WriteCategory(artifacts []compile.Artifact) error {
	for _, a := range artifacts {
		p := a.Path()
		if err := t.fs.MkdirAll(path.Dir(p), 0o755); err != nil {
			return fmt.Errorf("mkdir %s: %w", path.Dir(p), err)
		}
		if err := util.WriteFile(t.fs, p, a.Data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", p, err)
		}
	}
	return nil
}

// Read returns the content of one artifact path.
func (t *Tree) Read(p string) ([]byte, error) {
	return util.ReadFile(t.fs, p)
}

// Exists reports whether an artifact path is present.
func (t *Tree) Exists(p string) bool {
	_, err := t.fs.Stat(p)
	return err == nil
}

// Paths lists every file in the tree in sorted order.
func (t *Tree) Paths() ([]string, error) {
	var paths []string
	err := util.Walk(t.fs, "/", func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		paths = append(paths, cleanPath(p))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

// Merge overlays supplemental onto generated: paths missing from
// generated are copied in, paths present in both keep the generated
// version. Freshly compiled output always wins over stale supplemental
// copies.
func Merge(generated, supplemental *Tree) error {
	paths, err := supplemental.Paths()
	if err != nil {
		return fmt.Errorf("walk supplemental tree: %w", err)
	}

	for _, p := range paths {
		if generated.Exists(p) {
			continue
		}
		if err := copyFile(generated.fs, supplemental.fs, p); err != nil {
			return fmt.Errorf("merge %s: %w", p, err)
		}
	}
	return nil
}

func copyFile(dst, src billy.Filesystem, p string) error {
	in, err := src.Open(p)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := dst.MkdirAll(path.Dir(p), 0o755); err != nil {
		return err
	}
	out, err := dst.Create(p)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func cleanPath(p string) string {
	return strings.TrimPrefix(path.Clean(p), "/")
}
