// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analysis

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/AleutianAI/AleutianLineage/services/lineage/source"
)

// ErrBadPattern indicates an include or exclude glob that cannot be
// parsed.
var ErrBadPattern = errors.New("invalid glob pattern")

// Filter selects source files by slash-separated path relative to the
// discovery root.
//
// Patterns use doublestar syntax ("**/*.cbl", "copy/{a,b}*.cpy"). With no
// Include patterns a file is selected when its extension is a recognized
// COBOL, copybook, JCL or SQL extension. Exclude wins over Include.
type Filter struct {
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude"`
}

// Validate checks every pattern.
func (f Filter) Validate() error {
	for _, p := range append(append([]string(nil), f.Include...), f.Exclude...) {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("%w: %q", ErrBadPattern, p)
		}
	}
	return nil
}

// Match reports whether rel is selected.
func (f Filter) Match(rel string) bool {
	rel = filepath.ToSlash(rel)
	for _, p := range f.Exclude {
		if ok, _ := doublestar.Match(p, rel); ok {
			return false
		}
	}
	if len(f.Include) == 0 {
		return source.KindFromExtension(rel) != source.KindUnknown
	}
	for _, p := range f.Include {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// Discover reads every selected file below root.
//
// Description:
//
//	Walks root, skipping hidden directories, and returns the selected
//	files with their content. Paths are slash-separated and relative to
//	root; when root is a file it is returned under its base name.
//
// Outputs:
//
//	[]SourceFile - The files, ordered by path.
//	error - ErrBadPattern, or the first walk or read error.
func Discover(root string, filter Filter) ([]SourceFile, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		content, err := os.ReadFile(root)
		if err != nil {
			return nil, err
		}
		return []SourceFile{{Path: filepath.Base(root), Content: content}}, nil
	}

	files := make([]SourceFile, 0)
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && len(d.Name()) > 1 && d.Name()[0] == '.' {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !filter.Match(rel) {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", rel, err)
		}
		files = append(files, SourceFile{Path: rel, Content: content})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}
