// Copyright 2026 The VGGTransfer Authors. SPDX-License-Identifier: Apache-2.0

// Package imagedir enumerates and feeds image datasets laid out as one
// sub-directory per class.
//
// Scan reads the layout (classes and per-class counts) and Dataset implements
// train.Dataset on top of it, yielding batches of resized image tensors and
// their integer class labels.
package imagedir

import (
	"os"
	"path"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// imageExtensions lists the file extensions considered part of the dataset.
// Anything else inside a class directory is ignored.
var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

// Layout describes a directory-per-class image dataset: the name of each class
// (its sub-directory) and the image files found in it.
type Layout struct {
	// Root directory that was scanned.
	Root string

	// Classes are the sub-directory names, sorted alphabetically. The position
	// in this slice is the integer label used by Dataset.
	Classes []string

	// Counts has one entry per class, aligned with Classes.
	Counts []int

	// files[classIdx] holds the sorted file names of each class.
	files [][]string
}

// Scan reads root, taking each sub-directory as a class, and counts the image
// files in each. The returned Layout is the basis for creating a Dataset.
func Scan(root string) (*Layout, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to scan dataset directory %q", root)
	}
	l := &Layout{Root: root}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		l.Classes = append(l.Classes, entry.Name())
	}
	sort.Strings(l.Classes)
	l.Counts = make([]int, len(l.Classes))
	l.files = make([][]string, len(l.Classes))
	for classIdx, class := range l.Classes {
		classDir := path.Join(root, class)
		classEntries, err := os.ReadDir(classDir)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to scan class directory %q", classDir)
		}
		for _, entry := range classEntries {
			if entry.IsDir() {
				continue
			}
			ext := strings.ToLower(path.Ext(entry.Name()))
			if !imageExtensions[ext] {
				continue
			}
			l.files[classIdx] = append(l.files[classIdx], entry.Name())
		}
		sort.Strings(l.files[classIdx])
		l.Counts[classIdx] = len(l.files[classIdx])
	}
	return l, nil
}

// NumExamples returns the total number of images across all classes.
func (l *Layout) NumExamples() int {
	total := 0
	for _, count := range l.Counts {
		total += count
	}
	return total
}

// NumClasses returns the number of classes found.
func (l *Layout) NumClasses() int { return len(l.Classes) }

// ImagePath returns the path of the image numbered fileIdx within the class.
func (l *Layout) ImagePath(classIdx, fileIdx int) string {
	return path.Join(l.Root, l.Classes[classIdx], l.files[classIdx][fileIdx])
}
