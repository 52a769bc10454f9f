package api

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/bmatcuk/doublestar/v4"
)

// LoadLibrary collects every *.steps.yaml below root into one library.
// Step ids must be unique across all files.
func LoadLibrary(root string) (*Library, error) {
	files, err := globFiles(root, LibraryFilePattern)
	if err != nil {
		return nil, err
	}

	lib := &Library{Steps: make(map[string]*Step)}
	for _, f := range files {
		steps, err := LoadStepFile(f)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", f, err)
		}
		if err := lib.Add(steps); err != nil {
			return nil, err
		}
	}
	return lib, nil
}

// Add merges steps into the library, rejecting duplicate ids.
func (l *Library) Add(steps map[string]*Step) error {
	if l.Steps == nil {
		l.Steps = make(map[string]*Step, len(steps))
	}
	ids := make([]string, 0, len(steps))
	for id := range steps {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	for _, id := range ids {
		if prev, exists := l.Steps[id]; exists {
			return fmt.Errorf("duplicate step id %q (defined in %s and %s)", id, prev.FilePath, steps[id].FilePath)
		}
		l.Steps[id] = steps[id]
	}
	return nil
}

// DiscoverFlows returns every *.flow.yaml below root, loaded and validated,
// in lexical path order.
func DiscoverFlows(root string) ([]*Flow, error) {
	files, err := globFiles(root, FlowFilePattern)
	if err != nil {
		return nil, err
	}

	flows := make([]*Flow, 0, len(files))
	for _, f := range files {
		flow, err := LoadFlow(f)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", f, err)
		}
		flows = append(flows, flow)
	}
	return flows, nil
}

func globFiles(root, pattern string) ([]string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root path: %w", err)
	}

	matches, err := doublestar.Glob(os.DirFS(absRoot), pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("glob %q: %w", pattern, err)
	}
	slices.Sort(matches)

	files := make([]string, 0, len(matches))
	for _, m := range matches {
		files = append(files, filepath.Join(absRoot, filepath.FromSlash(m)))
	}
	return files, nil
}
