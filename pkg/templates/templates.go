package templates

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrTemplateNotFound is returned for an id outside the loaded set
var ErrTemplateNotFound = errors.New("template not found")

// Template is a fixed document available for signing
type Template struct {
	ID       string
	FileName string
	Bytes    []byte
}

// Repository serves the closed set of templates known at startup
type Repository interface {
	Load(ctx context.Context, templateID string) (*Template, error)
	IDs() []string
}

// StaticRepository holds every template in memory
type StaticRepository struct {
	templates map[string]*Template
}

var _ Repository = (*StaticRepository)(nil)

// NewStaticRepository copies the given templates
func NewStaticRepository(templates ...*Template) *StaticRepository {
	r := &StaticRepository{templates: make(map[string]*Template, len(templates))}
	for _, t := range templates {
		r.templates[t.ID] = &Template{
			ID:       t.ID,
			FileName: t.FileName,
			Bytes:    append([]byte(nil), t.Bytes...),
		}
	}
	return r
}

// LoadDirectory reads every regular file in dir as a template whose id is the
// file name without its extension. Every id in required must be present.
func LoadDirectory(dir string, required []string) (*StaticRepository, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read template directory: %w", err)
	}

	var loaded []*Template
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read template %s: %w", e.Name(), err)
		}
		if len(data) == 0 {
			return nil, fmt.Errorf("template %s is empty", e.Name())
		}
		loaded = append(loaded, &Template{
			ID:       strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())),
			FileName: e.Name(),
			Bytes:    data,
		})
	}

	repo := NewStaticRepository(loaded...)
	for _, id := range required {
		if _, ok := repo.templates[id]; !ok {
			return nil, fmt.Errorf("required template %q missing from %s", id, dir)
		}
	}
	return repo, nil
}

// Load returns a copy of the template
func (r *StaticRepository) Load(ctx context.Context, templateID string) (*Template, error) {
	t, ok := r.templates[templateID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTemplateNotFound, templateID)
	}
	return &Template{
		ID:       t.ID,
		FileName: t.FileName,
		Bytes:    append([]byte(nil), t.Bytes...),
	}, nil
}

// IDs lists the loaded template ids in sorted order
func (r *StaticRepository) IDs() []string {
	ids := make([]string, 0, len(r.templates))
	for id := range r.templates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
