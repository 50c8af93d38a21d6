// Package file provides a file-based persistence backend for development
// and tests.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/clubflow/clubflow/pkg/persistence"
)

// Persistence implements persistence.Persistence on the file system, one
// JSON document per row. A single mutex serializes access, which also
// makes the claim operations atomic within the process.
type Persistence struct {
	root           string
	mu             sync.Mutex
	workflowRepo   *WorkflowRepository
	executionRepo  *ExecutionRepository
	enrollmentRepo *EnrollmentRepository
}

// NewPersistence creates a file-backed persistence layer rooted at root.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	p := &Persistence{root: cleanRoot}
	p.workflowRepo = &WorkflowRepository{p: p}
	p.executionRepo = &ExecutionRepository{p: p}
	p.enrollmentRepo = &EnrollmentRepository{p: p}

	return p
}

func (p *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return p.workflowRepo
}

func (p *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return p.executionRepo
}

func (p *Persistence) EnrollmentRepository() persistence.EnrollmentRepository {
	return p.enrollmentRepo
}

// HealthCheck verifies the root directory is usable.
func (p *Persistence) HealthCheck(_ context.Context) error {
	return os.MkdirAll(p.root, 0o755)
}

// Close is a no-op for the file backend.
func (p *Persistence) Close(_ context.Context) error {
	return nil
}

func (p *Persistence) write(kind, id string, value any) error {
	dir := filepath.Join(p.root, kind)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", kind, err)
	}

	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s %s: %w", kind, id, err)
	}

	if err := os.WriteFile(filepath.Join(dir, id+".json"), data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s %s: %w", kind, id, err)
	}

	return nil
}

func (p *Persistence) read(kind, id string, out any) (bool, error) {
	data, err := os.ReadFile(filepath.Join(p.root, kind, id+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}

		return false, fmt.Errorf("failed to read %s %s: %w", kind, id, err)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s %s: %w", kind, id, err)
	}

	return true, nil
}

func (p *Persistence) ids(kind string) ([]string, error) {
	dir := os.DirFS(filepath.Join(p.root, kind))

	files, err := fs.Glob(dir, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list %s files: %w", kind, err)
	}

	ids := make([]string, 0, len(files))
	for _, file := range files {
		ids = append(ids, strings.TrimSuffix(file, ".json"))
	}

	return ids, nil
}

func (p *Persistence) remove(kind, id string) error {
	err := os.Remove(filepath.Join(p.root, kind, id+".json"))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s %s: %w", kind, id, err)
	}

	return nil
}
