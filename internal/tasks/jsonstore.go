// SPDX-License-Identifier: MIT

package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/renameio/v2"
)

// JSONStore keeps all tasks in memory and mirrors them to a single JSON
// file. Writes go through renameio, so the file is replaced atomically and
// survives a crash mid-write.
type JSONStore struct {
	mu    sync.RWMutex
	path  string
	tasks map[string]*Task
}

// OpenJSONStore loads the task file at path, creating the parent directory
// if needed. A missing file yields an empty store.
func OpenJSONStore(path string) (*JSONStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	s := &JSONStore{
		path:  path,
		tasks: make(map[string]*Task),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read task store: %w", err)
	}

	var list []*Task
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse task store %s: %w", path, err)
	}
	for _, t := range list {
		s.tasks[t.ID] = t
	}
	return s, nil
}

// persist writes the full task set atomically. Caller must hold the lock.
func (s *JSONStore) persist() error {
	list := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		list = append(list, t)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal tasks: %w", err)
	}

	pending, err := renameio.NewPendingFile(s.path)
	if err != nil {
		return fmt.Errorf("create pending task file: %w", err)
	}
	defer func() {
		_ = pending.Cleanup()
	}()

	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("write task file: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace task file: %w", err)
	}
	return nil
}

func (s *JSONStore) Create(_ context.Context, t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[t.ID]; exists {
		return fmt.Errorf("task %s already exists", t.ID)
	}
	cp := t.Clone()
	stampNew(cp)
	s.tasks[t.ID] = cp
	return s.persist()
}

func (s *JSONStore) Get(_ context.Context, id string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t.Clone(), nil
}

func (s *JSONStore) List(_ context.Context, f ListFilter) ([]*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		list = append(list, t.Clone())
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})

	return paginate(list, f.Offset, f.Limit), nil
}

func (s *JSONStore) Update(_ context.Context, id string, fn func(*Task) error) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}

	updated := t.Clone()
	if err := fn(updated); err != nil {
		return nil, err
	}
	s.tasks[id] = updated

	if err := s.persist(); err != nil {
		return nil, err
	}
	return updated.Clone(), nil
}

func (s *JSONStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[id]; !ok {
		return ErrNotFound
	}
	delete(s.tasks, id)
	return s.persist()
}

func (s *JSONStore) Stats(_ context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		Total:    len(s.tasks),
		ByStatus: make(map[Status]int),
		ByType:   make(map[Type]int),
	}
	for _, t := range s.tasks {
		stats.ByStatus[t.Status]++
		stats.ByType[t.Type]++
	}
	return stats, nil
}

func (s *JSONStore) Close() error { return nil }

func paginate(list []*Task, offset, limit int) []*Task {
	if offset >= len(list) {
		return []*Task{}
	}
	list = list[offset:]
	if limit > 0 && limit < len(list) {
		list = list[:limit]
	}
	return list
}
