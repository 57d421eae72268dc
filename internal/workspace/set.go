package workspace

import (
	"fmt"
	"sync"
)

// Set routes raw output to the right target workspace during a
// multi-target run. Workspaces are created up front so admission never
// races directory creation.
type Set struct {
	mu   sync.RWMutex
	root string
	byT  map[string]*Workspace
}

// NewSet builds one workspace per target under root.
func NewSet(root string, targets []string) (*Set, error) {
	s := &Set{root: root, byT: make(map[string]*Workspace, len(targets))}
	for _, target := range targets {
		ws, err := New(root, target)
		if err != nil {
			return nil, err
		}
		s.byT[target] = ws
	}
	return s, nil
}

// For returns the workspace of a known target.
func (s *Set) For(target string) (*Workspace, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ws, ok := s.byT[target]
	return ws, ok
}

// Targets lists the targets in the set.
func (s *Set) Targets() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.byT))
	for t := range s.byT {
		out = append(out, t)
	}
	return out
}

// WriteRaw persists one execution's streams into the target's workspace.
// Output for an unknown target is still persisted rather than dropped; a
// workspace is created on demand.
func (s *Set) WriteRaw(target, task, instance string, stdout, stderr []string) error {
	ws, ok := s.For(target)
	if !ok {
		s.mu.Lock()
		var err error
		if ws, ok = s.byT[target]; !ok {
			ws, err = New(s.root, target)
			if err != nil {
				s.mu.Unlock()
				return fmt.Errorf("workspace for target %s: %w", target, err)
			}
			s.byT[target] = ws
		}
		s.mu.Unlock()
	}
	return ws.WriteRaw(task, instance, stdout, stderr)
}
