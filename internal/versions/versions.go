// Package versions resolves which versions a project may use under each
// version's sharing policy.
package versions

import "voteline/internal/domain"

// Tree is the project parent hierarchy.
type Tree struct {
	parent map[string]string
}

func NewTree(projects []domain.Project) Tree {
	t := Tree{parent: map[string]string{}}
	for _, p := range projects {
		if p.ParentID != nil && *p.ParentID != "" {
			t.parent[p.ID] = *p.ParentID
		}
	}
	return t
}

// Ancestors returns the chain of parents from nearest to root. A malformed
// cyclic chain stops at the first repeat.
func (t Tree) Ancestors(projectID string) []string {
	seen := map[string]bool{projectID: true}
	var out []string
	cur := projectID
	for {
		p, ok := t.parent[cur]
		if !ok || seen[p] {
			return out
		}
		seen[p] = true
		out = append(out, p)
		cur = p
	}
}

func (t Tree) Root(projectID string) string {
	anc := t.Ancestors(projectID)
	if len(anc) == 0 {
		return projectID
	}
	return anc[len(anc)-1]
}

// IsAncestor reports whether a is a strict ancestor of b.
func (t Tree) IsAncestor(a, b string) bool {
	for _, p := range t.Ancestors(b) {
		if p == a {
			return true
		}
	}
	return false
}

// WouldCycle reports whether making parentID the parent of projectID would
// put projectID among its own ancestors.
func (t Tree) WouldCycle(projectID, parentID string) bool {
	return parentID == projectID || t.IsAncestor(projectID, parentID)
}

// SharedWith reports whether v is usable by the project.
func SharedWith(v domain.Version, projectID string, t Tree) bool {
	if v.ProjectID == projectID {
		return true
	}
	switch v.Sharing {
	case domain.SharingSystem:
		return true
	case domain.SharingTree:
		return t.Root(v.ProjectID) == t.Root(projectID)
	case domain.SharingHierarchy:
		return t.IsAncestor(v.ProjectID, projectID) || t.IsAncestor(projectID, v.ProjectID)
	case domain.SharingDescendants:
		return t.IsAncestor(v.ProjectID, projectID)
	}
	return false
}

// Shared filters candidates down to the versions shared with the project.
func Shared(projectID string, candidates []domain.Version, t Tree) []domain.Version {
	var out []domain.Version
	for _, v := range candidates {
		if SharedWith(v, projectID, t) {
			out = append(out, v)
		}
	}
	return out
}

// Assignable returns the open shared versions plus the version the issue
// already had, which stays assignable even once closed or unshared.
func Assignable(projectID string, candidates []domain.Version, t Tree, previous *string) []domain.Version {
	var out []domain.Version
	for _, v := range candidates {
		if previous != nil && v.ID == *previous {
			out = append(out, v)
			continue
		}
		if v.Status == domain.VersionOpen && SharedWith(v, projectID, t) {
			out = append(out, v)
		}
	}
	return out
}

// IsAssignable reports whether versionID is among Assignable.
func IsAssignable(versionID, projectID string, candidates []domain.Version, t Tree, previous *string) bool {
	for _, v := range Assignable(projectID, candidates, t, previous) {
		if v.ID == versionID {
			return true
		}
	}
	return false
}
