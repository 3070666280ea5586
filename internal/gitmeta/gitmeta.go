// Package gitmeta reads branch and commit information for the workspace.
package gitmeta

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// ErrNotRepository is returned when no repository encloses the directory.
var ErrNotRepository = errors.New("not a git repository")

// Detached is reported as the branch when HEAD is not a branch ref.
const Detached = "detached"

// Info describes the checked-out revision.
type Info struct {
	Branch string `json:"branch"`
	Commit string `json:"commit,omitempty"`
}

// Map renders Info for analytics details.
func (i Info) Map() map[string]any {
	return map[string]any{"branch": i.Branch, "commit": i.Commit}
}

// Describe opens the repository containing dir, searching parent directories.
// A repository with no commits yields the branch HEAD points at and no commit.
func Describe(dir string) (Info, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return Info{}, fmt.Errorf("%w: %s", ErrNotRepository, dir)
		}
		return Info{}, fmt.Errorf("open repository: %w", err)
	}

	head, err := repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			ref, rerr := repo.Storer.Reference(plumbing.HEAD)
			if rerr == nil && ref.Type() == plumbing.SymbolicReference && ref.Target().IsBranch() {
				return Info{Branch: ref.Target().Short()}, nil
			}
			return Info{Branch: Detached}, nil
		}
		return Info{}, fmt.Errorf("resolve HEAD: %w", err)
	}

	info := Info{Branch: Detached, Commit: head.Hash().String()}
	if head.Name().IsBranch() {
		info.Branch = head.Name().Short()
	}
	return info, nil
}

var mainBranches = map[string]bool{"main": true, "master": true, "develop": true, Detached: true}

// FeatureFromBranch derives a feature name from a branch such as
// "feature/checkout" or "specs/checkout". Main branches yield "".
func FeatureFromBranch(branch string) string {
	branch = strings.TrimSpace(branch)
	if branch == "" || mainBranches[branch] {
		return ""
	}
	return path.Base(branch)
}
