// Package vcs checks out editable requirements from version control.
package vcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// ErrUnsupported is returned for version control systems without a backend.
var ErrUnsupported = errors.New("unsupported version control system")

// Checkouter obtains editable sources.
type Checkouter struct {
	logger *log.Logger
}

// New creates a Checkouter.
func New(logger *log.Logger) *Checkouter {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Checkouter{logger: logger}
}

// Checkout puts the source at url (optionally pinned to rev) into dest.
// An existing checkout of the same VCS at dest is reused as-is.
func (c *Checkouter) Checkout(ctx context.Context, system, url, rev, dest string) error {
	if system != "git" {
		return fmt.Errorf("%w: %s", ErrUnsupported, system)
	}
	return c.checkoutGit(ctx, url, rev, dest)
}

func (c *Checkouter) checkoutGit(ctx context.Context, url, rev, dest string) error {
	if _, err := os.Stat(dest); err == nil {
		if _, err := git.PlainOpen(dest); err != nil {
			return fmt.Errorf("%s exists and is not a git checkout", dest)
		}
		c.logger.Info("Using existing checkout", "path", dest)
		return nil
	}

	c.logger.Info("Cloning", "url", url, "path", dest)
	repo, err := git.PlainCloneContext(ctx, dest, false, &git.CloneOptions{URL: url})
	if err != nil {
		os.RemoveAll(dest)
		return fmt.Errorf("cloning %s: %w", url, err)
	}
	if rev == "" {
		return nil
	}

	hash, err := repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		// Branches only exist as remote-tracking refs after a clone.
		hash, err = repo.ResolveRevision(plumbing.Revision("refs/remotes/origin/" + rev))
		if err != nil {
			return fmt.Errorf("resolving revision %s of %s: %w", rev, url, err)
		}
	}

	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("opening worktree: %w", err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{Hash: *hash}); err != nil {
		return fmt.Errorf("checking out %s: %w", rev, err)
	}
	return nil
}
