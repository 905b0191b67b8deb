/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package worktree owns git working-tree checkouts of the remediation
// branch. A Manager pools clones and hands them out as leases; a lease is
// always synced to the remote branch head before use and reset before it
// returns to the pool. Patches are applied, committed and pushed through a
// lease as one operation, with a single rebase retry when the remote moves
// underneath us.
package worktree

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/chainguard-dev/clog"
	git "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"golang.org/x/oauth2"

	"chainguard.dev/checkmend/plan"
	"chainguard.dev/checkmend/provider"
)

const cloneDirPrefix = "checkmend-clone-"

// Manager owns a pool of clones of one repository, all tracking the same
// branch. Leases are taken from the front of the pool and returned to the
// back, so a problematic clone ages out instead of churning.
type Manager struct {
	remote      string
	branch      string
	identity    string
	tokenSource oauth2.TokenSource
	signer      git.Signer

	mu        sync.Mutex
	available []*clone
}

type clone struct {
	path string
	repo *git.Repository
}

// Option adjusts optional Manager behavior.
type Option func(*Manager)

// WithSigner signs every commit the manager creates.
func WithSigner(s git.Signer) Option {
	return func(m *Manager) { m.signer = s }
}

// New constructs a Manager for one remote and branch. The token source must
// allow cloning and pushing; identity becomes the commit author.
func New(tokenSource oauth2.TokenSource, remote, branch, identity string, opts ...Option) (*Manager, error) {
	if tokenSource == nil {
		return nil, errors.New("token source cannot be nil")
	}
	if remote == "" {
		return nil, errors.New("remote cannot be empty")
	}
	if branch == "" {
		return nil, errors.New("branch cannot be empty")
	}
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return nil, errors.New("identity cannot be empty")
	}

	m := &Manager{
		remote:      remote,
		branch:      branch,
		identity:    identity,
		tokenSource: tokenSource,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// RemoteURL builds the clone URL for a GitHub repository.
func RemoteURL(owner, repo string) string {
	return fmt.Sprintf("https://github.com/%s/%s", owner, repo)
}

// Lease hands out a clone synced to the current remote branch head. Callers
// must Close the lease to release the clone back to the pool.
func (m *Manager) Lease(ctx context.Context) (*Lease, error) {
	cl, err := m.acquireClone(ctx)
	if err != nil {
		return nil, err
	}

	head, err := m.prepare(ctx, cl)
	if err != nil {
		clog.FromContext(ctx).Warnf("Discarding clone after prepare failure: %v", err)
		m.discardClone(cl)
		return nil, err
	}

	return &Lease{manager: m, clone: cl, head: head}, nil
}

func (m *Manager) acquireClone(ctx context.Context) (*clone, error) {
	m.mu.Lock()
	if len(m.available) > 0 {
		cl := m.available[0]
		m.available = m.available[1:]
		m.mu.Unlock()
		return cl, nil
	}
	m.mu.Unlock()

	return m.createClone(ctx)
}

func (m *Manager) createClone(ctx context.Context) (*clone, error) {
	dir, err := os.MkdirTemp("", cloneDirPrefix)
	if err != nil {
		return nil, fmt.Errorf("creating temp dir: %w", err)
	}

	clog.FromContext(ctx).Infof("Cloning %s into %s", m.remote, dir)

	auth, err := m.auth()
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("getting token: %w", err)
	}

	repo, err := git.PlainClone(dir, false, &git.CloneOptions{
		URL:           m.remote,
		ReferenceName: plumbing.NewBranchReferenceName(m.branch),
		SingleBranch:  true,
		Auth:          auth,
	})
	if err != nil {
		os.RemoveAll(dir)
		return nil, wrapGitErr("cloning repository", err)
	}

	return &clone{path: dir, repo: repo}, nil
}

// prepare syncs a clone to the remote branch head: hard reset, clean, fetch,
// then check out a local branch pinned to the fetched head.
func (m *Manager) prepare(ctx context.Context, cl *clone) (string, error) {
	worktree, err := cl.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("getting worktree: %w", err)
	}

	if err := worktree.Reset(&git.ResetOptions{Mode: git.HardReset}); err != nil {
		return "", fmt.Errorf("resetting worktree: %w", err)
	}
	if err := worktree.Clean(&git.CleanOptions{Dir: true}); err != nil {
		return "", fmt.Errorf("cleaning worktree: %w", err)
	}

	auth, err := m.auth()
	if err != nil {
		return "", fmt.Errorf("getting token: %w", err)
	}

	clog.FromContext(ctx).Debugf("Fetching branch %s", m.branch)
	fetchOpts := &git.FetchOptions{
		RefSpecs: []gitconfig.RefSpec{gitconfig.RefSpec(fmt.Sprintf("+refs/heads/%s:refs/remotes/origin/%s", m.branch, m.branch))},
		Auth:     auth,
	}
	if err := cl.repo.Fetch(fetchOpts); err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return "", wrapGitErr(fmt.Sprintf("fetching branch %s", m.branch), err)
	}

	remoteRef, err := cl.repo.Reference(plumbing.NewRemoteReferenceName("origin", m.branch), true)
	if err != nil {
		return "", fmt.Errorf("resolving remote branch %s: %w", m.branch, err)
	}

	localRef := plumbing.NewBranchReferenceName(m.branch)
	if err := cl.repo.Storer.SetReference(plumbing.NewHashReference(localRef, remoteRef.Hash())); err != nil {
		return "", fmt.Errorf("pinning local branch: %w", err)
	}
	if err := worktree.Checkout(&git.CheckoutOptions{Branch: localRef, Force: true}); err != nil {
		return "", fmt.Errorf("checking out branch %s: %w", m.branch, err)
	}

	status, err := worktree.Status()
	if err != nil {
		return "", fmt.Errorf("getting worktree status: %w", err)
	}
	if !status.IsClean() {
		return "", errors.New("worktree is not clean after checkout")
	}

	return remoteRef.Hash().String(), nil
}

func (m *Manager) resetClone(cl *clone) error {
	worktree, err := cl.repo.Worktree()
	if err != nil {
		return fmt.Errorf("getting worktree: %w", err)
	}
	if err := worktree.Reset(&git.ResetOptions{Mode: git.HardReset}); err != nil {
		return fmt.Errorf("resetting worktree: %w", err)
	}
	if err := worktree.Clean(&git.CleanOptions{Dir: true}); err != nil {
		return fmt.Errorf("cleaning worktree: %w", err)
	}
	return nil
}

// releaseClone returns a clone to the back of the pool; acquireClone takes
// from the front.
func (m *Manager) releaseClone(cl *clone) {
	m.mu.Lock()
	m.available = append(m.available, cl)
	m.mu.Unlock()
}

func (m *Manager) discardClone(cl *clone) {
	os.RemoveAll(cl.path)
}

func (m *Manager) auth() (*githttp.BasicAuth, error) {
	token, err := m.tokenSource.Token()
	if err != nil {
		return nil, err
	}
	return &githttp.BasicAuth{
		Username: "unused-when-using-access-tokens",
		Password: token.AccessToken,
	}, nil
}

// ApplyAndPush leases a clone, applies the patch on the current branch head,
// and pushes the resulting commit. It returns the new head SHA.
func (m *Manager) ApplyAndPush(ctx context.Context, patch plan.Patch, summary string) (string, error) {
	lease, err := m.Lease(ctx)
	if err != nil {
		return "", err
	}
	defer func() {
		if cerr := lease.Close(ctx); cerr != nil {
			clog.FromContext(ctx).Warnf("Returning clone: %v", cerr)
		}
	}()
	return lease.ApplyAndPush(ctx, patch, summary)
}

// Lease is an acquired clone synced to the remote branch head.
type Lease struct {
	manager *Manager
	clone   *clone
	head    string
}

// Head returns the commit SHA the lease is synced to, updated after a
// successful push.
func (l *Lease) Head() string { return l.head }

// Path returns the absolute path of the lease's working directory.
func (l *Lease) Path() string { return l.clone.path }

// ApplyAndPush applies a patch on top of the branch head, commits it as
// "fix: <summary>" and pushes. A rejected non-fast-forward push triggers one
// resync to the new remote head followed by a re-apply and re-push.
func (l *Lease) ApplyAndPush(ctx context.Context, patch plan.Patch, summary string) (string, error) {
	attempt := func() (string, error) {
		if err := l.Apply(ctx, patch); err != nil {
			return "", err
		}
		sha, err := l.commit(summary)
		if err != nil {
			return "", err
		}
		return sha, l.push(ctx)
	}

	sha, err := attempt()
	if err == nil {
		l.head = sha
		return sha, nil
	}
	if !isNonFastForward(err) {
		return "", err
	}

	clog.FromContext(ctx).Warnf("Push rejected, resyncing to remote head: %v", err)
	head, err := l.manager.prepare(ctx, l.clone)
	if err != nil {
		return "", fmt.Errorf("resyncing after rejected push: %w", err)
	}
	l.head = head

	sha, err = attempt()
	if err != nil {
		return "", fmt.Errorf("after resync: %w", err)
	}
	l.head = sha
	return sha, nil
}

func (l *Lease) commit(summary string) (string, error) {
	worktree, err := l.clone.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("getting worktree: %w", err)
	}

	m := l.manager
	email := m.identity
	if !strings.Contains(email, "@") {
		email = fmt.Sprintf("%s@chainguard.dev", email)
	}

	hash, err := worktree.Commit(fmt.Sprintf("fix: %s", summary), &git.CommitOptions{
		Author: &object.Signature{
			Name:  m.identity,
			Email: email,
			When:  time.Now(),
		},
		Signer: m.signer,
	})
	if err != nil {
		return "", fmt.Errorf("committing: %w", err)
	}
	return hash.String(), nil
}

func (l *Lease) push(ctx context.Context) error {
	m := l.manager
	auth, err := m.auth()
	if err != nil {
		return fmt.Errorf("getting token: %w", err)
	}

	ref := plumbing.NewBranchReferenceName(m.branch)
	refSpec := gitconfig.RefSpec(fmt.Sprintf("%s:%s", ref, ref))
	clog.FromContext(ctx).Infof("Pushing to %s", refSpec)

	if err := l.clone.repo.PushContext(ctx, &git.PushOptions{
		RemoteName: "origin",
		Auth:       auth,
		RefSpecs:   []gitconfig.RefSpec{refSpec},
	}); err != nil {
		if errors.Is(err, git.NoErrAlreadyUpToDate) {
			clog.FromContext(ctx).Infof("Branch already up to date")
			return nil
		}
		return wrapGitErr("pushing", err)
	}
	return nil
}

// Close resets the working tree and returns the clone to the pool. A clone
// that cannot be reset is discarded rather than reused.
func (l *Lease) Close(ctx context.Context) error {
	if l.clone == nil {
		return nil
	}
	if err := l.manager.resetClone(l.clone); err != nil {
		l.manager.discardClone(l.clone)
		l.clone = nil
		return err
	}

	l.manager.releaseClone(l.clone)
	l.clone = nil
	l.manager = nil
	l.head = ""
	return nil
}

// isNonFastForward matches go-git's rejected-update errors, which are
// reported by message both for its local ancestry check and for server-side
// refusals.
func isNonFastForward(err error) bool {
	return err != nil && strings.Contains(err.Error(), "non-fast-forward")
}

// wrapGitErr tags authentication failures so callers can tell a revoked
// token apart from an ordinary git failure.
func wrapGitErr(op string, err error) error {
	if errors.Is(err, transport.ErrAuthenticationRequired) || errors.Is(err, transport.ErrAuthorizationFailed) {
		return provider.Errorf(provider.ClassAuth, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
