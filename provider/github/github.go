/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package github implements the provider interface against the GitHub
// Checks and Actions APIs. Observation goes through GraphQL to keep the
// request count flat in the number of check suites; mutations use REST.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/google/go-github/v84/github"
	"github.com/shurcooL/githubv4"
	"golang.org/x/oauth2"

	"chainguard.dev/checkmend/provider"
)

// Options configures access to one repository. Either Token or the App
// credential triple must be set.
type Options struct {
	// Repo is the target repository as "owner/name".
	Repo string
	// Token is a personal access or installation token.
	Token string
	// AppID, InstallationID and PrivateKeyPath authenticate as a GitHub
	// App installation when Token is empty.
	AppID          int64
	InstallationID int64
	PrivateKeyPath string
}

// Client drives one GitHub repository.
type Client struct {
	owner string
	repo  string
	gh    *github.Client
	gql   *githubv4.Client
	ts    oauth2.TokenSource
}

var _ provider.Interface = (*Client)(nil)

// New builds a client for opts.Repo using either token or App installation
// credentials.
func New(ctx context.Context, opts Options) (*Client, error) {
	owner, repo, ok := strings.Cut(opts.Repo, "/")
	if !ok || owner == "" || repo == "" {
		return nil, fmt.Errorf("repository %q is not owner/name", opts.Repo)
	}

	var ts oauth2.TokenSource
	switch {
	case opts.Token != "":
		ts = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token})
	case opts.AppID != 0:
		itr, err := ghinstallation.NewKeyFromFile(http.DefaultTransport, opts.AppID, opts.InstallationID, opts.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("loading app credentials: %w", err)
		}
		ts = &installationTokenSource{ctx: ctx, transport: itr}
	default:
		return nil, errors.New("no GitHub credentials configured")
	}

	gh := github.NewClient(oauth2.NewClient(ctx, ts))
	return &Client{
		owner: owner,
		repo:  repo,
		gh:    gh,
		gql:   githubv4.NewClient(gh.Client()),
		ts:    ts,
	}, nil
}

// Owner returns the repository owner.
func (c *Client) Owner() string { return c.owner }

// Repo returns the repository name.
func (c *Client) Repo() string { return c.repo }

// TokenSource exposes the credential for collaborators that authenticate
// outside this client, such as git pushes over HTTPS.
func (c *Client) TokenSource() oauth2.TokenSource { return c.ts }

// installationTokenSource adapts a GitHub App installation transport to
// oauth2.TokenSource. Installation tokens rotate hourly, so every call asks
// the transport for a fresh one.
type installationTokenSource struct {
	ctx       context.Context
	transport *ghinstallation.Transport
}

func (s *installationTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.transport.Token(s.ctx)
	if err != nil {
		return nil, fmt.Errorf("minting installation token: %w", err)
	}
	return &oauth2.Token{AccessToken: tok}, nil
}

// wrap tags a go-github error with its remediation class. Unrecognized
// errors pass through with only the operation prefix so that transport
// timeouts keep their own classification.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var rate *github.RateLimitError
	var abuse *github.AbuseRateLimitError
	var ger *github.ErrorResponse
	switch {
	case errors.As(err, &rate), errors.As(err, &abuse):
		return provider.Errorf(provider.ClassRateLimit, op, err)
	case errors.As(err, &ger):
		if ger.Response != nil {
			switch code := ger.Response.StatusCode; {
			case code == http.StatusUnauthorized:
				return provider.Errorf(provider.ClassAuth, op, err)
			case code == http.StatusForbidden:
				// Forbidden covers both broken credentials and per-resource
				// refusals such as rerun windows expiring. Only the former
				// should stop the loop.
				if strings.Contains(ger.Message, "credential") || strings.Contains(ger.Message, "Resource not accessible") {
					return provider.Errorf(provider.ClassAuth, op, err)
				}
				return provider.Errorf(provider.ClassOther, op, err)
			case code == http.StatusNotFound || code == http.StatusGone:
				return provider.Errorf(provider.ClassNotFound, op, err)
			case code == http.StatusTooManyRequests:
				return provider.Errorf(provider.ClassRateLimit, op, err)
			case code >= 500:
				return provider.Errorf(provider.ClassUnavailable, op, err)
			}
		}
		return provider.Errorf(provider.ClassOther, op, err)
	}
	if class, ok := classifyByMessage(err); ok {
		return provider.Errorf(class, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// classifyByMessage recognizes GraphQL transport failures, which surface as
// plain errors carrying the HTTP status in their text.
func classifyByMessage(err error) (provider.Class, bool) {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "Bad credentials"):
		return provider.ClassAuth, true
	case strings.Contains(msg, "403"):
		return provider.ClassAuth, true
	case strings.Contains(msg, "404"):
		return provider.ClassNotFound, true
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit"):
		return provider.ClassRateLimit, true
	case strings.Contains(msg, "502") || strings.Contains(msg, "503") || strings.Contains(msg, "504"):
		return provider.ClassUnavailable, true
	}
	return provider.ClassOther, false
}
