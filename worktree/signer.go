/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package worktree

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	git "github.com/go-git/go-git/v5"
	"github.com/sigstore/cosign/v3/pkg/providers"
	"github.com/sigstore/gitsign/pkg/fulcio"
	"github.com/sigstore/gitsign/pkg/gitsign"
	"github.com/sigstore/gitsign/pkg/rekor"
	"github.com/sigstore/sigstore/pkg/oauthflow"
	"golang.org/x/oauth2"

	// Ambient credential providers. This runs on Cloud Run, so only the
	// Google provider is linked in.
	_ "github.com/sigstore/cosign/v3/pkg/providers/google"
)

const (
	fulcioURL  = "https://fulcio.sigstore.dev"
	rekorURL   = "https://rekor.sigstore.dev"
	oidcIssuer = "https://oauth2.sigstore.dev/auth"
)

// NewSigner builds a keyless Sigstore signer for remediation commits, backed
// by whatever ambient OIDC credential provider is enabled.
func NewSigner(ctx context.Context) (git.Signer, error) {
	if !providers.Enabled(ctx) {
		return nil, errors.New("no sigstore credential providers enabled")
	}

	fc, err := fulcio.NewClient(fulcioURL, fulcio.OIDCOptions{
		ClientID: "sigstore",
		Issuer:   oidcIssuer,
		TokenGetter: &ambientTokenGetter{
			ctx:      ctx,
			audience: "sigstore",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("building fulcio client: %w", err)
	}
	rk, err := rekor.NewWithOptions(ctx, rekorURL)
	if err != nil {
		return nil, fmt.Errorf("building rekor client: %w", err)
	}
	return gitsign.NewSigner(ctx, fc, rk)
}

// ambientTokenGetter sources OIDC identity tokens from the enabled cosign
// credential provider rather than an interactive flow.
type ambientTokenGetter struct {
	ctx      context.Context
	audience string
}

func (g *ambientTokenGetter) GetIDToken(_ *oidc.Provider, _ oauth2.Config) (*oauthflow.OIDCIDToken, error) {
	token, err := providers.Provide(g.ctx, g.audience)
	if err != nil {
		return nil, fmt.Errorf("providing token: %w", err)
	}
	payload, err := jwtPayload(token)
	if err != nil {
		return nil, err
	}
	subject, err := oauthflow.SubjectFromUnverifiedToken(payload)
	if err != nil {
		return nil, fmt.Errorf("extracting subject: %w", err)
	}
	return &oauthflow.OIDCIDToken{RawString: token, Subject: subject}, nil
}

func jwtPayload(token string) ([]byte, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, errors.New("invalid jwt format")
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("decoding payload: %w", err)
	}
	return payload, nil
}
