// Package identity turns provider sign-ins into local users and session
// tokens, and drives the account linking round trip.
package identity

import (
	"context"
	"log"

	"github.com/pysugar/area-nexus/internal/apperr"
	"github.com/pysugar/area-nexus/internal/auth/session"
	"github.com/pysugar/area-nexus/internal/db/models"
	"github.com/pysugar/area-nexus/internal/providers"
)

// UserResolver maps provider identities to users. *db.Store implements it.
type UserResolver interface {
	ResolveIdentity(ctx context.Context, ident models.AuthIdentity) (*models.User, bool, error)
}

// Login is the outcome of a successful sign-in.
type Login struct {
	User    *models.User `json:"user"`
	Token   string       `json:"token"`
	Created bool         `json:"created"`
}

// Service coordinates registry, users and sessions.
type Service struct {
	registry *providers.Registry
	users    UserResolver
	sessions *session.Manager
}

func NewService(registry *providers.Registry, users UserResolver, sessions *session.Manager) *Service {
	return &Service{registry: registry, users: users, sessions: sessions}
}

// SignInWithIDToken verifies a provider ID token and logs the user in.
func (s *Service) SignInWithIDToken(ctx context.Context, provider, idToken string) (*Login, error) {
	const op = "identity.SignInWithIDToken"
	if idToken == "" {
		return nil, apperr.Validation(op, "id_token is required")
	}
	p, ok := s.registry.Identity(provider)
	if !ok {
		return nil, apperr.Validation(op, "provider %q not supported", provider)
	}
	signIn, ok := p.(providers.IDTokenSignIn)
	if !ok {
		return nil, apperr.Validation(op, "provider %q does not support id token sign-in", provider)
	}
	ident, err := signIn.SignInWithIDToken(ctx, idToken)
	if err != nil {
		return nil, err
	}
	return s.login(ctx, ident)
}

// LoginURL starts the code-flow login for provider.
func (s *Service) LoginURL(provider string) (string, error) {
	login, err := s.codeLogin(provider)
	if err != nil {
		return "", err
	}
	state, err := s.sessions.IssueState(provider, session.PurposeLogin, "")
	if err != nil {
		return "", err
	}
	return login.BuildLoginURL(state)
}

// CompleteLogin finishes the code-flow login started by LoginURL.
func (s *Service) CompleteLogin(ctx context.Context, provider, state, code string) (*Login, error) {
	login, err := s.codeLogin(provider)
	if err != nil {
		return nil, err
	}
	if code == "" {
		return nil, apperr.Validation("identity.CompleteLogin", "code is required")
	}
	if _, err := s.sessions.ValidateState(state, provider, session.PurposeLogin); err != nil {
		return nil, err
	}
	ident, err := login.HandleLoginCallback(ctx, code)
	if err != nil {
		return nil, err
	}
	return s.login(ctx, ident)
}

func (s *Service) codeLogin(provider string) (providers.CodeLogin, error) {
	p, ok := s.registry.Identity(provider)
	if !ok {
		return nil, apperr.Validation("identity.codeLogin", "provider %q not supported", provider)
	}
	login, ok := p.(providers.CodeLogin)
	if !ok {
		return nil, apperr.Validation("identity.codeLogin", "provider %q does not support code login", provider)
	}
	return login, nil
}

func (s *Service) login(ctx context.Context, ident *providers.Identity) (*Login, error) {
	user, created, err := s.users.ResolveIdentity(ctx, models.AuthIdentity{
		Provider:       ident.Provider,
		ProviderUserID: ident.ProviderUserID,
		Email:          ident.Email,
		Name:           ident.Name,
		Picture:        ident.Picture,
	})
	if err != nil {
		return nil, err
	}
	tok, err := s.sessions.Issue(user.ID, user.Email)
	if err != nil {
		return nil, err
	}
	if created {
		log.Printf("👤 [Auth] New user %s via %s", user.ID, ident.Provider)
	}
	return &Login{User: user, Token: tok, Created: created}, nil
}

// LinkURL returns the consent URL that links provider to userID.
func (s *Service) LinkURL(provider, userID string) (string, error) {
	p, ok := s.registry.Linking(provider)
	if !ok {
		return "", apperr.Validation("identity.LinkURL", "provider %q not supported", provider)
	}
	state, err := s.sessions.IssueState(provider, session.PurposeLink, userID)
	if err != nil {
		return "", err
	}
	return p.BuildLinkURL(state)
}

// CompleteLink finishes linking and returns the user the state was issued
// for.
func (s *Service) CompleteLink(ctx context.Context, provider, state, code string) (string, error) {
	p, ok := s.registry.Linking(provider)
	if !ok {
		return "", apperr.Validation("identity.CompleteLink", "provider %q not supported", provider)
	}
	claims, err := s.sessions.ValidateState(state, provider, session.PurposeLink)
	if err != nil {
		return "", err
	}
	if err := p.HandleLinkCallback(ctx, claims.UserID, code); err != nil {
		return "", err
	}
	return claims.UserID, nil
}
