package user

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-vape/internal/common"
	"github.com/noah-isme/backend-vape/internal/pricing"
)

// ProfileReader is the read side of Store.
type ProfileReader interface {
	GetProfile(ctx context.Context, email string) (pricing.UserProfile, error)
}

// Service resolves pricing profiles for verified customers.
type Service struct {
	store ProfileReader
	log   zerolog.Logger
}

// NewService constructs a Service.
func NewService(store ProfileReader, log zerolog.Logger) *Service {
	return &Service{store: store, log: log}
}

// Profile returns the pricing profile for email and never fails. An empty email or a lookup
// error yields nil, which prices the cart as a guest. A verified email with no user row is a
// brand new individual customer.
func (s *Service) Profile(ctx context.Context, email string) *pricing.UserProfile {
	email = common.NormalizeEmail(email)
	if email == "" {
		return nil
	}
	p, err := s.store.GetProfile(ctx, email)
	switch {
	case err == nil:
		return &p
	case errors.Is(err, ErrNotFound):
		return &pricing.UserProfile{Email: email, AccountType: pricing.AccountIndividual}
	default:
		s.log.Warn().Err(err).Str("customer", common.EmailHash(email)).Msg("profile lookup failed, pricing as guest")
		return nil
	}
}

// CallerProfile resolves the profile of the authenticated caller, or nil for guests.
func (s *Service) CallerProfile(ctx context.Context) *pricing.UserProfile {
	return s.Profile(ctx, common.CustomerEmail(ctx))
}

// AccountType returns the caller's account type, individual for guests.
func (s *Service) AccountType(ctx context.Context) pricing.AccountType {
	if p := s.CallerProfile(ctx); p != nil {
		return p.AccountType
	}
	return pricing.AccountIndividual
}
