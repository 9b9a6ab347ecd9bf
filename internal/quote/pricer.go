// Package quote prices carts for display and for checkout from trusted server-side data.
package quote

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/backend-vape/internal/catalog"
	"github.com/noah-isme/backend-vape/internal/common"
	"github.com/noah-isme/backend-vape/internal/events"
	"github.com/noah-isme/backend-vape/internal/pricing"
)

// CartBuilder resolves requested lines into priced items.
type CartBuilder interface {
	BuildCart(ctx context.Context, lines []catalog.Line, account pricing.AccountType) ([]pricing.CartItem, error)
}

// ProfileSource returns the caller's pricing profile, nil for guests.
type ProfileSource interface {
	CallerProfile(ctx context.Context) *pricing.UserProfile
}

// CodeResolver turns a typed code into a discount record.
type CodeResolver interface {
	Resolve(ctx context.Context, code, email string) (*pricing.DiscountRecord, error)
}

// Pricer runs the full pricing pipeline: profile and code lookups, trusted cart prices,
// then the engine.
type Pricer struct {
	Catalog  CartBuilder
	Profiles ProfileSource
	Codes    CodeResolver
	Engine   pricing.Engine
}

// Priced is the outcome of pricing one cart.
type Priced struct {
	Items       []pricing.CartItem
	Profile     *pricing.UserProfile
	Discount    *pricing.DiscountRecord
	Calculation pricing.CartCalculation
	// DiscountErr is set when a code was supplied but rejected. The calculation then
	// carries whatever automatic discount applies.
	DiscountErr error
}

// Price prices lines for the caller identified on ctx. Only a rejected code is tolerated;
// catalog and storage failures are returned.
func (p *Pricer) Price(ctx context.Context, lines []catalog.Line, code string) (Priced, error) {
	var out Priced
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if p.Profiles != nil {
			out.Profile = p.Profiles.CallerProfile(gctx)
		}
		return nil
	})
	if code != "" {
		g.Go(func() error {
			rec, err := p.Codes.Resolve(gctx, code, common.CustomerEmail(ctx))
			var appErr *common.AppError
			switch {
			case err == nil:
				out.Discount = rec
			case errors.As(err, &appErr):
				out.DiscountErr = err
				zerolog.Ctx(ctx).Debug().Err(err).Msg("discount code rejected")
			default:
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Priced{}, err
	}

	account := pricing.AccountIndividual
	if out.Profile != nil {
		account = out.Profile.AccountType
	}
	items, err := p.Catalog.BuildCart(ctx, lines, account)
	if err != nil {
		return Priced{}, err
	}
	out.Items = items
	out.Calculation = p.Engine.Calculate(items, out.Profile, out.Discount)
	return out, nil
}

// PriceLines prices a storefront-reported cart without a code. It satisfies events.CartPricer.
func (p *Pricer) PriceLines(ctx context.Context, lines []events.CartLine) (pricing.CartCalculation, error) {
	converted := make([]catalog.Line, 0, len(lines))
	for _, l := range lines {
		converted = append(converted, catalog.Line{ProductID: l.ProductID, Quantity: l.Quantity})
	}
	priced, err := p.Price(ctx, converted, "")
	if err != nil {
		return pricing.CartCalculation{}, err
	}
	return priced.Calculation, nil
}

// DiscountSource labels an applied discount for metrics.
func DiscountSource(d *pricing.AppliedDiscount) string {
	if d == nil {
		return "none"
	}
	if d.Automatic {
		return "automatic"
	}
	return "manual"
}
