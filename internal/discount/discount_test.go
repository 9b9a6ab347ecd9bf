package discount

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-vape/internal/common"
	"github.com/noah-isme/backend-vape/internal/db/dbtest"
	"github.com/noah-isme/backend-vape/internal/pricing"
	"github.com/noah-isme/backend-vape/internal/user"
)

var now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

type fakeCodes struct {
	records  map[string]Record
	redeemed map[string]bool
	err      error
}

func (f fakeCodes) GetByCode(_ context.Context, code string) (Record, error) {
	if f.err != nil {
		return Record{}, f.err
	}
	r, ok := f.records[code]
	if !ok {
		return Record{}, ErrUnknown
	}
	return r, nil
}

func (f fakeCodes) HasReferralRedemption(_ context.Context, email string) (bool, error) {
	return f.redeemed[email], nil
}

type fakeReferrals map[string]user.Referrer

func (f fakeReferrals) FindByReferralCode(_ context.Context, code string) (user.Referrer, error) {
	r, ok := f[code]
	if !ok {
		return user.Referrer{}, user.ErrNotFound
	}
	return r, nil
}

func pct(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func newResolver(codes fakeCodes) *Resolver {
	return &Resolver{
		Codes:           codes,
		Referrals:       fakeReferrals{"SARI10": {Email: "sari@example.com", Name: "Sari", Code: "SARI10"}},
		ReferralPercent: decimal.NewFromInt(10),
		Now:             func() time.Time { return now },
	}
}

func TestResolveStoredCode(t *testing.T) {
	r := newResolver(fakeCodes{records: map[string]Record{
		"WELCOME": {Code: "WELCOME", Name: "Welcome", Percentage: pct(15), Kind: pricing.KindCustom, Active: true},
	}})
	got, err := r.Resolve(context.Background(), "  welcome ", "")
	require.NoError(t, err)
	require.Equal(t, "WELCOME", got.Code)
	require.True(t, got.Percentage.Equal(decimal.NewFromInt(15)))
}

func TestResolveRejections(t *testing.T) {
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	fixed := pricing.Money(5000)
	records := map[string]Record{
		"OFF":     {Code: "OFF", Percentage: pct(10)},
		"LATER":   {Code: "LATER", Percentage: pct(10), Active: true, ValidFrom: &future},
		"OLD":     {Code: "OLD", Percentage: pct(10), Active: true, ValidTo: &past},
		"USED":    {Code: "USED", FixedAmount: &fixed, Active: true, SingleUse: true, Availed: true},
		"PRIVATE": {Code: "PRIVATE", Percentage: pct(10), Active: true, ScopeEmail: "dewi@example.com"},
		"EMPTY":   {Code: "EMPTY", Active: true},
	}
	r := newResolver(fakeCodes{records: records, redeemed: map[string]bool{"andi@example.com": true}})

	cases := []struct {
		code, email string
		reason      error
	}{
		{"OFF", "", ErrInactive},
		{"LATER", "", ErrNotYetValid},
		{"OLD", "", ErrExpired},
		{"USED", "", ErrAvailed},
		{"PRIVATE", "budi@example.com", ErrWrongCustomer},
		{"EMPTY", "", ErrNoMagnitude},
		{"NOPE", "", ErrUnknown},
		{"", "", ErrUnknown},
		{"sari10", "Sari@Example.com", ErrSelfReferral},
		{"SARI10", "andi@example.com", ErrRepeatReferral},
	}
	for _, tc := range cases {
		t.Run(tc.code+"/"+tc.email, func(t *testing.T) {
			_, err := r.Resolve(context.Background(), tc.code, tc.email)
			require.ErrorIs(t, err, ErrInvalidCode)
			require.ErrorIs(t, err, tc.reason)
			var appErr *common.AppError
			require.ErrorAs(t, err, &appErr)
			require.Equal(t, "INVALID_CODE", appErr.Code)
			require.Equal(t, http.StatusUnprocessableEntity, appErr.HTTPStatus)
		})
	}
}

func TestResolveScopedCodeForOwner(t *testing.T) {
	r := newResolver(fakeCodes{records: map[string]Record{
		"PRIVATE": {Code: "PRIVATE", Percentage: pct(10), Active: true, ScopeEmail: "dewi@example.com"},
	}})
	_, err := r.Resolve(context.Background(), "private", "DEWI@example.com")
	require.NoError(t, err)
}

func TestResolveReferral(t *testing.T) {
	r := newResolver(fakeCodes{})
	got, err := r.Resolve(context.Background(), "sari10", "budi@example.com")
	require.NoError(t, err)
	require.Equal(t, pricing.KindReferral, got.Kind)
	require.Equal(t, "sari@example.com", got.OwnerEmail)
	require.Equal(t, "Referral from Sari", got.Name)
	require.True(t, got.Percentage.Equal(decimal.NewFromInt(10)))

	r.ReferralPercent = decimal.Zero
	_, err = r.Resolve(context.Background(), "sari10", "budi@example.com")
	require.ErrorIs(t, err, ErrUnknown)
}

func TestResolveStorageErrorIsNotInvalidCode(t *testing.T) {
	boom := errors.New("connection reset")
	r := newResolver(fakeCodes{err: boom})
	_, err := r.Resolve(context.Background(), "WELCOME", "")
	require.ErrorIs(t, err, boom)
	require.NotErrorIs(t, err, ErrInvalidCode)
}

func TestStoreGetByCode(t *testing.T) {
	fake := dbtest.New().On("FROM discount_codes", func(args []any) dbtest.Result {
		if args[0] != "WELCOME" {
			return dbtest.Result{}
		}
		return dbtest.Result{Rows: [][]any{{
			"WELCOME", "Welcome", decimal.NullDecimal{Decimal: decimal.NewFromInt(15), Valid: true}, nil,
			"custom", "", "", false, false, true, nil, now,
		}}}
	})
	store := NewStore(fake)

	rec, err := store.GetByCode(context.Background(), "WELCOME")
	require.NoError(t, err)
	require.True(t, rec.Percentage.Equal(decimal.NewFromInt(15)))
	require.Nil(t, rec.FixedAmount)
	require.Nil(t, rec.ValidFrom)
	require.Equal(t, now, *rec.ValidTo)
	require.Equal(t, pricing.KindCustom, rec.Kind)

	_, err = store.GetByCode(context.Background(), "MISSING")
	require.ErrorIs(t, err, ErrUnknown)
}

func TestConsumeIsIdempotentPerOrder(t *testing.T) {
	inserted := map[string]bool{}
	fake := dbtest.New().
		On("INSERT INTO discount_redemptions", func(args []any) dbtest.Result {
			id := args[0].(string)
			if inserted[id] {
				return dbtest.Result{Affected: 0}
			}
			inserted[id] = true
			return dbtest.Result{Affected: 1}
		}).
		On("UPDATE discount_codes", func([]any) dbtest.Result { return dbtest.Result{Affected: 1} }).
		On("UPDATE users", func([]any) dbtest.Result { return dbtest.Result{Affected: 1} })

	c := &Consumer{DB: fake}
	in := Consumption{OrderID: "ord-1", Code: "WELCOME", Kind: pricing.KindCustom, CustomerEmail: "budi@example.com", Amount: 1500}
	require.NoError(t, c.Consume(context.Background(), in))
	require.NoError(t, c.Consume(context.Background(), in))

	require.Equal(t, 2, fake.Called("INSERT INTO discount_redemptions"))
	require.Equal(t, 1, fake.Called("UPDATE discount_codes"))
	require.Equal(t, 1, fake.Called("UPDATE users"))
	require.Equal(t, 2, fake.Commits)
}

func TestConsumeRollsBackOnFailure(t *testing.T) {
	fake := dbtest.New().
		On("INSERT INTO discount_redemptions", func([]any) dbtest.Result { return dbtest.Result{Affected: 1} }).
		On("UPDATE discount_codes", func([]any) dbtest.Result { return dbtest.Result{Err: errors.New("deadlock")} })

	err := (&Consumer{DB: fake}).Consume(context.Background(), Consumption{OrderID: "ord-1", Code: "X"})
	require.Error(t, err)
	require.Equal(t, 1, fake.Rollbacks)
	require.Zero(t, fake.Commits)
}

func TestValidateHandler(t *testing.T) {
	h := Handler{Resolver: newResolver(fakeCodes{}), Validate: validator.New()}

	send := func(body string, email string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/discounts/validate", bytes.NewBufferString(body))
		if email != "" {
			req = req.WithContext(common.WithCustomer(req.Context(), common.Customer{Email: email}))
		}
		rr := httptest.NewRecorder()
		h.ValidateCode(rr, req)
		return rr
	}

	rr := send(`{"code":"SARI10"}`, "budi@example.com")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"kind":"referral"`)
	require.NotContains(t, rr.Body.String(), "sari@example.com")

	rr = send(`{"code":"SARI10"}`, "sari@example.com")
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Contains(t, rr.Body.String(), "INVALID_CODE")
	require.NotContains(t, rr.Body.String(), "referral")

	rr = send(`{"code":""}`, "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
}
