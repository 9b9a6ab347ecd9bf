package pricing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// RuleID identifies an automatic discount rule so its rate can be overridden from config.
type RuleID string

const (
	RuleFirstOrder  RuleID = "first_order"
	RulePodBottles3 RuleID = "pod_bottles_3"
	RulePodBottles1 RuleID = "pod_bottles_1"
	RuleBottles5    RuleID = "bottles_5"
	RuleBottles3    RuleID = "bottles_3"
)

// ErrUnknownRule is returned when an override names a rule that is not in the table.
var ErrUnknownRule = errors.New("pricing: unknown rule")

// Rule is one row of the automatic discount decision table.
type Rule struct {
	ID         RuleID
	Name       string
	Kind       DiscountKind
	Percent    decimal.Decimal
	Base       Base
	FirstOrder bool
	MinPods    int
	MinBottles int
}

func (r Rule) matches(t tally, user *UserProfile) bool {
	if r.FirstOrder && !user.FirstOrder() {
		return false
	}
	return t.pods >= r.MinPods && t.bottles >= r.MinBottles
}

// Rules is the ordered automatic discount table. The first matching rule wins.
type Rules struct {
	Automatic []Rule
}

// DefaultRules returns the storefront's standard promotion table.
func DefaultRules() Rules {
	return Rules{Automatic: []Rule{
		{ID: RuleFirstOrder, Name: "First order discount", Kind: KindFirstOrder, Percent: decimal.NewFromInt(20), Base: BaseSubtotal, FirstOrder: true},
		{ID: RulePodBottles3, Name: "Pod + 3 bottles bundle", Kind: KindBundle, Percent: decimal.NewFromInt(50), Base: BaseBottles, MinPods: 1, MinBottles: 3},
		{ID: RulePodBottles1, Name: "Pod + bottle bundle", Kind: KindBundle, Percent: decimal.NewFromInt(30), Base: BaseBottles, MinPods: 1, MinBottles: 1},
		{ID: RuleBottles5, Name: "5+ bottles volume discount", Kind: KindVolume, Percent: decimal.NewFromInt(30), Base: BaseBottles, MinBottles: 5},
		{ID: RuleBottles3, Name: "3+ bottles volume discount", Kind: KindVolume, Percent: decimal.NewFromInt(20), Base: BaseBottles, MinBottles: 3},
	}}
}

// WithPercent returns a copy of the table with the named rule's rate replaced.
func (r Rules) WithPercent(id RuleID, percent decimal.Decimal) (Rules, error) {
	out := Rules{Automatic: make([]Rule, len(r.Automatic))}
	copy(out.Automatic, r.Automatic)
	for i := range out.Automatic {
		if out.Automatic[i].ID == id {
			out.Automatic[i].Percent = percent
			return out, out.Validate()
		}
	}
	return r, fmt.Errorf("%w: %s", ErrUnknownRule, id)
}

// ParseOverrides applies "id=percent" pairs separated by commas, e.g. "first_order=15,bottles_3=25".
func (r Rules) ParseOverrides(csv string) (Rules, error) {
	out := r
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			return r, fmt.Errorf("pricing: malformed override %q", part)
		}
		pct, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil {
			return r, fmt.Errorf("pricing: override %q: %w", part, err)
		}
		out, err = out.WithPercent(RuleID(strings.TrimSpace(key)), pct)
		if err != nil {
			return r, err
		}
	}
	return out, nil
}

// Validate rejects tables that could produce negative or oversized discounts.
func (r Rules) Validate() error {
	for _, rule := range r.Automatic {
		if rule.Percent.IsNegative() || rule.Percent.GreaterThan(hundred) {
			return fmt.Errorf("pricing: rule %s percent %s out of range", rule.ID, rule.Percent)
		}
		if rule.MinPods < 0 || rule.MinBottles < 0 {
			return fmt.Errorf("pricing: rule %s has negative threshold", rule.ID)
		}
		if rule.Base != BaseSubtotal && rule.Base != BaseBottles {
			return fmt.Errorf("pricing: rule %s has unknown base %q", rule.ID, rule.Base)
		}
	}
	return nil
}
