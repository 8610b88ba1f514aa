// Package plan defines the pricing tiers and their total ordering.
package plan

import "fmt"

// Plan identifies the pricing tier. Plans are totally ordered:
// Basis < Standard < Premium.
type Plan string

const (
	Basis    Plan = "basis"
	Standard Plan = "standard"
	Premium  Plan = "premium"
)

// rank maps each plan to its position in the ordering. Unknown plans rank
// below Basis so a corrupted value never passes an upgrade check.
var rank = map[Plan]int{
	Basis:    1,
	Standard: 2,
	Premium:  3,
}

// Valid returns true if the plan name is recognised.
func Valid(p Plan) bool {
	_, ok := rank[p]
	return ok
}

// Rank returns the plan's position in the ordering, or 0 for unknown plans.
func (p Plan) Rank() int {
	return rank[p]
}

// IsUpgradeFrom reports whether p is a strictly higher tier than other.
func (p Plan) IsUpgradeFrom(other Plan) bool {
	return rank[p] > rank[other]
}

// IsDowngradeFrom reports whether p is a strictly lower tier than other.
func (p Plan) IsDowngradeFrom(other Plan) bool {
	pr, ok := rank[p]
	if !ok {
		return false
	}
	or, ok := rank[other]
	if !ok {
		return false
	}
	return pr < or
}

// Paid reports whether the plan is billed. Basis is the free tier a tenant
// falls back to when the provider has no subscription for its customer.
func (p Plan) Paid() bool {
	return rank[p] > rank[Basis]
}

// Parse converts a plan name to a Plan, rejecting unknown values.
func Parse(s string) (Plan, error) {
	p := Plan(s)
	if !Valid(p) {
		return "", fmt.Errorf("plan: unknown plan %q", s)
	}
	return p, nil
}
