package plan

// Config defines limits and display data for a pricing tier.
type Config struct {
	Plan        Plan
	DisplayName string
	MaxMembers  int // 0 = unlimited
	MaxProjects int // 0 = unlimited
	Trial       bool
}

// Catalog is the hardcoded plan catalogue. Prices live in the payment
// provider and are fetched through the provider facade; only limits and
// display data are kept here.
var Catalog = map[Plan]Config{
	Basis: {
		Plan:        Basis,
		DisplayName: "Basis",
		MaxMembers:  3,
		MaxProjects: 5,
	},
	Standard: {
		Plan:        Standard,
		DisplayName: "Standard",
		MaxMembers:  15,
		MaxProjects: 50,
		Trial:       true,
	},
	Premium: {
		Plan:        Premium,
		DisplayName: "Premium",
		MaxMembers:  0,
		MaxProjects: 0,
		Trial:       true,
	},
}

// ConfigFor returns the config for a plan, falling back to Basis for
// unknown values.
func ConfigFor(p Plan) Config {
	cfg, ok := Catalog[p]
	if !ok {
		return Catalog[Basis]
	}
	return cfg
}
