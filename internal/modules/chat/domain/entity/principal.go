package entity

// Principal is the caller identity resolved by the identity provider.
type Principal struct {
	UserID string
	Name   string
	Role   string
	Tier   string
	Trial  bool
}

func (p Principal) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.UserID
}
