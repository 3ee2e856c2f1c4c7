package teams

// Team is a view over its owner's subscription: it holds no tokens of its
// own. Every team-scoped token operation resolves the owner account and
// delegates to the owner's ledger.
type Team struct {
	ID             string `gorm:"primaryKey"`
	Name           string
	OwnerAccountID uint `gorm:"not null;index:idx_teams_owner_account_id"`
}

// RoleResolver is the external membership collaborator. Membership and role
// management live outside the billing core; we only ask "what is this
// account's role on this team" and get "" for non-members of an existing
// team, or ErrTeamNotFound when the team itself does not exist.
type RoleResolver interface {
	ResolveRole(teamID string, accountID uint) (string, error)
}
