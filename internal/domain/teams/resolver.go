package teams

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

var ErrTeamNotFound = errors.New("team not found")

// OwnerRoleResolver is the minimal built-in membership source: the team
// owner holds the "owner" role, everyone else is a non-member. Full
// membership management is an external collaborator; deployments with one
// plug their own RoleResolver in at construction time.
type OwnerRoleResolver struct {
	db *gorm.DB
}

func NewOwnerRoleResolver(db *gorm.DB) *OwnerRoleResolver {
	return &OwnerRoleResolver{db: db}
}

func (r *OwnerRoleResolver) ResolveRole(teamID string, accountID uint) (string, error) {
	var team Team
	if err := r.db.Where("id = ?", teamID).First(&team).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrTeamNotFound
		}
		return "", fmt.Errorf("resolve team role: %w", err)
	}
	if team.OwnerAccountID == accountID {
		return "owner", nil
	}
	return "", nil
}
