package subscription

import (
	"errors"
	"fmt"

	"iconforge/internal/domain/teams"
	"iconforge/internal/ledger"

	"gorm.io/gorm"
)

// ErrTeamNotFound is the teams sentinel re-exported so callers of the pool
// match the same error the role resolver returns.
var ErrTeamNotFound = teams.ErrTeamNotFound

// Pool exposes team-scoped token operations. A team holds no tokens of its
// own: every operation resolves the owning account and delegates to that
// account's ledger and lifecycle unchanged.
type Pool struct {
	db        *gorm.DB
	lifecycle *Service
	tokens    *ledger.Ledger
}

func NewPool(db *gorm.DB, lifecycle *Service, tokens *ledger.Ledger) *Pool {
	return &Pool{db: db, lifecycle: lifecycle, tokens: tokens}
}

// ResolveLedgerOwner maps a team id to the account whose ledger backs it.
func (p *Pool) ResolveLedgerOwner(teamID string) (uint, error) {
	var team teams.Team
	if err := p.db.Where("id = ?", teamID).First(&team).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrTeamNotFound
		}
		return 0, fmt.Errorf("resolve team: %w", err)
	}
	return team.OwnerAccountID, nil
}

// CanUse is the team eligibility check. Stricter than the personal one: if
// the owner has dropped off a team-capable plan, the whole team is frozen
// even when tokens remain on the owner's ledger.
func (p *Pool) CanUse(teamID string) (Eligibility, error) {
	ownerID, err := p.ResolveLedgerOwner(teamID)
	if err != nil {
		return Eligibility{}, err
	}

	elig, err := p.lifecycle.CanUse(ownerID)
	if err != nil {
		return Eligibility{}, err
	}

	if !p.lifecycle.catalog.Get(elig.PlanID).SupportsTeams() {
		elig.Allowed = false
		elig.Reason = "The team owner's plan does not include team seats"
	}
	return elig, nil
}

// Deduct spends from the owner's ledger on behalf of the team.
func (p *Pool) Deduct(teamID string, amount float64) (uint, ledger.DeductResult, error) {
	ownerID, err := p.ResolveLedgerOwner(teamID)
	if err != nil {
		return 0, ledger.DeductResult{}, err
	}
	res, err := p.tokens.Deduct(ownerID, amount)
	return ownerID, res, err
}

// Balance reads the owner's ledger.
func (p *Pool) Balance(teamID string) (ledger.Balance, error) {
	ownerID, err := p.ResolveLedgerOwner(teamID)
	if err != nil {
		return ledger.Balance{}, err
	}
	return p.tokens.Balance(ownerID)
}
