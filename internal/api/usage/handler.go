package usage

import (
	"errors"
	"fmt"
	"log"
	"net/http"

	"iconforge/internal/domain/plans"
	"iconforge/internal/domain/teams"
	"iconforge/internal/ledger"
	"iconforge/internal/ratelimit"
	"iconforge/internal/subscription"

	"github.com/gin-gonic/gin"
)

// Handler is the eligibility/deduction surface consumed by the generation
// pipeline. Order on the hot path: eligibility, then admission, then the
// atomic deduct, then the best-effort low-balance check.
type Handler struct {
	lifecycle *subscription.Service
	pool      *subscription.Pool
	tokens    *ledger.Ledger
	limiter   *ratelimit.Limiter
	notifier  *ledger.Notifier
	catalog   *plans.Catalog
	roles     teams.RoleResolver
}

func NewHandler(lifecycle *subscription.Service, pool *subscription.Pool, tokens *ledger.Ledger,
	limiter *ratelimit.Limiter, notifier *ledger.Notifier, catalog *plans.Catalog, roles teams.RoleResolver) *Handler {
	return &Handler{
		lifecycle: lifecycle,
		pool:      pool,
		tokens:    tokens,
		limiter:   limiter,
		notifier:  notifier,
		catalog:   catalog,
		roles:     roles,
	}
}

type deductRequest struct {
	Amount float64 `json:"amount" binding:"required,gt=0"`
}

// CanUse reports eligibility for the authenticated account. Pure read.
func (h *Handler) CanUse(c *gin.Context) {
	accountID := c.GetUint("account_id")
	if accountID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Account not identified"})
		return
	}

	elig, err := h.lifecycle.CanUse(accountID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check eligibility"})
		return
	}
	c.JSON(http.StatusOK, elig)
}

// Balance returns both buckets for the authenticated account.
func (h *Handler) Balance(c *gin.Context) {
	accountID := c.GetUint("account_id")
	if accountID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Account not identified"})
		return
	}

	bal, err := h.tokens.Balance(accountID)
	if err != nil {
		if errors.Is(err, ledger.ErrNoSubscription) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No subscription found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load balance"})
		return
	}
	c.JSON(http.StatusOK, bal)
}

// Deduct spends tokens for one metered action.
func (h *Handler) Deduct(c *gin.Context) {
	accountID := c.GetUint("account_id")
	if accountID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Account not identified"})
		return
	}

	var body deductRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing or invalid amount"})
		return
	}

	elig, err := h.lifecycle.CanUse(accountID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check eligibility"})
		return
	}
	if !elig.Allowed {
		c.JSON(http.StatusForbidden, gin.H{"error": elig.Reason, "tokens_remaining": elig.TokensRemaining})
		return
	}

	if !h.admit(c, ratelimit.AccountSubject(accountID), elig.PlanID) {
		return
	}

	res, err := h.tokens.Deduct(accountID, body.Amount)
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidAmount) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Amount must be positive"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to deduct tokens"})
		return
	}
	if res.Success {
		h.notifier.AfterDeduct(c.Request.Context(), accountID, res.Remaining)
	}
	c.JSON(http.StatusOK, res)
}

// TeamCanUse reports team eligibility; stricter than the personal check.
func (h *Handler) TeamCanUse(c *gin.Context) {
	teamID, ok := h.authorizeTeam(c)
	if !ok {
		return
	}

	elig, err := h.pool.CanUse(teamID)
	if err != nil {
		h.teamError(c, err)
		return
	}
	c.JSON(http.StatusOK, elig)
}

// TeamBalance returns the owning account's buckets.
func (h *Handler) TeamBalance(c *gin.Context) {
	teamID, ok := h.authorizeTeam(c)
	if !ok {
		return
	}

	bal, err := h.pool.Balance(teamID)
	if err != nil {
		h.teamError(c, err)
		return
	}
	c.JSON(http.StatusOK, bal)
}

// TeamDeduct spends from the owning account's ledger on the team's behalf.
func (h *Handler) TeamDeduct(c *gin.Context) {
	teamID, ok := h.authorizeTeam(c)
	if !ok {
		return
	}

	var body deductRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing or invalid amount"})
		return
	}

	elig, err := h.pool.CanUse(teamID)
	if err != nil {
		h.teamError(c, err)
		return
	}
	if !elig.Allowed {
		c.JSON(http.StatusForbidden, gin.H{"error": elig.Reason, "tokens_remaining": elig.TokensRemaining})
		return
	}

	if !h.admit(c, ratelimit.TeamSubject(teamID), elig.PlanID) {
		return
	}

	ownerID, res, err := h.pool.Deduct(teamID, body.Amount)
	if err != nil {
		h.teamError(c, err)
		return
	}
	if res.Success {
		h.notifier.AfterDeduct(c.Request.Context(), ownerID, res.Remaining)
	}
	c.JSON(http.StatusOK, res)
}

// admit runs the sliding-window check and writes the 429 response itself.
// Redis trouble fails open; blocking paying traffic on a degraded counter
// store would be worse than briefly over-admitting.
func (h *Handler) admit(c *gin.Context, subject, planID string) bool {
	res, err := h.limiter.Check(c.Request.Context(), subject, h.catalog.Get(planID))
	if err != nil {
		log.Println("rate limit check degraded:", err)
	}
	if res.Allowed {
		return true
	}

	c.Header("Retry-After", fmt.Sprint(res.RetryAfterSeconds))
	c.JSON(http.StatusTooManyRequests, gin.H{
		"error":               "Rate limit exceeded",
		"retry_after_seconds": res.RetryAfterSeconds,
		"reset_at":            res.ResetAt,
	})
	return false
}

// authorizeTeam rejects callers with no role on the team before anything
// touches the ledger.
func (h *Handler) authorizeTeam(c *gin.Context) (string, bool) {
	accountID := c.GetUint("account_id")
	if accountID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Account not identified"})
		return "", false
	}

	teamID := c.Param("id")
	if teamID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing team id"})
		return "", false
	}

	role, err := h.roles.ResolveRole(teamID, accountID)
	if err != nil {
		if errors.Is(err, teams.ErrTeamNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Team not found"})
			return "", false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to resolve team role"})
		return "", false
	}
	if role == "" {
		c.JSON(http.StatusForbidden, gin.H{"error": "You are not a member of this team"})
		return "", false
	}
	return teamID, true
}

func (h *Handler) teamError(c *gin.Context, err error) {
	if errors.Is(err, subscription.ErrTeamNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Team not found"})
		return
	}
	if errors.Is(err, ledger.ErrNoSubscription) {
		c.JSON(http.StatusNotFound, gin.H{"error": "No subscription backs this team"})
		return
	}
	if errors.Is(err, ledger.ErrInvalidAmount) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Amount must be positive"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Team operation failed"})
}
