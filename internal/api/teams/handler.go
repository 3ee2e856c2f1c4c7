package teams

import (
	"net/http"

	teamsdomain "iconforge/internal/domain/teams"
	"iconforge/internal/subscription"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Handler manages team records. A team is only a pointer at its owner's
// subscription; creating one requires a plan with team seats.
type Handler struct {
	db        *gorm.DB
	lifecycle *subscription.Service
}

func NewHandler(db *gorm.DB, lifecycle *subscription.Service) *Handler {
	return &Handler{db: db, lifecycle: lifecycle}
}

// Create registers a team owned by the caller.
func (h *Handler) Create(c *gin.Context) {
	accountID := c.GetUint("account_id")
	if accountID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Account not identified"})
		return
	}

	var body struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing or invalid name"})
		return
	}

	elig, err := h.lifecycle.CanUse(accountID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check eligibility"})
		return
	}
	if elig.PlanID != "team" && elig.PlanID != "enterprise" {
		c.JSON(http.StatusForbidden, gin.H{"error": "Your plan does not include team seats"})
		return
	}

	team := teamsdomain.Team{
		ID:             uuid.NewString(),
		Name:           body.Name,
		OwnerAccountID: accountID,
	}
	if err := h.db.Create(&team).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create team"})
		return
	}

	c.JSON(http.StatusCreated, team)
}
