package stripewebhook

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"

	"iconforge/internal/domain/billing"
	"iconforge/internal/domain/plans"
	"iconforge/internal/infra/email"
	"iconforge/internal/ledger"
	"iconforge/internal/subscription"
	"iconforge/internal/workers/dunning"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v75"
	"github.com/stripe/stripe-go/v75/webhook"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const maxBodyBytes = 65536

// Handler receives asynchronous events from the payment processor, verifies
// their signature, and drives subscription and ledger transitions. Handlers
// are idempotent and tolerate out-of-order delivery: status transitions are
// last-write-wins, token transitions are guarded independently.
type Handler struct {
	db            *gorm.DB
	lifecycle     *subscription.Service
	tokens        *ledger.Ledger
	catalog       *plans.Catalog
	sender        email.Sender
	dunning       *dunning.Scheduler
	signingSecret string
}

func NewHandler(db *gorm.DB, lifecycle *subscription.Service, tokens *ledger.Ledger,
	catalog *plans.Catalog, sender email.Sender, dun *dunning.Scheduler, signingSecret string) *Handler {
	return &Handler{
		db:            db,
		lifecycle:     lifecycle,
		tokens:        tokens,
		catalog:       catalog,
		sender:        sender,
		dunning:       dun,
		signingSecret: signingSecret,
	}
}

// Handle is the single webhook endpoint. 200 acknowledges the event
// (including unhandled kinds), 401 rejects a bad signature, 500 asks the
// processor to redeliver after a handler failure.
func (h *Handler) Handle(c *gin.Context) {
	payload, err := readBody(c, maxBodyBytes)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Error reading request body"})
		return
	}

	event, err := webhook.ConstructEventWithOptions(
		payload,
		c.GetHeader("Stripe-Signature"),
		h.signingSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true},
	)
	if err != nil {
		log.Println("stripe signature verification failed:", err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Signature verification failed"})
		return
	}

	// Record the event id before acting. Redelivery of an id we already
	// processed is acknowledged without side effects.
	mark := h.db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&billing.ProcessedEvent{EventID: event.ID})
	if mark.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Event store unavailable"})
		return
	}
	if mark.RowsAffected == 0 {
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	if err := h.dispatch(&event); err != nil {
		// Drop the dedup record so the processor's redelivery gets a clean
		// retry instead of a no-op acknowledgment.
		h.db.Delete(&billing.ProcessedEvent{EventID: event.ID})
		log.Printf("webhook handler for %s failed: %v", event.Type, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

func (h *Handler) dispatch(event *stripe.Event) error {
	switch event.Type {
	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return err
		}
		return h.handleCheckoutCompleted(&session)

	case "invoice.payment_succeeded":
		var invoice stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return err
		}
		return h.handlePaymentSucceeded(&invoice)

	case "invoice.payment_failed":
		var invoice stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return err
		}
		return h.handlePaymentFailed(&invoice)

	case "customer.subscription.updated":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return err
		}
		return h.handleSubscriptionUpdated(&sub)

	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return err
		}
		return h.handleSubscriptionDeleted(&sub)

	default:
		// Acknowledge unknown events to avoid retries.
		return nil
	}
}

func readBody(c *gin.Context, maxBytes int64) ([]byte, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
	return io.ReadAll(c.Request.Body)
}

func accountIDFromMetadata(md map[string]string) uint {
	if md == nil {
		return 0
	}
	s := md["account_id"]
	if s == "" {
		return 0
	}
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return uint(id)
}
