package razorpaywebhook

import (
	"encoding/json"
	"strings"

	"github.com/handoffmarket/handoff-backend/internal/settlement"
	pkgerrors "github.com/handoffmarket/handoff-backend/pkg/errors"
)

type envelope struct {
	Entity    string   `json:"entity"`
	AccountID string   `json:"account_id"`
	Event     string   `json:"event"`
	Contains  []string `json:"contains"`
	Payload   struct {
		Payment *struct {
			Entity paymentEntity `json:"entity"`
		} `json:"payment"`
		Order *struct {
			Entity orderEntity `json:"entity"`
		} `json:"order"`
	} `json:"payload"`
	CreatedAt int64 `json:"created_at"`
}

type paymentEntity struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	Status           string `json:"status"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	ErrorCode        string `json:"error_code"`
	ErrorReason      string `json:"error_reason"`
	ErrorDescription string `json:"error_description"`
}

type orderEntity struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount int64  `json:"amount"`
}

// ParseEvent decodes a verified delivery body. Payment events must carry the
// order and payment ids; other event names pass through untouched.
func ParseEvent(eventID string, body []byte) (settlement.GatewayEvent, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return settlement.GatewayEvent{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed webhook payload")
	}
	name := strings.TrimSpace(env.Event)
	if name == "" {
		return settlement.GatewayEvent{}, pkgerrors.New(pkgerrors.CodeValidation, "webhook event name missing")
	}

	event := settlement.GatewayEvent{ID: eventID, Event: name}
	if p := env.Payload.Payment; p != nil {
		event.PaymentID = p.Entity.ID
		event.OrderID = p.Entity.OrderID
		event.ErrorReason = firstNonEmpty(p.Entity.ErrorReason, p.Entity.ErrorDescription, p.Entity.ErrorCode)
	}
	if o := env.Payload.Order; o != nil && o.Entity.ID != "" {
		event.OrderID = o.Entity.ID
	}

	switch name {
	case settlement.EventPaymentCaptured, settlement.EventOrderPaid, settlement.EventPaymentFailed:
		if event.OrderID == "" || event.PaymentID == "" {
			return settlement.GatewayEvent{}, pkgerrors.New(pkgerrors.CodeValidation, "webhook payload missing order or payment id")
		}
	}
	return event, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
