package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/handoffmarket/handoff-backend/internal/settlement"
	razorpaywebhook "github.com/handoffmarket/handoff-backend/internal/webhooks/razorpay"
	pkgerrors "github.com/handoffmarket/handoff-backend/pkg/errors"
)

type fakeWebhookService struct {
	result   *settlement.Result
	err      error
	received razorpaywebhook.Delivery
	calls    int
}

func (f *fakeWebhookService) Handle(_ context.Context, delivery razorpaywebhook.Delivery) (*settlement.Result, error) {
	f.calls++
	f.received = delivery
	return f.result, f.err
}

func postWebhook(t *testing.T, svc RazorpayWebhookService, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/razorpay", bytes.NewBufferString(body))
	req.Header.Set("X-Razorpay-Signature", "sig")
	req.Header.Set("X-Razorpay-Event-Id", "evt_1")
	rec := httptest.NewRecorder()
	RazorpayWebhook(svc, nil).ServeHTTP(rec, req)
	return rec
}

func TestRazorpayWebhookPassesRawBodyAndHeaders(t *testing.T) {
	svc := &fakeWebhookService{result: &settlement.Result{Outcome: settlement.OutcomeSettled}}
	body := `{"event":"payment.captured", "payload":{}}`

	rec := postWebhook(t, svc, body)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, body, string(svc.received.Body))
	require.Equal(t, "sig", svc.received.Signature)
	require.Equal(t, "evt_1", svc.received.EventID)

	var envelope struct {
		Data webhookAck `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.Equal(t, settlement.OutcomeSettled, envelope.Data.Outcome)
}

func TestRazorpayWebhookRejectsBadSignature(t *testing.T) {
	svc := &fakeWebhookService{err: pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid webhook signature")}
	rec := postWebhook(t, svc, `{}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRazorpayWebhookRejectsMalformedPayload(t *testing.T) {
	svc := &fakeWebhookService{err: pkgerrors.New(pkgerrors.CodeValidation, "malformed webhook payload")}
	rec := postWebhook(t, svc, `not json`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRazorpayWebhookAcknowledgesInternalFailures(t *testing.T) {
	svc := &fakeWebhookService{err: errors.New("db down")}
	rec := postWebhook(t, svc, `{}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, svc.calls)
}
