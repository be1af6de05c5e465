package disputes

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/handoffmarket/handoff-backend/internal/audit"
	"github.com/handoffmarket/handoff-backend/internal/listings"
	"github.com/handoffmarket/handoff-backend/internal/notifications"
	"github.com/handoffmarket/handoff-backend/internal/pickups"
	"github.com/handoffmarket/handoff-backend/internal/refunds"
	"github.com/handoffmarket/handoff-backend/internal/transactions"
	"github.com/handoffmarket/handoff-backend/pkg/db/dbtest"
	"github.com/handoffmarket/handoff-backend/pkg/db/models"
	"github.com/handoffmarket/handoff-backend/pkg/enums"
	pkgerrors "github.com/handoffmarket/handoff-backend/pkg/errors"
	"github.com/handoffmarket/handoff-backend/pkg/logger"
	"github.com/handoffmarket/handoff-backend/pkg/outbox"
	"github.com/handoffmarket/handoff-backend/pkg/razorpay"
)

type stubGateway struct {
	mu       sync.Mutex
	err      error
	requests []razorpay.RefundRequest
	// inFlight runs while the refund is with the gateway.
	inFlight func()
}

func (g *stubGateway) Refund(_ context.Context, req razorpay.RefundRequest) (*razorpay.Refund, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if g.inFlight != nil {
		g.inFlight()
	}
	if g.err != nil {
		return nil, g.err
	}
	return &razorpay.Refund{ID: "rfnd_" + req.IdempotencyKey[:8], PaymentID: req.PaymentID, AmountPaise: req.AmountPaise}, nil
}

type fixture struct {
	conn    *gorm.DB
	svc     Service
	gateway *stubGateway
	audit   audit.Service
	buyer   *models.User
	seller  *models.User
	admin   *models.User
	txn     *models.Transaction
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	client := dbtest.Client(t)
	conn := client.DB()

	auditSvc, err := audit.NewService(audit.NewRepository(conn))
	require.NoError(t, err)
	emitter := outbox.NewService(outbox.NewRepository(conn), logger.Nop())
	notifier, err := notifications.NewService(emitter)
	require.NoError(t, err)

	txnRepo := transactions.NewRepository(conn)
	gateway := &stubGateway{}
	processor, err := refunds.NewProcessor(refunds.ProcessorParams{
		Tx:           client,
		Transactions: txnRepo,
		Listings:     listings.NewRepository(conn),
		Pickups:      pickups.NewRepository(conn),
		Refunds:      refunds.NewRepository(conn),
		Audit:        auditSvc,
		Outbox:       emitter,
		Notifier:     notifier,
		Gateway:      gateway,
	})
	require.NoError(t, err)

	svc, err := NewService(ServiceParams{
		Tx:           client,
		Disputes:     NewRepository(conn),
		Transactions: txnRepo,
		Refunder:     processor,
		Audit:        auditSvc,
		Outbox:       emitter,
		Notifier:     notifier,
	})
	require.NoError(t, err)

	buyer := dbtest.SeedUser(t, conn, true)
	seller := dbtest.SeedUser(t, conn, true)
	listing := dbtest.SeedListing(t, conn, seller.ID, 50000)
	return &fixture{
		conn:    conn,
		svc:     svc,
		gateway: gateway,
		audit:   auditSvc,
		buyer:   buyer,
		seller:  seller,
		admin:   dbtest.SeedAdmin(t, conn),
		txn:     dbtest.SeedTransaction(t, conn, buyer.ID, listing, enums.TransactionStatusPaid),
	}
}

func (f *fixture) open(t *testing.T) *models.Dispute {
	t.Helper()
	dispute, err := f.svc.Create(context.Background(), CreateInput{
		TransactionID: f.txn.ID,
		ReporterID:    f.buyer.ID,
		Reason:        "seller stopped responding",
	})
	require.NoError(t, err)
	return dispute
}

func (f *fixture) transaction(t *testing.T) models.Transaction {
	t.Helper()
	var txn models.Transaction
	require.NoError(t, f.conn.First(&txn, "id = ?", f.txn.ID).Error)
	return txn
}

func status(s enums.DisputeStatus) *enums.DisputeStatus { return &s }

func text(s string) *string { return &s }

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestCreateOpensDisputeForParticipant(t *testing.T) {
	f := newFixture(t)

	dispute := f.open(t)
	assert.Equal(t, enums.DisputeStatusOpen, dispute.Status)
	assert.Equal(t, enums.DisputePriorityMedium, dispute.Priority)
	assert.Equal(t, f.buyer.ID, dispute.ReporterID)

	ok, err := f.audit.HasEvent(context.Background(), f.txn.ID, enums.AuditEventDisputeOpened)
	require.NoError(t, err)
	assert.True(t, ok)

	var events int64
	require.NoError(t, f.conn.Model(&models.OutboxEvent{}).Where("event_type = ?", enums.EventDisputeOpened).Count(&events).Error)
	assert.Equal(t, int64(1), events)
}

func TestCreateRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, CreateInput{TransactionID: f.txn.ID, ReporterID: uuid.New(), Reason: "not mine"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	_, err = f.svc.Create(ctx, CreateInput{TransactionID: f.txn.ID, ReporterID: f.buyer.ID, Reason: "  "})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = f.svc.Create(ctx, CreateInput{TransactionID: f.txn.ID, ReporterID: f.buyer.ID, Reason: "x", Priority: "urgent"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = f.svc.Create(ctx, CreateInput{TransactionID: uuid.New(), ReporterID: f.buyer.ID, Reason: "x"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	f.open(t)
	_, err = f.svc.Create(ctx, CreateInput{TransactionID: f.txn.ID, ReporterID: f.seller.ID, Reason: "buyer never came"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
}

func TestCreateAllowedAgainAfterResolution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.open(t)

	_, err := f.svc.Update(ctx, UpdateInput{
		DisputeID:  first.ID,
		AdminID:    f.admin.ID,
		AdminRole:  enums.UserRoleAdmin,
		Status:     status(enums.DisputeStatusRejected),
		Resolution: text("no evidence"),
	})
	require.NoError(t, err)

	second, err := f.svc.Create(ctx, CreateInput{TransactionID: f.txn.ID, ReporterID: f.seller.ID, Reason: "buyer never came", Priority: enums.DisputePriorityHigh})
	require.NoError(t, err)
	assert.Equal(t, enums.DisputePriorityHigh, second.Priority)

	rows, err := f.svc.ListByTransaction(ctx, ListInput{TransactionID: f.txn.ID, ActorID: f.admin.ID, ActorRole: enums.UserRoleAdmin})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestResolveWithHalfRefund(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dispute := f.open(t)

	reviewed, err := f.svc.Update(ctx, UpdateInput{
		DisputeID: dispute.ID,
		AdminID:   f.admin.ID,
		AdminRole: enums.UserRoleAdmin,
		Status:    status(enums.DisputeStatusInReview),
	})
	require.NoError(t, err)
	assert.Equal(t, enums.DisputeStatusInReview, reviewed.Status)

	resolved, err := f.svc.Update(ctx, UpdateInput{
		DisputeID:  dispute.ID,
		AdminID:    f.admin.ID,
		AdminRole:  enums.UserRoleAdmin,
		Status:     status(enums.DisputeStatusResolved),
		Resolution: text("item damaged in transit"),
		Refund:     &RefundDirective{Percentage: dec("50")},
	})
	require.NoError(t, err)
	assert.Equal(t, enums.DisputeStatusResolved, resolved.Status)
	require.NotNil(t, resolved.RefundID)
	require.NotNil(t, resolved.ResolvedBy)
	assert.Equal(t, f.admin.ID, *resolved.ResolvedBy)
	assert.NotNil(t, resolved.ResolvedAt)

	txn := f.transaction(t)
	assert.Equal(t, enums.TransactionStatusRefunded, txn.Status)
	assert.Equal(t, int64(25000), txn.RefundedPaise)

	require.Len(t, f.gateway.requests, 1)
	assert.Equal(t, int64(25000), f.gateway.requests[0].AmountPaise)

	var refund models.Refund
	require.NoError(t, f.conn.First(&refund, "id = ?", *resolved.RefundID).Error)
	require.NotNil(t, refund.DisputeID)
	assert.Equal(t, dispute.ID, *refund.DisputeID)

	_, err = f.svc.Update(ctx, UpdateInput{
		DisputeID:  dispute.ID,
		AdminID:    f.admin.ID,
		AdminRole:  enums.UserRoleAdmin,
		Status:     status(enums.DisputeStatusResolved),
		Resolution: text("again"),
		Refund:     &RefundDirective{},
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
	assert.Contains(t, pkgerrors.As(err).Message(), "already resolved")
	assert.Len(t, f.gateway.requests, 1)

	events, err := f.audit.List(ctx, f.txn.ID)
	require.NoError(t, err)
	counts := audit.CountByType(events)
	assert.Equal(t, 1, counts[enums.AuditEventDisputeOpened])
	assert.Equal(t, 1, counts[enums.AuditEventDisputeUpdated])
	assert.Equal(t, 1, counts[enums.AuditEventDisputeResolved])
	assert.Equal(t, 1, counts[enums.AuditEventRefundIssued])
}

func TestResolveRefundsAfterConfirmedPickup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.conn.Create(&models.Pickup{
		ID:            uuid.New(),
		TransactionID: f.txn.ID,
		PickupCode:    "482193",
		Status:        enums.PickupStatusConfirmed,
	}).Error)
	dispute := f.open(t)

	_, err := f.svc.Update(ctx, UpdateInput{
		DisputeID:  dispute.ID,
		AdminID:    f.admin.ID,
		AdminRole:  enums.UserRoleAdmin,
		Status:     status(enums.DisputeStatusResolved),
		Resolution: text("counterfeit item"),
		Refund:     &RefundDirective{},
	})
	require.NoError(t, err)
	assert.Equal(t, enums.TransactionStatusRefunded, f.transaction(t).Status)
}

func TestRejectNeverRefunds(t *testing.T) {
	f := newFixture(t)
	dispute := f.open(t)

	rejected, err := f.svc.Update(context.Background(), UpdateInput{
		DisputeID:  dispute.ID,
		AdminID:    f.admin.ID,
		AdminRole:  enums.UserRoleAdmin,
		Status:     status(enums.DisputeStatusRejected),
		Resolution: text("handover confirmed on camera"),
	})
	require.NoError(t, err)
	assert.Equal(t, enums.DisputeStatusRejected, rejected.Status)
	assert.Nil(t, rejected.RefundID)
	assert.Empty(t, f.gateway.requests)
	assert.Equal(t, enums.TransactionStatusPaid, f.transaction(t).Status)

	ok, err := f.audit.HasEvent(context.Background(), f.txn.ID, enums.AuditEventDisputeRejected)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRefundFailureLeavesDisputeOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dispute := f.open(t)
	f.gateway.err = &razorpay.StatusError{StatusCode: 400, Code: "BAD_REQUEST_ERROR", Description: "payment already refunded"}

	_, err := f.svc.Update(ctx, UpdateInput{
		DisputeID:  dispute.ID,
		AdminID:    f.admin.ID,
		AdminRole:  enums.UserRoleAdmin,
		Status:     status(enums.DisputeStatusResolved),
		Resolution: text("refund owed"),
		Refund:     &RefundDirective{},
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeGateway))

	current, err := f.svc.Get(ctx, GetInput{DisputeID: dispute.ID, ActorID: f.buyer.ID})
	require.NoError(t, err)
	assert.Equal(t, enums.DisputeStatusOpen, current.Status)
	assert.Nil(t, current.RefundClaimedAt)
	assert.Equal(t, enums.TransactionStatusPaid, f.transaction(t).Status)

	rejected, err := f.svc.Update(ctx, UpdateInput{
		DisputeID:  dispute.ID,
		AdminID:    f.admin.ID,
		AdminRole:  enums.UserRoleAdmin,
		Status:     status(enums.DisputeStatusRejected),
		Resolution: text("no refund possible"),
	})
	require.NoError(t, err)
	assert.Equal(t, enums.DisputeStatusRejected, rejected.Status)
}

func TestUnknownRefundOutcomeKeepsDisputeClaimed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dispute := f.open(t)
	f.gateway.err = errors.New("read: connection reset by peer")

	_, err := f.svc.Update(ctx, UpdateInput{
		DisputeID:  dispute.ID,
		AdminID:    f.admin.ID,
		AdminRole:  enums.UserRoleAdmin,
		Status:     status(enums.DisputeStatusResolved),
		Resolution: text("refund owed"),
		Refund:     &RefundDirective{},
	})
	assert.True(t, refunds.IsOutcomeUnknown(err), "got %v", err)

	_, err = f.svc.Update(ctx, UpdateInput{
		DisputeID:  dispute.ID,
		AdminID:    f.admin.ID,
		AdminRole:  enums.UserRoleAdmin,
		Status:     status(enums.DisputeStatusRejected),
		Resolution: text("changed my mind"),
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict), "got %v", err)

	var stored models.Dispute
	require.NoError(t, f.conn.First(&stored, "id = ?", dispute.ID).Error)
	assert.Equal(t, enums.DisputeStatusOpen, stored.Status)
	assert.NotNil(t, stored.RefundClaimedAt)
}

func TestRejectRacingRefundIsRefused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dispute := f.open(t)

	var rejectErr error
	f.gateway.inFlight = func() {
		_, rejectErr = f.svc.Update(ctx, UpdateInput{
			DisputeID:  dispute.ID,
			AdminID:    f.admin.ID,
			AdminRole:  enums.UserRoleAdmin,
			Status:     status(enums.DisputeStatusRejected),
			Resolution: text("buyer withdrew"),
		})
	}

	resolved, err := f.svc.Update(ctx, UpdateInput{
		DisputeID:  dispute.ID,
		AdminID:    f.admin.ID,
		AdminRole:  enums.UserRoleAdmin,
		Status:     status(enums.DisputeStatusResolved),
		Resolution: text("refund owed"),
		Refund:     &RefundDirective{},
	})
	require.NoError(t, err)
	assert.True(t, pkgerrors.IsCode(rejectErr, pkgerrors.CodeConflict), "got %v", rejectErr)

	assert.Equal(t, enums.DisputeStatusResolved, resolved.Status)
	require.NotNil(t, resolved.RefundID)
	assert.Nil(t, resolved.RefundClaimedAt)

	var stored models.Dispute
	require.NoError(t, f.conn.First(&stored, "id = ?", dispute.ID).Error)
	assert.Equal(t, enums.DisputeStatusResolved, stored.Status)
	assert.Nil(t, stored.RefundClaimedAt)
	rejectedAudit, err := f.audit.HasEvent(ctx, f.txn.ID, enums.AuditEventDisputeRejected)
	require.NoError(t, err)
	assert.False(t, rejectedAudit)
}

func TestUpdateGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dispute := f.open(t)

	cases := []struct {
		name  string
		input UpdateInput
		code  pkgerrors.Code
	}{
		{
			name:  "non admin",
			input: UpdateInput{DisputeID: dispute.ID, AdminID: f.buyer.ID, AdminRole: enums.UserRoleMember, Status: status(enums.DisputeStatusResolved)},
			code:  pkgerrors.CodeForbidden,
		},
		{
			name:  "empty update",
			input: UpdateInput{DisputeID: dispute.ID, AdminID: f.admin.ID, AdminRole: enums.UserRoleAdmin},
			code:  pkgerrors.CodeValidation,
		},
		{
			name:  "refund without resolve",
			input: UpdateInput{DisputeID: dispute.ID, AdminID: f.admin.ID, AdminRole: enums.UserRoleAdmin, Status: status(enums.DisputeStatusRejected), Resolution: text("no"), Refund: &RefundDirective{}},
			code:  pkgerrors.CodeValidation,
		},
		{
			name:  "close without resolution",
			input: UpdateInput{DisputeID: dispute.ID, AdminID: f.admin.ID, AdminRole: enums.UserRoleAdmin, Status: status(enums.DisputeStatusResolved)},
			code:  pkgerrors.CodeValidation,
		},
		{
			name:  "unknown status",
			input: UpdateInput{DisputeID: dispute.ID, AdminID: f.admin.ID, AdminRole: enums.UserRoleAdmin, Status: status("CLOSED")},
			code:  pkgerrors.CodeValidation,
		},
		{
			name:  "missing dispute",
			input: UpdateInput{DisputeID: uuid.New(), AdminID: f.admin.ID, AdminRole: enums.UserRoleAdmin, Status: status(enums.DisputeStatusInReview)},
			code:  pkgerrors.CodeNotFound,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Update(ctx, tc.input)
			require.Error(t, err)
			assert.True(t, pkgerrors.IsCode(err, tc.code), "got %v", err)
		})
	}
}

func TestInReviewCannotReturnToOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dispute := f.open(t)

	_, err := f.svc.Update(ctx, UpdateInput{DisputeID: dispute.ID, AdminID: f.admin.ID, AdminRole: enums.UserRoleAdmin, Status: status(enums.DisputeStatusInReview)})
	require.NoError(t, err)

	_, err = f.svc.Update(ctx, UpdateInput{DisputeID: dispute.ID, AdminID: f.admin.ID, AdminRole: enums.UserRoleAdmin, Status: status(enums.DisputeStatusOpen)})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

func TestPriorityOnlyUpdate(t *testing.T) {
	f := newFixture(t)
	dispute := f.open(t)
	high := enums.DisputePriorityHigh

	updated, err := f.svc.Update(context.Background(), UpdateInput{DisputeID: dispute.ID, AdminID: f.admin.ID, AdminRole: enums.UserRoleAdmin, Priority: &high})
	require.NoError(t, err)
	assert.Equal(t, enums.DisputePriorityHigh, updated.Priority)
	assert.Equal(t, enums.DisputeStatusOpen, updated.Status)
}

func TestGetRestrictedToParticipantsAndAdmins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dispute := f.open(t)

	for _, viewer := range []struct {
		id   uuid.UUID
		role enums.UserRole
	}{
		{f.buyer.ID, enums.UserRoleMember},
		{f.seller.ID, enums.UserRoleMember},
		{f.admin.ID, enums.UserRoleAdmin},
	} {
		got, err := f.svc.Get(ctx, GetInput{DisputeID: dispute.ID, ActorID: viewer.id, ActorRole: viewer.role})
		require.NoError(t, err)
		assert.Equal(t, dispute.ID, got.ID)
	}

	_, err := f.svc.Get(ctx, GetInput{DisputeID: dispute.ID, ActorID: uuid.New(), ActorRole: enums.UserRoleMember})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	_, err = f.svc.ListByTransaction(ctx, ListInput{TransactionID: f.txn.ID, ActorID: uuid.New(), ActorRole: enums.UserRoleMember})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	_, err = f.svc.Get(ctx, GetInput{DisputeID: uuid.New(), ActorID: f.buyer.ID})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}
