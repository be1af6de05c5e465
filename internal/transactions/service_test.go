package transactions_test

import (
	"context"
	"errors"
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
	"github.com/handoffmarket/handoff-backend/internal/users"
	"github.com/handoffmarket/handoff-backend/pkg/db/dbtest"
	"github.com/handoffmarket/handoff-backend/pkg/db/models"
	"github.com/handoffmarket/handoff-backend/pkg/enums"
	pkgerrors "github.com/handoffmarket/handoff-backend/pkg/errors"
	"github.com/handoffmarket/handoff-backend/pkg/logger"
	"github.com/handoffmarket/handoff-backend/pkg/outbox"
	"github.com/handoffmarket/handoff-backend/pkg/razorpay"
)

type stubGateway struct {
	orderErr  error
	orders    []razorpay.CreateOrderRequest
	refunds   []razorpay.RefundRequest
	refundErr error
}

func (g *stubGateway) CreateOrder(_ context.Context, req razorpay.CreateOrderRequest) (*razorpay.Order, error) {
	g.orders = append(g.orders, req)
	if g.orderErr != nil {
		return nil, g.orderErr
	}
	return &razorpay.Order{ID: "order_" + req.Receipt[:8], AmountPaise: req.AmountPaise, Currency: "INR", Receipt: req.Receipt, Status: "created"}, nil
}

func (g *stubGateway) KeyID() string { return "rzp_test_key" }

func (g *stubGateway) Refund(_ context.Context, req razorpay.RefundRequest) (*razorpay.Refund, error) {
	g.refunds = append(g.refunds, req)
	if g.refundErr != nil {
		return nil, g.refundErr
	}
	return &razorpay.Refund{ID: "rfnd_1", PaymentID: req.PaymentID, AmountPaise: req.AmountPaise}, nil
}

type fixture struct {
	conn    *gorm.DB
	svc     transactions.Service
	gateway *stubGateway
	audit   audit.Service
	buyer   *models.User
	seller  *models.User
	listing *models.Listing
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
	eligibility, err := users.NewEligibilityChecker(users.NewRepository(conn))
	require.NoError(t, err)

	gateway := &stubGateway{}
	txnRepo := transactions.NewRepository(conn)
	listingRepo := listings.NewRepository(conn)
	pickupRepo := pickups.NewRepository(conn)
	refundRepo := refunds.NewRepository(conn)

	processor, err := refunds.NewProcessor(refunds.ProcessorParams{
		Tx:           client,
		Transactions: txnRepo,
		Listings:     listingRepo,
		Pickups:      pickupRepo,
		Refunds:      refundRepo,
		Audit:        auditSvc,
		Outbox:       emitter,
		Notifier:     notifier,
		Gateway:      gateway,
	})
	require.NoError(t, err)

	svc, err := transactions.NewService(transactions.ServiceParams{
		Tx:           client,
		Transactions: txnRepo,
		Listings:     listingRepo,
		Pickups:      pickupRepo,
		Refunds:      refundRepo,
		Eligibility:  eligibility,
		Gateway:      gateway,
		Refunder:     processor,
		Audit:        auditSvc,
		Outbox:       emitter,
		Notifier:     notifier,
	})
	require.NoError(t, err)

	seller := dbtest.SeedUser(t, conn, true)
	return &fixture{
		conn:    conn,
		svc:     svc,
		gateway: gateway,
		audit:   auditSvc,
		buyer:   dbtest.SeedUser(t, conn, true),
		seller:  seller,
		listing: dbtest.SeedListing(t, conn, seller.ID, 150000),
	}
}

func (f *fixture) listingState(t *testing.T) models.Listing {
	t.Helper()
	var listing models.Listing
	require.NoError(t, f.conn.First(&listing, "id = ?", f.listing.ID).Error)
	return listing
}

func TestInitiateCreatesOrderAndTransaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Initiate(ctx, transactions.InitiateInput{
		BuyerID:   f.buyer.ID,
		SellerID:  f.seller.ID,
		ListingID: f.listing.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(150000), res.Order.AmountPaise)
	assert.Equal(t, "INR", res.Order.Currency)
	assert.Equal(t, "rzp_test_key", res.Order.KeyID)

	require.Len(t, f.gateway.orders, 1)
	assert.Equal(t, res.TransactionID.String(), f.gateway.orders[0].Receipt)

	var txn models.Transaction
	require.NoError(t, f.conn.First(&txn, "id = ?", res.TransactionID).Error)
	assert.Equal(t, enums.TransactionStatusInitiated, txn.Status)
	assert.Equal(t, res.Order.ID, txn.ExternalOrderID)
	assert.True(t, f.listingState(t).IsActive, "listing stays on sale until payment settles")

	var events int64
	require.NoError(t, f.conn.Model(&models.OutboxEvent{}).Where("event_type = ?", enums.EventTransactionInitiated).Count(&events).Error)
	assert.Equal(t, int64(1), events)
}

func TestInitiateAmountOverride(t *testing.T) {
	f := newFixture(t)
	amount := decimal.RequireFromString("1200.50")

	res, err := f.svc.Initiate(context.Background(), transactions.InitiateInput{
		BuyerID:   f.buyer.ID,
		SellerID:  f.seller.ID,
		ListingID: f.listing.ID,
		Amount:    &amount,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(120050), res.Order.AmountPaise)

	for _, raw := range []string{"10.001", "184467440737095516.16"} {
		bad := decimal.RequireFromString(raw)
		_, err = f.svc.Initiate(context.Background(), transactions.InitiateInput{
			BuyerID:   f.buyer.ID,
			SellerID:  f.seller.ID,
			ListingID: f.listing.ID,
			Amount:    &bad,
		})
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "%s: got %v", raw, err)
	}
	assert.Len(t, f.gateway.orders, 1)
}

func TestInitiateRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Initiate(ctx, transactions.InitiateInput{BuyerID: f.seller.ID, SellerID: f.seller.ID, ListingID: f.listing.ID})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "self purchase: %v", err)

	unverified := dbtest.SeedUser(t, f.conn, false)
	_, err = f.svc.Initiate(ctx, transactions.InitiateInput{BuyerID: unverified.ID, SellerID: f.seller.ID, ListingID: f.listing.ID})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden), "unverified: %v", err)

	_, err = f.svc.Initiate(ctx, transactions.InitiateInput{BuyerID: f.buyer.ID, SellerID: f.seller.ID, ListingID: uuid.New()})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound), "missing listing: %v", err)

	other := dbtest.SeedUser(t, f.conn, true)
	_, err = f.svc.Initiate(ctx, transactions.InitiateInput{BuyerID: f.buyer.ID, SellerID: other.ID, ListingID: f.listing.ID})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "wrong seller: %v", err)

	require.NoError(t, f.conn.Model(&models.Listing{}).Where("id = ?", f.listing.ID).Update("is_active", false).Error)
	_, err = f.svc.Initiate(ctx, transactions.InitiateInput{BuyerID: f.buyer.ID, SellerID: f.seller.ID, ListingID: f.listing.ID})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict), "inactive listing: %v", err)

	assert.Empty(t, f.gateway.orders)
}

func TestInitiateGatewayFailurePersistsNothing(t *testing.T) {
	f := newFixture(t)
	f.gateway.orderErr = errors.New("connection reset")

	_, err := f.svc.Initiate(context.Background(), transactions.InitiateInput{BuyerID: f.buyer.ID, SellerID: f.seller.ID, ListingID: f.listing.ID})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeGateway), "got %v", err)
	assert.True(t, pkgerrors.MetadataFor(pkgerrors.CodeGateway).Retryable)

	var count int64
	require.NoError(t, f.conn.Model(&models.Transaction{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestCancelInitiatedReactivatesWithoutRefund(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	txn := dbtest.SeedTransaction(t, f.conn, f.buyer.ID, f.listing, enums.TransactionStatusInitiated)

	view, err := f.svc.Cancel(ctx, transactions.CancelInput{TransactionID: txn.ID, ActorID: f.buyer.ID, ActorRole: enums.UserRoleMember})
	require.NoError(t, err)
	assert.Equal(t, enums.TransactionStatusCancelled, view.Status)
	assert.NotNil(t, view.CancelledAt)
	assert.Empty(t, f.gateway.refunds)
	assert.True(t, f.listingState(t).IsActive)

	_, err = f.svc.Cancel(ctx, transactions.CancelInput{TransactionID: txn.ID, ActorID: f.buyer.ID, ActorRole: enums.UserRoleMember})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict), "got %v", err)
}

func TestCancelPaidRefundsAndReactivates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	txn := dbtest.SeedTransaction(t, f.conn, f.buyer.ID, f.listing, enums.TransactionStatusPaid)
	require.False(t, f.listingState(t).IsActive)

	view, err := f.svc.Cancel(ctx, transactions.CancelInput{TransactionID: txn.ID, ActorID: f.seller.ID, ActorRole: enums.UserRoleMember, Reason: "item broke"})
	require.NoError(t, err)
	assert.Equal(t, enums.TransactionStatusRefunded, view.Status)
	assert.Equal(t, int64(150000), view.RefundedPaise)
	require.Len(t, f.gateway.refunds, 1)
	assert.Equal(t, int64(150000), f.gateway.refunds[0].AmountPaise)
	assert.True(t, f.listingState(t).IsActive)

	detail, err := f.svc.Get(ctx, transactions.GetInput{TransactionID: txn.ID, ActorID: f.buyer.ID, ActorRole: enums.UserRoleMember})
	require.NoError(t, err)
	require.Len(t, detail.Refunds, 1)
	assert.Equal(t, enums.RefundStatusSucceeded, detail.Refunds[0].Status)
	assert.Equal(t, "item broke", detail.Refunds[0].Reason)
}

func TestCancelGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	txn := dbtest.SeedTransaction(t, f.conn, f.buyer.ID, f.listing, enums.TransactionStatusPaid)

	_, err := f.svc.Cancel(ctx, transactions.CancelInput{TransactionID: txn.ID, ActorID: uuid.New(), ActorRole: enums.UserRoleMember})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden), "stranger: %v", err)

	require.NoError(t, f.conn.Create(&models.Pickup{
		ID:            uuid.New(),
		TransactionID: txn.ID,
		PickupCode:    "482193",
		Status:        enums.PickupStatusConfirmed,
	}).Error)
	admin := dbtest.SeedAdmin(t, f.conn)
	_, err = f.svc.Cancel(ctx, transactions.CancelInput{TransactionID: txn.ID, ActorID: admin.ID, ActorRole: enums.UserRoleAdmin})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict), "confirmed pickup: %v", err)
	assert.Empty(t, f.gateway.refunds)
}

func TestCancelPaidRefundFailureStaysPaid(t *testing.T) {
	f := newFixture(t)
	f.gateway.refundErr = errors.New("gateway down")
	txn := dbtest.SeedTransaction(t, f.conn, f.buyer.ID, f.listing, enums.TransactionStatusPaid)

	_, err := f.svc.Cancel(context.Background(), transactions.CancelInput{TransactionID: txn.ID, ActorID: f.buyer.ID, ActorRole: enums.UserRoleMember})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeGateway), "got %v", err)

	var got models.Transaction
	require.NoError(t, f.conn.First(&got, "id = ?", txn.ID).Error)
	assert.Equal(t, enums.TransactionStatusPaid, got.Status)
	assert.False(t, f.listingState(t).IsActive)
}

func TestGetHidesPickupCodeFromSeller(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	txn := dbtest.SeedTransaction(t, f.conn, f.buyer.ID, f.listing, enums.TransactionStatusPaid)
	require.NoError(t, f.conn.Create(&models.Pickup{
		ID:            uuid.New(),
		TransactionID: txn.ID,
		PickupCode:    "904512",
		Status:        enums.PickupStatusGenerated,
	}).Error)

	buyerView, err := f.svc.Get(ctx, transactions.GetInput{TransactionID: txn.ID, ActorID: f.buyer.ID, ActorRole: enums.UserRoleMember})
	require.NoError(t, err)
	require.NotNil(t, buyerView.Pickup)
	assert.Equal(t, "904512", buyerView.Pickup.PickupCode)
	assert.Empty(t, buyerView.Refunds)

	sellerView, err := f.svc.Get(ctx, transactions.GetInput{TransactionID: txn.ID, ActorID: f.seller.ID, ActorRole: enums.UserRoleMember})
	require.NoError(t, err)
	require.NotNil(t, sellerView.Pickup)
	assert.Empty(t, sellerView.Pickup.PickupCode)

	_, err = f.svc.Get(ctx, transactions.GetInput{TransactionID: txn.ID, ActorID: uuid.New(), ActorRole: enums.UserRoleMember})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden), "got %v", err)

	_, err = f.svc.Get(ctx, transactions.GetInput{TransactionID: uuid.New(), ActorID: f.buyer.ID})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound), "got %v", err)
}
