package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/pedifacil/billing/internal/accessblock"
	"github.com/pedifacil/billing/internal/clock"
	"github.com/pedifacil/billing/internal/config"
	creditdomain "github.com/pedifacil/billing/internal/credit/domain"
	creditservice "github.com/pedifacil/billing/internal/credit/service"
	feedomain "github.com/pedifacil/billing/internal/fee/domain"
	feeservice "github.com/pedifacil/billing/internal/fee/service"
	invoicedomain "github.com/pedifacil/billing/internal/invoice/domain"
	invoiceservice "github.com/pedifacil/billing/internal/invoice/service"
	partnerdomain "github.com/pedifacil/billing/internal/partner/domain"
	partnerservice "github.com/pedifacil/billing/internal/partner/service"
	paymentdomain "github.com/pedifacil/billing/internal/payment/domain"
	"github.com/pedifacil/billing/internal/payment/mercadopago"
	paymentservice "github.com/pedifacil/billing/internal/payment/service"
	plandomain "github.com/pedifacil/billing/internal/plan/domain"
	planservice "github.com/pedifacil/billing/internal/plan/service"
	"github.com/pedifacil/billing/internal/scheduler"
	"github.com/pedifacil/billing/internal/server"
	subscriptiondomain "github.com/pedifacil/billing/internal/subscription/domain"
	subscriptionservice "github.com/pedifacil/billing/internal/subscription/service"
	"github.com/pedifacil/billing/pkg/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

// testEnv is the whole billing stack over one in-memory database: the
// HTTP surface, the scheduler jobs, and the stubbed gateway.
type testEnv struct {
	httpSrv *httptest.Server
	db      *gorm.DB
	clock   *clock.FakeClock
	gateway *mercadopago.Stub
	sched   *scheduler.Scheduler
	node    *snowflake.Node
}

var e2eEpoch = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

// stripForUpdate removes locking clauses sqlite does not understand.
func stripForUpdate(db *gorm.DB) {
	rewrite := func(d *gorm.DB) {
		sql := d.Statement.SQL.String()
		if strings.Contains(sql, "FOR UPDATE") {
			newSQL := strings.ReplaceAll(sql, "FOR UPDATE SKIP LOCKED", "")
			newSQL = strings.ReplaceAll(newSQL, "FOR UPDATE", "")
			d.Statement.SQL.Reset()
			d.Statement.SQL.WriteString(newSQL)
		}
	}
	db.Callback().Query().Before("gorm:query").Register("sqlite_skip_locked", rewrite)
	db.Callback().Row().Before("gorm:row").Register("sqlite_skip_locked_row", rewrite)
}

func startEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	stripForUpdate(db)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&partnerdomain.Partner{},
		&feedomain.Fee{},
		&creditdomain.Credit{},
		&invoicedomain.Invoice{},
		&plandomain.Plan{},
		&subscriptiondomain.Subscription{},
		&paymentdomain.Payment{},
		&paymentdomain.PaymentEvent{},
	))

	node, err := snowflake.NewNode(9)
	require.NoError(t, err)
	fake := clock.NewFakeClock(e2eEpoch)
	log := zaptest.NewLogger(t)
	gateway := mercadopago.NewStub()
	gateway.NowFunc = fake.Now
	billingCfg := config.NewStaticBillingConfigHolder(config.DefaultBillingConfig())

	feeSvc := feeservice.NewService(feeservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: fake,
		Store: repository.ProvideStore[feedomain.Fee](db),
	})
	creditSvc := creditservice.NewService(creditservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: fake,
		Store: repository.ProvideStore[creditdomain.Credit](db),
	})
	invoiceSvc := invoiceservice.NewService(invoiceservice.Params{
		DB:         db,
		Log:        log,
		GenID:      node,
		Clock:      fake,
		BillingCfg: billingCfg,
		CreditSvc:  creditSvc,
		Store:      repository.ProvideStore[invoicedomain.Invoice](db),
	})
	partnerSvc := partnerservice.NewService(partnerservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: fake,
		Store: repository.ProvideStore[partnerdomain.Partner](db),
	})
	planSvc := planservice.NewService(planservice.Params{
		Log:   log,
		Store: repository.ProvideStore[plandomain.Plan](db),
	})
	subscriptionSvc := subscriptionservice.NewService(subscriptionservice.Params{
		DB:           db,
		Log:          log,
		GenID:        node,
		Clock:        fake,
		BillingCfg:   billingCfg,
		Gateway:      gateway,
		PartnerSvc:   partnerSvc,
		PlanSvc:      planSvc,
		PaymentStore: repository.ProvideStore[paymentdomain.Payment](db),
	})
	paymentSvc := paymentservice.NewService(paymentservice.Params{
		DB:              db,
		Log:             log,
		GenID:           node,
		Clock:           fake,
		Gateway:         gateway,
		InvoiceSvc:      invoiceSvc,
		SubscriptionSvc: subscriptionSvc,
		EventStore:      repository.ProvideStore[paymentdomain.PaymentEvent](db),
	})
	accessBlockSvc := accessblock.NewService(accessblock.Params{
		Log:        log,
		Clock:      fake,
		BillingCfg: billingCfg,
		InvoiceSvc: invoiceSvc,
	})

	sched, err := scheduler.New(scheduler.Params{
		DB:              db,
		Log:             log,
		FeeSvc:          feeSvc,
		InvoiceSvc:      invoiceSvc,
		PaymentSvc:      paymentSvc,
		SubscriptionSvc: subscriptionSvc,
		GenID:           node,
		Clock:           fake,
		Config:          scheduler.Config{BatchSize: 10, WorkerPoolSize: 2},
	})
	require.NoError(t, err)

	srv := server.NewServer(server.ServerParams{
		Gin:             server.NewEngine(log),
		BillingCfg:      billingCfg,
		GenID:           node,
		Clock:           fake,
		PartnerSvc:      partnerSvc,
		FeeSvc:          feeSvc,
		CreditSvc:       creditSvc,
		InvoiceSvc:      invoiceSvc,
		AccessBlockSvc:  accessBlockSvc,
		PlanSvc:         planSvc,
		PaymentSvc:      paymentSvc,
		SubscriptionSvc: subscriptionSvc,
	})

	httpSrv := httptest.NewServer(srv.Engine())
	t.Cleanup(httpSrv.Close)

	return &testEnv{
		httpSrv: httpSrv,
		db:      db,
		clock:   fake,
		gateway: gateway,
		sched:   sched,
		node:    node,
	}
}

func (env *testEnv) addPartner(t *testing.T, name string) snowflake.ID {
	t.Helper()
	partner := partnerdomain.Partner{
		ID:       env.node.Generate(),
		Name:     name,
		Email:    strings.ToLower(strings.ReplaceAll(name, " ", ".")) + "@example.com",
		Document: fmt.Sprintf("%014d", env.node.Generate()%1e14),
	}
	require.NoError(t, env.db.Create(&partner).Error)
	return partner.ID
}

func (env *testEnv) addPlan(t *testing.T) snowflake.ID {
	t.Helper()
	plan := plandomain.Plan{
		ID:            env.node.Generate(),
		Name:          "Premium Mensal",
		Price:         4990,
		Currency:      "BRL",
		Frequency:     1,
		FrequencyType: "months",
		Features:      plandomain.DefaultPlanFeatures(),
		IsActive:      true,
	}
	require.NoError(t, env.db.Create(&plan).Error)
	return plan.ID
}

func (env *testEnv) doJSON(t *testing.T, method, path string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, env.httpSrv.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, raw
}

func (env *testEnv) postFee(t *testing.T, partnerID snowflake.ID, orderID string, feeValue int64) {
	t.Helper()
	now := env.clock.Now()
	premium := false
	resp, body := env.doJSON(t, http.MethodPost, "/v1/fees", feedomain.CreateFeeRequest{
		PartnerID:       partnerID,
		OrderID:         orderID,
		StoreID:         "store-1",
		CustomerID:      "customer-1",
		PaymentMethod:   "pix",
		OrderBaseValue:  feeValue * 10,
		OrderTotalPrice: feeValue * 10,
		FeePercentage:   1000,
		FeeValue:        feeValue,
		IsPremiumRate:   &premium,
		OrderDate:       now,
		CompletedAt:     now,
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
}

// TestBillingFlowFeeToPaidInvoice walks the platform's happy path end to
// end over HTTP: orders accrue fees, the monthly pass cuts an invoice,
// the partner pays by PIX, and the gateway webhook settles it.
func TestBillingFlowFeeToPaidInvoice(t *testing.T) {
	env := startEnv(t)
	partnerID := env.addPartner(t, "Hamburgueria Norte")

	env.postFee(t, partnerID, "order-1", 350)
	env.postFee(t, partnerID, "order-2", 420)

	// Inside the first cycle nothing is billed yet.
	require.NoError(t, env.sched.RunOnce(context.Background()))
	resp, body := env.doJSON(t, http.MethodGet, "/v1/invoices?partner_id="+partnerID.String(), nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list struct {
		Data []invoicedomain.Invoice `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Empty(t, list.Data)

	env.clock.Advance(32 * 24 * time.Hour)
	require.NoError(t, env.sched.RunOnce(context.Background()))

	resp, body = env.doJSON(t, http.MethodGet, "/v1/invoices?partner_id="+partnerID.String(), nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list.Data, 1)
	invoice := list.Data[0]
	assert.Equal(t, int64(770), invoice.TotalAmount)
	assert.Equal(t, invoicedomain.PaymentStatusPending, invoice.PaymentStatus)

	resp, body = env.doJSON(t, http.MethodPost, fmt.Sprintf("/v1/invoices/%s/payment", invoice.ID), map[string]any{
		"method": "pix",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var generated struct {
		Data invoicedomain.Invoice `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &generated))
	require.NotEmpty(t, generated.Data.PaymentID)

	env.gateway.ApprovePayment(generated.Data.PaymentID)
	resp, body = env.doJSON(t, http.MethodPost, "/webhooks/mercadopago", map[string]any{
		"id":     90001,
		"type":   "payment",
		"action": "payment.updated",
		"data":   map[string]string{"id": generated.Data.PaymentID},
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = env.doJSON(t, http.MethodGet, fmt.Sprintf("/v1/invoices/%s", invoice.ID), nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var fetched struct {
		Data invoicedomain.Invoice `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &fetched))
	assert.Equal(t, invoicedomain.PaymentStatusPaid, fetched.Data.PaymentStatus)

	// A settled account is never blocked.
	resp, body = env.doJSON(t, http.MethodGet, "/v1/access-block", nil, map[string]string{
		"X-Partner-ID": partnerID.String(),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status struct {
		Data accessblock.Status `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &status))
	assert.False(t, status.Data.IsBlocked)
}

// TestAccessBlockAfterGracePeriod leaves an invoice unpaid past due date
// plus grace and expects the startup check to block the partner app.
func TestAccessBlockAfterGracePeriod(t *testing.T) {
	env := startEnv(t)
	partnerID := env.addPartner(t, "Padaria Central")

	env.postFee(t, partnerID, "order-1", 500)
	env.clock.Advance(32 * 24 * time.Hour)
	require.NoError(t, env.sched.RunOnce(context.Background()))

	check := func() accessblock.Status {
		resp, body := env.doJSON(t, http.MethodGet, "/v1/access-block", nil, map[string]string{
			"X-Partner-ID": partnerID.String(),
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var status struct {
			Data accessblock.Status `json:"data"`
		}
		require.NoError(t, json.Unmarshal(body, &status))
		return status.Data
	}

	// Due in 7 days, so freshly invoiced partners stay unblocked.
	assert.False(t, check().IsBlocked)

	// Past due but inside grace: warned, not blocked.
	env.clock.Advance(10 * 24 * time.Hour)
	got := check()
	assert.True(t, got.HasOverdueInvoice)
	assert.False(t, got.IsBlocked)

	// Past grace: blocked.
	env.clock.Advance(7 * 24 * time.Hour)
	got = check()
	assert.True(t, got.IsBlocked)
}

// TestPremiumSubscriptionLifecycle drives signup, renewal failure
// handling and cancellation through the HTTP surface.
func TestPremiumSubscriptionLifecycle(t *testing.T) {
	env := startEnv(t)
	partnerID := env.addPartner(t, "Acai do Vale")
	planID := env.addPlan(t)

	resp, body := env.doJSON(t, http.MethodPost, "/v1/subscriptions", map[string]any{
		"partner_id": partnerID,
		"plan_id":    planID,
		"card_token": "tok-123",
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var partner partnerdomain.Partner
	require.NoError(t, env.db.First(&partner, "id = ?", partnerID).Error)
	assert.True(t, partner.IsPremium)

	resp, body = env.doJSON(t, http.MethodGet, fmt.Sprintf("/v1/partners/%s/subscription", partnerID), nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sub struct {
		Data subscriptiondomain.Subscription `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &sub))
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, sub.Data.Status)

	// A second signup attempt conflicts while one is active.
	resp, _ = env.doJSON(t, http.MethodPost, "/v1/subscriptions", map[string]any{
		"partner_id": partnerID,
		"plan_id":    planID,
		"card_token": "tok-456",
	}, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = env.doJSON(t, http.MethodPost, fmt.Sprintf("/v1/partners/%s/subscription/cancel", partnerID), nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	// Premium access survives until the paid period ends.
	require.NoError(t, env.db.First(&partner, "id = ?", partnerID).Error)
	assert.True(t, partner.IsPremium)

	env.clock.Advance(40 * 24 * time.Hour)
	require.NoError(t, env.sched.RunOnce(context.Background()))
	require.NoError(t, env.db.First(&partner, "id = ?", partnerID).Error)
	assert.False(t, partner.IsPremium)
}
