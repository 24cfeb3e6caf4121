package backend

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridshare/energy-bpp/backend/handlers"
	"github.com/gridshare/energy-bpp/bpp"
	"github.com/gridshare/energy-bpp/bpp/database/dbtest"
	"github.com/gridshare/energy-bpp/bpp/database/models"
	"github.com/gridshare/energy-bpp/bpp/database/repositories"
	"github.com/gridshare/energy-bpp/bpp/gift"
	"github.com/gridshare/energy-bpp/bpp/ledger"
	"github.com/gridshare/energy-bpp/bpp/protocol"
	"github.com/gridshare/energy-bpp/internal/domain/settlement"
)

type stubEngine struct {
	action  string
	persona string
	req     *protocol.Request
	started int
}

func (s *stubEngine) Handle(_ context.Context, action string, req *protocol.Request, persona string) (protocol.Response, func()) {
	s.action, s.persona, s.req = action, persona, req
	resp := protocol.Response{Message: protocol.AckMessage{Ack: protocol.Ack{Status: protocol.AckStatus}}}
	if req.Context.BapURI == "" {
		resp.Message.Ack.Status = protocol.NackStatus
		resp.Error = &protocol.Error{Code: protocol.CodeInvalidContext, Message: "no callback"}
	}
	return resp, func() { s.started++ }
}

type stubPinger struct{ err error }

type captureSink struct {
	snapshots []*models.CatalogSnapshot
}

func (s *captureSink) Publish(_ context.Context, snapshot *models.CatalogSnapshot) error {
	s.snapshots = append(s.snapshots, snapshot)
	return nil
}

func (p stubPinger) Ping(context.Context) error { return p.err }

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code string `json:"code"`
	} `json:"error"`
}

const testAdminToken = "operator-secret"

type testServer struct {
	t           *testing.T
	cfg         bpp.WebConfig
	engine      *stubEngine
	settlements settlement.Service
	inventory   repositories.InventoryRepository
	ledger      *ledger.Signer
	webApp      *handlers.WebApp
}

func newTestServer(t *testing.T) *testServer {
	db := dbtest.New(t)
	signer, err := ledger.NewSigner("ledger.example", "ledger-key", bytes.Repeat([]byte{7}, ed25519.SeedSize))
	require.NoError(t, err)

	srv := &testServer{
		t:           t,
		cfg:         bpp.WebConfig{AdminToken: testAdminToken},
		engine:      &stubEngine{},
		settlements: settlement.NewService(repositories.NewSettlementRepository(db), nil),
		inventory:   repositories.NewInventoryRepository(db),
		ledger:      signer,
	}
	srv.webApp = &handlers.WebApp{
		Engine:        srv.engine,
		Settlements:   srv.settlements,
		Orders:        repositories.NewOrderRepository(db),
		Inventory:     srv.inventory,
		LedgerKey:     signer.PublicKey(),
		DB:            stubPinger{},
		PersonaHeader: "X-Persona",
		Version:       "test",
	}
	return srv
}

// push posts body to the ledger callback signed with signer.
func (s *testServer) push(signer *ledger.Signer, body string) (*http.Response, []byte) {
	s.t.Helper()
	return s.do(http.MethodPost, "/ledger/callback", body, map[string]string{
		"Authorization": signer.Sign([]byte(body)),
	})
}

func (s *testServer) do(method, path string, body string, headers map[string]string) (*http.Response, []byte) {
	s.t.Helper()
	app, limiter := NewApp(s.cfg, s.webApp)
	if limiter != nil {
		defer limiter.Close()
	}

	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := app.Test(req, -1)
	require.NoError(s.t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(s.t, err)
	return resp, raw
}

func TestProtocolRoute_Ack(t *testing.T) {
	srv := newTestServer(t)

	body := `{"context":{"action":"confirm","transaction_id":"txn-1","bap_uri":"https://bap.example"},"message":{"order":{}}}`
	resp, raw := srv.do(http.MethodPost, "/confirm", body, map[string]string{"X-Persona": "prosumer"})

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"message":{"ack":{"status":"ACK"}}}`, string(raw))
	assert.Equal(t, protocol.ActionConfirm, srv.engine.action)
	assert.Equal(t, "prosumer", srv.engine.persona)
	assert.JSONEq(t, `{"order":{}}`, string(srv.engine.req.Message))
	assert.Equal(t, 1, srv.engine.started, "work starts once the ACK is written")
}

func TestProtocolRoute_Nack(t *testing.T) {
	srv := newTestServer(t)

	resp, raw := srv.do(http.MethodPost, "/select", `{"context":{"transaction_id":"txn-1"}}`, nil)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var out protocol.Response
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, protocol.NackStatus, out.Message.Ack.Status)
	assert.Equal(t, protocol.CodeInvalidContext, out.Error.Code)
	assert.Zero(t, srv.engine.started)
}

func TestProtocolRoute_InvalidJSON(t *testing.T) {
	srv := newTestServer(t)

	resp, raw := srv.do(http.MethodPost, "/init", `{"context":`, nil)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var out protocol.Response
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, protocol.CodeInvalidRequest, out.Error.Code)
	assert.Empty(t, srv.engine.action, "engine must not see unparseable requests")
}

func TestTemplateActionsAreRouted(t *testing.T) {
	srv := newTestServer(t)

	for _, action := range protocol.TemplateActions {
		body := `{"context":{"transaction_id":"txn-1","bap_uri":"https://bap.example"},"message":{}}`
		resp, _ := srv.do(http.MethodPost, "/"+action, body, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode, action)
		assert.Equal(t, action, srv.engine.action)
	}
}

func TestLedgerCallback_SettlesTransaction(t *testing.T) {
	srv := newTestServer(t)
	_, err := srv.settlements.CreateSettlement(context.Background(), settlement.CreateParams{
		TransactionID:      "txn-1",
		OrderItemID:        "item-1",
		ContractedQuantity: 7,
		Role:               models.RoleSeller,
		CounterpartyID:     "buyer-1",
	})
	require.NoError(t, err)

	push := `{"records":[
		{"transactionId":"txn-1","statusBuyerDiscom":"COMPLETED","statusSellerDiscom":"COMPLETED",
		 "buyerFulfillmentValidationMetrics":[{"validationMetricType":"ACTUAL_PUSHED","validationMetricValue":6.5}],
		 "settlementCycleId":"cycle-9"},
		{"transactionId":"txn-unknown","statusBuyerDiscom":"COMPLETED"}]}`
	resp, raw := srv.push(srv.ledger, push)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	var env envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.JSONEq(t, `{"applied":1,"skipped":1}`, string(env.Data))

	resp, raw = srv.do(http.MethodGet, "/settlements/txn-1", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(raw, &env))

	var view struct {
		Status  string   `json:"status"`
		Actual  *float64 `json:"actualDelivered"`
		CycleID string   `json:"settlementCycleId"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, string(models.SettlementSettled), view.Status)
	require.NotNil(t, view.Actual)
	assert.Equal(t, 6.5, *view.Actual)
	assert.Equal(t, "cycle-9", view.CycleID)
}

func TestLedgerCallback_SingleRecordAndBadPayload(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := srv.push(srv.ledger, `{"transactionId":"txn-x"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = srv.push(srv.ledger, `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = srv.push(srv.ledger, `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLedgerCallback_RequiresLedgerSignature(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	_, err := srv.settlements.CreateSettlement(ctx, settlement.CreateParams{
		TransactionID:      "txn-1",
		OrderItemID:        "item-1",
		ContractedQuantity: 7,
		Role:               models.RoleSeller,
		CounterpartyID:     "buyer-1",
	})
	require.NoError(t, err)

	forger, err := ledger.NewSigner("ledger.example", "ledger-key", bytes.Repeat([]byte{9}, ed25519.SeedSize))
	require.NoError(t, err)
	push := `{"transactionId":"txn-1","statusBuyerDiscom":"COMPLETED","statusSellerDiscom":"COMPLETED"}`

	resp, _ := srv.do(http.MethodPost, "/ledger/callback", push, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "unsigned")

	resp, _ = srv.push(forger, push)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "wrong key")

	resp, _ = srv.do(http.MethodPost, "/ledger/callback", push, map[string]string{
		"Authorization": srv.ledger.Sign([]byte(`{"transactionId":"txn-other"}`)),
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "signature over another body")

	rows, err := srv.settlements.GetByTransaction(ctx, "txn-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, models.SettlementPending, rows[0].Status)

	srv.webApp.LedgerKey = nil
	resp, _ = srv.push(srv.ledger, push)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, "no key configured")
}

func TestAdminGift_IssueAndRevoke(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	sink := &captureSink{}
	srv.webApp.Catalogs = sink
	require.NoError(t, srv.inventory.CreateItem(ctx, &models.Item{
		ID: "item-1", SellerID: "seller-1", ProviderID: "provider-1", CatalogID: "catalog-1", AvailableQuantity: 4,
	}))
	require.NoError(t, srv.inventory.CreateOffer(ctx, &models.Offer{
		ID: "offer-1", ItemID: "item-1", CatalogID: "catalog-1", ProviderID: "provider-1",
		Price: decimal.Zero, Currency: "INR", ApplicableQuantity: 4,
	}))
	auth := map[string]string{"Authorization": "Bearer " + testAdminToken}
	body := `{"recipientPhone":"+910000000000"}`

	resp, _ := srv.do(http.MethodPost, "/admin/offers/offer-1/gift", body, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = srv.do(http.MethodPost, "/admin/offers/offer-1/gift", body, map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, raw := srv.do(http.MethodPost, "/admin/offers/offer-1/gift", body, auth)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	var env envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	var issued struct {
		OfferID     string `json:"offerId"`
		ClaimSecret string `json:"claimSecret"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &issued))
	assert.Equal(t, "offer-1", issued.OfferID)
	assert.Len(t, issued.ClaimSecret, gift.SecretLength)

	offer, err := srv.inventory.GetOffer(ctx, "offer-1")
	require.NoError(t, err)
	assert.True(t, offer.IsGift)
	assert.Equal(t, models.GiftUnclaimed, offer.GiftStatus)
	assert.True(t, gift.Verify(issued.ClaimSecret, offer.ClaimVerifier))
	require.Len(t, sink.snapshots, 1)
	assert.True(t, sink.snapshots[0].Items[0].Offers[0].IsGift)

	resp, _ = srv.do(http.MethodPost, "/admin/offers/offer-1/gift", body, auth)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "already a gift")

	resp, _ = srv.do(http.MethodPost, "/admin/offers/offer-1/gift/revoke", "", auth)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	offer, err = srv.inventory.GetOffer(ctx, "offer-1")
	require.NoError(t, err)
	assert.Equal(t, models.GiftRevoked, offer.GiftStatus)
	require.Len(t, sink.snapshots, 2)
	assert.Empty(t, sink.snapshots[1].Items, "a revoked gift leaves the catalog")

	resp, _ = srv.do(http.MethodPost, "/admin/offers/offer-1/gift/revoke", "", auth)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp, _ = srv.do(http.MethodPost, "/admin/offers/ghost/gift/revoke", "", auth)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdminGift_Validation(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, srv.inventory.CreateItem(ctx, &models.Item{
		ID: "item-1", SellerID: "seller-1", ProviderID: "provider-1", CatalogID: "catalog-1",
	}))
	require.NoError(t, srv.inventory.CreateOffer(ctx, &models.Offer{
		ID: "offer-empty", ItemID: "item-1", CatalogID: "catalog-1", ProviderID: "provider-1",
		Price: decimal.NewFromInt(5), Currency: "INR",
	}))
	auth := map[string]string{"Authorization": "Bearer " + testAdminToken}

	resp, _ := srv.do(http.MethodPost, "/admin/offers/offer-empty/gift", `{"recipientPhone":" "}`, auth)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = srv.do(http.MethodPost, "/admin/offers/ghost/gift", `{"recipientPhone":"+91"}`, auth)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = srv.do(http.MethodPost, "/admin/offers/offer-empty/gift", `{"recipientPhone":"+91"}`, auth)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "exhausted offers cannot be gifted")

	srv.cfg.AdminToken = ""
	resp, _ = srv.do(http.MethodPost, "/admin/offers/offer-empty/gift", `{"recipientPhone":"+91"}`, auth)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestSettlementNotFound(t *testing.T) {
	srv := newTestServer(t)

	resp, raw := srv.do(http.MethodGet, "/settlements/nope", "", nil)

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	var env envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
}

func TestLedgerEndpointsWithoutLedger(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := srv.do(http.MethodGet, "/ledger/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, _ = srv.do(http.MethodPost, "/settlements/txn-1/reconcile", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, _ = srv.do(http.MethodGet, "/ledger/trades?seller_id=seller-1", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestSellerEarnings(t *testing.T) {
	srv := newTestServer(t)

	resp, raw := srv.do(http.MethodGet, "/sellers/seller-1/earnings", "", nil)

	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	var env envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	var earnings models.SellerEarnings
	require.NoError(t, json.Unmarshal(env.Data, &earnings))
	assert.Equal(t, "seller-1", earnings.SellerID)
	assert.Zero(t, earnings.OrderCount)
}

func TestHealthCheck(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := srv.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	srv.webApp.DB = stubPinger{err: errors.New("connection refused")}
	resp, raw := srv.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, string(raw), "connection refused")
}

func TestUnknownRoute(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := srv.do(http.MethodGet, "/search", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
