package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RodolfoDevApp/eventshop-fulfillment-go/internal/application"
	"github.com/RodolfoDevApp/eventshop-fulfillment-go/internal/domain"
	"github.com/RodolfoDevApp/eventshop-fulfillment-go/internal/infrastructure/memory"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type nopPublisher struct{}

func (nopPublisher) Publish(ctx context.Context, routingKey string, body []byte) error { return nil }

type stubRecon int

func (s stubRecon) Exhausted(ctx context.Context) (int, error) { return int(s), nil }

func newOrderMux(recon ReconciliationReporter) *http.ServeMux {
	ledger := memory.NewStockLedger(
		domain.StockItem{ID: "laptop", Sku: "LAP-1", Name: "Laptop", Price: decimal.RequireFromString("1299.99"), Quantity: 10},
		domain.StockItem{ID: "mouse", Sku: "MOU-1", Name: "Mouse", Price: decimal.RequireFromString("49.99"), Quantity: 5},
	)
	orders := memory.NewOrderStore()
	checker := application.NewAvailabilityChecker(ledger, 0)
	assembler := application.NewOrderAssembler(checker, ledger, orders, orders, nopPublisher{},
		application.OrderAssemblerConfig{}, quietLogger())
	srv := NewOrderServer(application.NewCatalogService(ledger, 0), checker, assembler, recon, quietLogger())
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	return mux
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var decoded map[string]any
	if strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "{") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

const orderBody = `{
	"customerId": "cust-1",
	"customerName": "Ada Lovelace",
	"customerEmail": "ada@example.com",
	"items": [{"productId": "laptop", "quantity": 2}, {"productId": "mouse", "quantity": 1}],
	"shippingAddress": {"street": "1 Main St", "city": "Springfield", "state": "IL", "zipCode": "62701", "country": "US"}
}`

func TestOrderServer_CreateAndFetchOrder(t *testing.T) {
	mux := newOrderMux(stubRecon(0))

	rec, body := do(t, mux, http.MethodPost, "/orders", orderBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "confirmed", body["status"])
	assert.Equal(t, 2649.97, body["totalAmount"])
	orderID, _ := body["orderId"].(string)
	require.NotEmpty(t, orderID)

	rec, body = do(t, mux, http.MethodGet, "/orders/"+orderID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, orderID, body["orderId"])

	rec, body = do(t, mux, http.MethodGet, "/orders/"+orderID+"/invoice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "INV-"+orderID, body["invoiceId"])

	rec, body = do(t, mux, http.MethodGet, "/products/mouse", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(4), body["quantity"])
}

func TestOrderServer_ErrorMapping(t *testing.T) {
	mux := newOrderMux(nil)

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"malformed json", http.MethodPost, "/orders", "{", http.StatusBadRequest},
		{"invalid order", http.MethodPost, "/orders", `{"items":[]}`, http.StatusBadRequest},
		{"unknown order", http.MethodGet, "/orders/nope", "", http.StatusNotFound},
		{"unknown product", http.MethodGet, "/products/nope", "", http.StatusNotFound},
		{"empty availability", http.MethodPost, "/availability", `{"items":[]}`, http.StatusBadRequest},
		{"zero quantity availability", http.MethodPost, "/availability", `{"items":[{"productId":"mouse","quantity":0}]}`, http.StatusBadRequest},
		{"blank product availability", http.MethodPost, "/availability", `{"items":[{"productId":"","quantity":1}]}`, http.StatusBadRequest},
		{"duplicate sku", http.MethodPost, "/products", `{"sku":"LAP-1","name":"Other","price":1,"quantity":1}`, http.StatusBadRequest},
		{"bad restock", http.MethodPost, "/products/mouse/restock", `{"quantity":0}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, body := do(t, mux, tc.method, tc.path, tc.body)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestOrderServer_InsufficientStockListsItems(t *testing.T) {
	mux := newOrderMux(nil)
	payload := strings.Replace(orderBody, `"quantity": 1}`, `"quantity": 6}`, 1)

	rec, body := do(t, mux, http.MethodPost, "/orders", payload)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Some items are not available", body["error"])
	details, ok := body["details"].([]any)
	require.True(t, ok)
	require.Len(t, details, 1)
	assert.Equal(t, "mouse", details[0].(map[string]any)["productId"])
}

func TestOrderServer_HealthReportsUnannouncedOrders(t *testing.T) {
	rec, body := do(t, newOrderMux(stubRecon(2)), http.MethodGet, "/health", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, float64(2), body["unannouncedOrders"])
}

func newShippingMux(t *testing.T) (*http.ServeMux, *domain.Shipment) {
	t.Helper()
	store := memory.NewShipmentStore()
	lifecycle := application.NewShipmentLifecycle(store, store, application.DefaultLifecycleConfig(), quietLogger())
	s, _, err := lifecycle.OnOrderCreated(context.Background(), domain.NewOrderCreatedEvent(domain.Order{
		OrderID: "order-1",
		Items:   []domain.LineItem{{ProductID: "laptop", ProductName: "Laptop", Quantity: 1}},
	}))
	require.NoError(t, err)
	mux := http.NewServeMux()
	NewShippingServer(lifecycle, quietLogger()).RegisterRoutes(mux)
	return mux, s
}

func TestShippingServer_Lookups(t *testing.T) {
	mux, s := newShippingMux(t)

	rec, body := do(t, mux, http.MethodGet, "/shipments/"+s.ShippingID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "processing", body["status"])

	rec, body = do(t, mux, http.MethodGet, "/shipments/order/order-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, s.ShippingID, body["shippingId"])

	rec, body = do(t, mux, http.MethodGet, "/shipments/track/"+s.TrackingNumber, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, body["timeline"])

	rec, body = do(t, mux, http.MethodGet, "/shipments/order/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Shipping record not found", body["error"])
}

func TestShippingServer_UpdateStatus(t *testing.T) {
	mux, s := newShippingMux(t)
	path := "/shipments/" + s.ShippingID + "/status"

	rec, _ := do(t, mux, http.MethodPatch, path, `{"status":"lost"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body := do(t, mux, http.MethodPatch, path, `{"status":"delivered"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "delivered", body["status"])
	assert.NotEmpty(t, body["actualDelivery"])

	rec, _ = do(t, mux, http.MethodPatch, path, `{"status":"processing"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, mux, http.MethodPatch, "/shipments/SHIP-NOPE0000/status", `{"status":"shipped"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMount_PanicsOnUnknownCommand(t *testing.T) {
	assert.Panics(t, func() {
		Mount(http.NewServeMux(), []Route{{http.MethodGet, "/x", "missing"}}, CommandTable{}, quietLogger())
	})
}
