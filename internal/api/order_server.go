package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/RodolfoDevApp/eventshop-fulfillment-go/internal/application"
	"github.com/RodolfoDevApp/eventshop-fulfillment-go/internal/domain"
)

// ReconciliationReporter reports order announcements that exhausted their
// retries and need out-of-band handling.
type ReconciliationReporter interface {
	Exhausted(ctx context.Context) (int, error)
}

// OrderServer groups the HTTP dependencies of the order service.
type OrderServer struct {
	catalog   *application.CatalogService
	checker   *application.AvailabilityChecker
	assembler *application.OrderAssembler
	recon     ReconciliationReporter
	log       *slog.Logger
}

func NewOrderServer(
	catalog *application.CatalogService,
	checker *application.AvailabilityChecker,
	assembler *application.OrderAssembler,
	recon ReconciliationReporter,
	log *slog.Logger,
) *OrderServer {
	return &OrderServer{
		catalog:   catalog,
		checker:   checker,
		assembler: assembler,
		recon:     recon,
		log:       log,
	}
}

var orderRoutes = []Route{
	{http.MethodGet, "/health", "health"},
	{http.MethodPost, "/availability", "availability.check"},
	{http.MethodGet, "/products", "products.list"},
	{http.MethodPost, "/products", "products.create"},
	{http.MethodGet, "/products/{productId}", "products.get"},
	{http.MethodPost, "/products/{productId}/restock", "products.restock"},
	{http.MethodPost, "/orders", "orders.create"},
	{http.MethodGet, "/orders", "orders.list"},
	{http.MethodGet, "/orders/{orderId}", "orders.get"},
	{http.MethodGet, "/orders/{orderId}/invoice", "orders.invoice"},
}

func (s *OrderServer) commands() CommandTable {
	return CommandTable{
		"health":             s.health,
		"availability.check": s.checkAvailability,
		"products.list":      s.listProducts,
		"products.create":    s.createProduct,
		"products.get":       s.getProduct,
		"products.restock":   s.restockProduct,
		"orders.create":      s.createOrder,
		"orders.list":        s.listOrders,
		"orders.get":         s.getOrder,
		"orders.invoice":     s.invoice,
	}
}

// RegisterRoutes registra todas las rutas HTTP en el mux.
func (s *OrderServer) RegisterRoutes(mux *http.ServeMux) {
	Mount(mux, orderRoutes, s.commands(), s.log)
}

type orderHealthResponse struct {
	Status            string `json:"status"`
	UnannouncedOrders int    `json:"unannouncedOrders"`
}

func (s *OrderServer) health(r *http.Request) Result {
	resp := orderHealthResponse{Status: "ok"}
	if s.recon != nil {
		n, err := s.recon.Exhausted(r.Context())
		if err != nil {
			return fail(domain.NewUpstreamUnavailableError("order store unavailable", err))
		}
		resp.UnannouncedOrders = n
		if n > 0 {
			resp.Status = "degraded"
		}
	}
	return ok(resp)
}

type availabilityRequest struct {
	Items []domain.ReservationRequest `json:"items"`
}

func (s *OrderServer) checkAvailability(r *http.Request) Result {
	var req availabilityRequest
	if err := decodeBody(r, &req); err != nil {
		return fail(err)
	}
	res, err := s.checker.Check(r.Context(), req.Items)
	if err != nil {
		return fail(err)
	}
	return ok(res)
}

func (s *OrderServer) listProducts(r *http.Request) Result {
	items, err := s.catalog.List(r.Context())
	if err != nil {
		return fail(err)
	}
	if items == nil {
		items = []domain.StockItem{}
	}
	return ok(items)
}

func (s *OrderServer) createProduct(r *http.Request) Result {
	var req application.CreateProductRequest
	if err := decodeBody(r, &req); err != nil {
		return fail(err)
	}
	item, err := s.catalog.Create(r.Context(), req)
	if err != nil {
		return fail(err)
	}
	return created(item)
}

func (s *OrderServer) getProduct(r *http.Request) Result {
	item, err := s.catalog.Get(r.Context(), r.PathValue("productId"))
	if err != nil {
		return fail(err)
	}
	return ok(item)
}

type restockRequest struct {
	Quantity int `json:"quantity"`
}

func (s *OrderServer) restockProduct(r *http.Request) Result {
	var req restockRequest
	if err := decodeBody(r, &req); err != nil {
		return fail(err)
	}
	item, err := s.catalog.Restock(r.Context(), r.PathValue("productId"), req.Quantity)
	if err != nil {
		return fail(err)
	}
	return ok(item)
}

func (s *OrderServer) createOrder(r *http.Request) Result {
	var req domain.OrderRequest
	if err := decodeBody(r, &req); err != nil {
		return fail(err)
	}
	order, err := s.assembler.CreateOrder(r.Context(), req)
	if err != nil {
		return fail(err)
	}
	return created(order)
}

func (s *OrderServer) listOrders(r *http.Request) Result {
	orders, err := s.assembler.ListOrders(r.Context())
	if err != nil {
		return fail(err)
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	return ok(orders)
}

func (s *OrderServer) getOrder(r *http.Request) Result {
	order, err := s.assembler.GetOrder(r.Context(), r.PathValue("orderId"))
	if err != nil {
		return fail(err)
	}
	return ok(order)
}

func (s *OrderServer) invoice(r *http.Request) Result {
	inv, err := s.assembler.Invoice(r.Context(), r.PathValue("orderId"))
	if err != nil {
		return fail(err)
	}
	return ok(inv)
}
