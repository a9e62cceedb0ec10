package api

import (
	"log/slog"
	"net/http"

	"github.com/RodolfoDevApp/eventshop-fulfillment-go/internal/application"
	"github.com/RodolfoDevApp/eventshop-fulfillment-go/internal/domain"
)

type ShippingServer struct {
	lifecycle *application.ShipmentLifecycle
	log       *slog.Logger
}

func NewShippingServer(lifecycle *application.ShipmentLifecycle, log *slog.Logger) *ShippingServer {
	return &ShippingServer{lifecycle: lifecycle, log: log}
}

var shippingRoutes = []Route{
	{http.MethodGet, "/health", "health"},
	{http.MethodGet, "/shipments", "shipments.list"},
	{http.MethodGet, "/shipments/{shippingId}", "shipments.get"},
	{http.MethodGet, "/shipments/order/{orderId}", "shipments.byOrder"},
	{http.MethodGet, "/shipments/track/{trackingNumber}", "shipments.track"},
	{http.MethodPatch, "/shipments/{shippingId}/status", "shipments.updateStatus"},
}

func (s *ShippingServer) commands() CommandTable {
	return CommandTable{
		"health":                 func(*http.Request) Result { return ok(healthResponse{Status: "ok"}) },
		"shipments.list":         s.list,
		"shipments.get":          s.get,
		"shipments.byOrder":      s.byOrder,
		"shipments.track":        s.track,
		"shipments.updateStatus": s.updateStatus,
	}
}

func (s *ShippingServer) RegisterRoutes(mux *http.ServeMux) {
	Mount(mux, shippingRoutes, s.commands(), s.log)
}

func (s *ShippingServer) list(r *http.Request) Result {
	list, err := s.lifecycle.ListShipments(r.Context())
	if err != nil {
		return fail(err)
	}
	if list == nil {
		list = []domain.Shipment{}
	}
	return ok(list)
}

func (s *ShippingServer) get(r *http.Request) Result {
	sh, err := s.lifecycle.GetShipment(r.Context(), r.PathValue("shippingId"))
	if err != nil {
		return fail(err)
	}
	return ok(sh)
}

func (s *ShippingServer) byOrder(r *http.Request) Result {
	sh, err := s.lifecycle.GetByOrderID(r.Context(), r.PathValue("orderId"))
	if err != nil {
		return fail(err)
	}
	return ok(sh)
}

func (s *ShippingServer) track(r *http.Request) Result {
	tracking, err := s.lifecycle.Track(r.Context(), r.PathValue("trackingNumber"))
	if err != nil {
		return fail(err)
	}
	return ok(tracking)
}

type statusRequest struct {
	Status string `json:"status"`
}

func (s *ShippingServer) updateStatus(r *http.Request) Result {
	var req statusRequest
	if err := decodeBody(r, &req); err != nil {
		return fail(err)
	}
	target, valid := domain.ParseShipmentStatus(req.Status)
	if !valid {
		return fail(domain.NewValidationError("invalid status", []string{req.Status}))
	}
	sh, err := s.lifecycle.Advance(r.Context(), r.PathValue("shippingId"), target)
	if err != nil {
		return fail(err)
	}
	return ok(sh)
}
