package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/nishidshajib/tradbazar/internal/metrics"
	custommiddleware "github.com/nishidshajib/tradbazar/internal/middleware"
	"github.com/nishidshajib/tradbazar/internal/model"
)

// SetupRouter настраивает HTTP-маршруты и middleware маркетплейса.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/user/register", h.Register)
		r.Post("/user/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Get("/products/{id}/bargain-info", h.BargainInfo)
			r.Get("/bargains", h.ListBargains)

			r.Group(func(r chi.Router) {
				r.Use(custommiddleware.RequireRole(model.RoleBuyer))

				r.Post("/negotiate", h.Negotiate)
				r.Post("/negotiate/{id}/respond", h.Respond)

				r.Get("/cart", h.GetCart)
				r.Post("/cart", h.AddToCart)
				r.Delete("/cart", h.ClearCart)
				r.Delete("/cart/{product_id}", h.RemoveFromCart)

				r.Post("/checkout", h.Checkout)

				r.Get("/orders", h.ListOrders)
				r.Get("/orders/{id}", h.GetOrder)
				r.Get("/orders/{id}/tracking", h.OrderTracking)
			})

			r.Route("/seller", func(r chi.Router) {
				r.With(custommiddleware.RequireRole(model.RoleSeller)).Get("/products", h.ListProducts)
				r.With(custommiddleware.RequireRole(model.RoleSeller)).Post("/products", h.CreateProduct)
				r.With(custommiddleware.RequireRole(model.RoleSeller)).Put("/products/{id}", h.UpdateProduct)
				r.With(custommiddleware.RequireRole(model.RoleSeller)).Get("/orders", h.ListSellerOrders)
				r.With(custommiddleware.RequireRole(model.RoleSeller, model.RoleAdmin)).Patch("/orders/{id}/status", h.UpdateOrderStatus)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
