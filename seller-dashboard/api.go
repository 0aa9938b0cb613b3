package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/gorilla/mux"

	"github.com/FaydArshan94/Prodexa-sub000/shared/database"
	"github.com/FaydArshan94/Prodexa-sub000/shared/httputil"
)

// API serves the read-only projection views. Projections are written only by
// the projection consumers.
type API struct {
	orders   database.DocumentStore
	products database.DocumentStore
	logger   *log.Logger
}

func NewAPI(orders, products database.DocumentStore, logger *log.Logger) *API {
	return &API{orders: orders, products: products, logger: logger}
}

func (a *API) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/seller/dashboard/orders", a.list(a.orders, "status")).Methods(http.MethodGet)
	r.HandleFunc("/api/seller/dashboard/orders/{id}", a.get(a.orders, "order")).Methods(http.MethodGet)
	r.HandleFunc("/api/seller/dashboard/products", a.list(a.products, "seller")).Methods(http.MethodGet)
	r.HandleFunc("/api/seller/dashboard/products/{id}", a.get(a.products, "product")).Methods(http.MethodGet)
}

// list returns every document, optionally narrowed by ?<filterField>=value.
func (a *API) list(store database.DocumentStore, filterField string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docs, err := store.List(r.Context())
		if err != nil {
			a.logger.Error("Failed to list projection", "error", err)
			httputil.WriteError(w, http.StatusInternalServerError, "failed to list documents")
			return
		}

		want := r.URL.Query().Get(filterField)
		out := make([]json.RawMessage, 0, len(docs))
		for _, doc := range docs {
			if want == "" || fieldEquals(doc, filterField, want) {
				out = append(out, doc)
			}
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"data":  out,
			"count": len(out),
		})
	}
}

func (a *API) get(store database.DocumentStore, kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		doc, err := store.Get(r.Context(), id)
		if errors.Is(err, database.ErrNotFound) {
			httputil.WriteError(w, http.StatusNotFound, kind+" not found")
			return
		}
		if err != nil {
			a.logger.Error("Failed to read projection", "kind", kind, "id", id, "error", err)
			httputil.WriteError(w, http.StatusInternalServerError, "failed to read "+kind)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, doc)
	}
}

func fieldEquals(doc json.RawMessage, field, want string) bool {
	var fields map[string]interface{}
	if err := json.Unmarshal(doc, &fields); err != nil {
		return false
	}
	got, ok := fields[field].(string)
	return ok && got == want
}
