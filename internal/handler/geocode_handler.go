package handler

import (
	"context"
	"net/http"

	"github.com/evyataryagoni/membermap/internal/geocode"
)

// Resolver turns an address into a cached geocoding outcome
// *geocode.Cache satisfies it
type Resolver interface {
	Resolve(ctx context.Context, address string) (geocode.Entry, error)
}

// GeocodeHandler exposes the server-side geocode cache to clients
// so browsers share one cache and one rate limit
type GeocodeHandler struct {
	resolver Resolver
}

// NewGeocodeHandler creates a new geocode handler
func NewGeocodeHandler(resolver Resolver) *GeocodeHandler {
	return &GeocodeHandler{resolver: resolver}
}

// Geocode handles GET /v1/geocode?address=<address>
// @Summary      Geocode an address
// @Tags         Geocoding
// @Produce      json
// @Param        address  query     string  true  "Free-text postal address"  example(Lyon France)
// @Success      200      {object}  models.Coordinates
// @Failure      400      {object}  models.ErrorResponse  "Missing address"
// @Failure      404      {object}  models.ErrorResponse  "Could not locate address"
// @Failure      503      {object}  models.ErrorResponse  "Lookup interrupted"
// @Router       /v1/geocode [get]
func (h *GeocodeHandler) Geocode(w http.ResponseWriter, r *http.Request) {
	address := geocode.NormalizeAddress(r.URL.Query().Get("address"))
	if address == "" {
		respondError(w, http.StatusBadRequest, "Missing 'address' query parameter")
		return
	}

	entry, err := h.resolver.Resolve(r.Context(), address)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "Geocoding interrupted, please retry")
		return
	}
	if !entry.Resolved {
		respondError(w, http.StatusNotFound, "could not locate address")
		return
	}

	respondJSON(w, http.StatusOK, entry.Coordinates)
}
