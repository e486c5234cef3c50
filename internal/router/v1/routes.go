package v1

import (
	"github.com/go-chi/chi/v5"

	"github.com/evyataryagoni/membermap/internal/handler"
)

// SetupRoutes configures all v1 API routes
// This function is called by the main router to setup /v1/* endpoints
func SetupRoutes(members *handler.MemberHandler, events *handler.EventsHandler, geocoder *handler.GeocodeHandler) chi.Router {
	r := chi.NewRouter()

	// GET, POST, PUT /members?id=, DELETE /members?id=
	r.Handle("/members", members)

	// Server-sent change stream
	r.Get("/members/events", events.ServeHTTP)

	// GET /v1/geocode?address=<address>
	if geocoder != nil {
		r.Get("/geocode", geocoder.Geocode)
	}

	return r
}
