package handler

import (
	"errors"
	"net/http"

	"github.com/evyataryagoni/membermap/internal/models"
	"github.com/evyataryagoni/membermap/internal/service"
	"github.com/evyataryagoni/membermap/internal/store"
)

// allowedMethods is sent in the Allow header of 405 responses
const allowedMethods = "GET, POST, PUT, DELETE"

// MemberHandler handles HTTP requests for the members collection
// This is the handler layer - it deals with HTTP concerns only
//
// Responsibilities:
//   - Dispatch on the request method
//   - Parse query parameters and JSON bodies
//   - Call service methods
//   - Map service errors to status codes
type MemberHandler struct {
	service *service.MemberService
}

// NewMemberHandler creates a new member handler with the given service
func NewMemberHandler(svc *service.MemberService) *MemberHandler {
	return &MemberHandler{service: svc}
}

// ServeHTTP dispatches /members by method so every other method gets a
// 405 with an Allow header
func (h *MemberHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.List(w, r)
	case http.MethodPost:
		h.Create(w, r)
	case http.MethodPut:
		h.Update(w, r)
	case http.MethodDelete:
		h.Delete(w, r)
	default:
		w.Header().Set("Allow", allowedMethods)
		respondError(w, http.StatusMethodNotAllowed, "Method "+r.Method+" not allowed")
	}
}

// List handles GET /v1/members
// @Summary      List members
// @Description  All members, most recently created first
// @Tags         Members
// @Produce      json
// @Success      200  {object}   models.MembersResponse
// @Failure      500  {object}   models.ErrorResponse
// @Router       /v1/members [get]
func (h *MemberHandler) List(w http.ResponseWriter, r *http.Request) {
	members, err := h.service.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if members == nil {
		members = []models.Member{}
	}
	respondJSON(w, http.StatusOK, models.MembersResponse{Members: members})
}

// Create handles POST /v1/members
// @Summary      Create a member
// @Tags         Members
// @Accept       json
// @Produce      json
// @Param        member  body      models.MemberDraft  true  "New member"
// @Success      201     {object}  models.MemberResponse
// @Failure      400     {object}  models.ErrorResponse  "Invalid body"
// @Failure      500     {object}  models.ErrorResponse
// @Router       /v1/members [post]
func (h *MemberHandler) Create(w http.ResponseWriter, r *http.Request) {
	var draft models.MemberDraft
	if err := decodeBody(w, r, &draft); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	member, err := h.service.Create(r.Context(), draft)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, models.MemberResponse{Member: *member})
}

// Update handles PUT /v1/members?id=<id>
// @Summary      Update a member
// @Description  Partial update; omitted fields are left unchanged
// @Tags         Members
// @Accept       json
// @Produce      json
// @Param        id      query     string              true  "Member id"
// @Param        member  body      models.MemberPatch  true  "Fields to change"
// @Success      200     {object}  models.MemberResponse
// @Failure      400     {object}  models.ErrorResponse
// @Failure      404     {object}  models.ErrorResponse  "Member not found"
// @Router       /v1/members [put]
func (h *MemberHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "Missing 'id' query parameter")
		return
	}

	var patch models.MemberPatch
	if err := decodeBody(w, r, &patch); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	member, err := h.service.Update(r.Context(), id, patch)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, models.MemberResponse{Member: *member})
}

// Delete handles DELETE /v1/members?id=<id>
// @Summary      Delete a member
// @Description  Succeeds for unknown ids as well
// @Tags         Members
// @Produce      json
// @Param        id   query     string  true  "Member id"
// @Success      200  {object}  models.MessageResponse
// @Failure      400  {object}  models.ErrorResponse
// @Router       /v1/members [delete]
func (h *MemberHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "Missing 'id' query parameter")
		return
	}

	if err := h.service.Delete(r.Context(), id); err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, models.MessageResponse{Message: "Member deleted successfully"})
}

func (h *MemberHandler) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidMember):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "Member not found")
	default:
		respondError(w, http.StatusInternalServerError, "Internal server error")
	}
}
