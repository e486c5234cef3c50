package models

import (
	"math"
	"time"
)

// Member is a directory entry rendered as a marker on the map
// JSON tags follow the column names of the members table
type Member struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Address     string    `json:"address"`
	Description string    `json:"description"`
	Poste       string    `json:"poste"`
	Ville       string    `json:"ville"`
	Pays        string    `json:"pays"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Renderable reports whether the member carries usable coordinates
func (m Member) Renderable() bool {
	return Coordinates{Latitude: m.Latitude, Longitude: m.Longitude}.Valid()
}

// MemberDraft is the body of a create request (no id, no timestamps)
type MemberDraft struct {
	Name        string  `json:"name" validate:"required"`
	Latitude    float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude   float64 `json:"longitude" validate:"gte=-180,lte=180"`
	Address     string  `json:"address"`
	Description string  `json:"description"`
	Poste       string  `json:"poste"`
	Ville       string  `json:"ville"`
	Pays        string  `json:"pays"`
}

// MemberPatch is a partial update; nil fields are left untouched
type MemberPatch struct {
	Name        *string  `json:"name,omitempty" validate:"omitnil,min=1"`
	Latitude    *float64 `json:"latitude,omitempty" validate:"omitnil,gte=-90,lte=90"`
	Longitude   *float64 `json:"longitude,omitempty" validate:"omitnil,gte=-180,lte=180"`
	Address     *string  `json:"address,omitempty"`
	Description *string  `json:"description,omitempty"`
	Poste       *string  `json:"poste,omitempty"`
	Ville       *string  `json:"ville,omitempty"`
	Pays        *string  `json:"pays,omitempty"`
}

// Empty reports whether the patch changes nothing
func (p MemberPatch) Empty() bool {
	return p.Name == nil && p.Latitude == nil && p.Longitude == nil &&
		p.Address == nil && p.Description == nil && p.Poste == nil &&
		p.Ville == nil && p.Pays == nil
}

// Apply copies the non-nil fields of the patch onto m
func (p MemberPatch) Apply(m *Member) {
	if p.Name != nil {
		m.Name = *p.Name
	}
	if p.Latitude != nil {
		m.Latitude = *p.Latitude
	}
	if p.Longitude != nil {
		m.Longitude = *p.Longitude
	}
	if p.Address != nil {
		m.Address = *p.Address
	}
	if p.Description != nil {
		m.Description = *p.Description
	}
	if p.Poste != nil {
		m.Poste = *p.Poste
	}
	if p.Ville != nil {
		m.Ville = *p.Ville
	}
	if p.Pays != nil {
		m.Pays = *p.Pays
	}
}

// Coordinates is a resolved latitude/longitude pair
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Valid reports whether both values are numbers within range
func (c Coordinates) Valid() bool {
	if math.IsNaN(c.Latitude) || math.IsNaN(c.Longitude) {
		return false
	}
	return c.Latitude >= -90 && c.Latitude <= 90 &&
		c.Longitude >= -180 && c.Longitude <= 180
}

// EventType names a row-level change on the members table
type EventType string

const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

// MemberRef identifies a row that no longer exists
type MemberRef struct {
	ID string `json:"id"`
}

// ChangeEvent is a change notification pushed to subscribers
// New is set for insert and update, Old for delete
type ChangeEvent struct {
	EventType EventType  `json:"eventType"`
	New       *Member    `json:"new,omitempty"`
	Old       *MemberRef `json:"old,omitempty"`
}

// MemberID returns the id the event refers to
func (e ChangeEvent) MemberID() string {
	if e.New != nil {
		return e.New.ID
	}
	if e.Old != nil {
		return e.Old.ID
	}
	return ""
}

// MembersResponse is the body of GET /members
type MembersResponse struct {
	Members []Member `json:"members"`
}

// MemberResponse is the body of POST and PUT /members
type MemberResponse struct {
	Member Member `json:"member"`
}

// MessageResponse is the body of DELETE /members
type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse is the standard error response format
type ErrorResponse struct {
	Error string `json:"error"`
}
