package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"

	"github.com/evyataryagoni/membermap/internal/logger"
	"github.com/evyataryagoni/membermap/internal/metrics"
	"github.com/evyataryagoni/membermap/internal/models"
	"github.com/evyataryagoni/membermap/internal/realtime"
	"github.com/evyataryagoni/membermap/internal/store"
)

// ErrInvalidMember is matched by every validation failure
var ErrInvalidMember = errors.New("invalid member")

// ValidationError lists the fields that failed validation
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid member: " + strings.Join(e.Problems, "; ")
}

// Is lets errors.Is(err, ErrInvalidMember) match
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidMember
}

// MemberService handles business logic for the member directory
// This is the service layer - it sits between handlers and stores
//
// Responsibilities:
//   - Validate drafts and patches
//   - Call the store
//   - Publish a change notification after every successful write
//   - Record metrics and logs
type MemberService struct {
	store     store.Store
	broker    realtime.Broker
	validator *validator.Validate
	metrics   *metrics.Metrics
	logger    *logger.Logger
}

// NewMemberService creates a new member service
//
// Parameters:
//   - st: any implementation of the Store interface
//   - broker: where change notifications are published
//   - m: metrics collector (optional, can be nil)
//   - log: logger (optional, can be nil)
func NewMemberService(st store.Store, broker realtime.Broker, m *metrics.Metrics, log *logger.Logger) *MemberService {
	if log == nil {
		log = logger.NewDefault()
	}

	v := validator.New()
	// report json names ("latitude") instead of Go field names ("Latitude")
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})

	return &MemberService{
		store:     st,
		broker:    broker,
		validator: v,
		metrics:   m,
		logger:    log.WithComponent("MemberService"),
	}
}

// List returns all members, most recently created first
func (s *MemberService) List(ctx context.Context) ([]models.Member, error) {
	defer s.observe("list", time.Now())

	members, err := s.store.List(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Store error listing members")
		s.count("list", "error")
		return nil, err
	}

	s.count("list", "success")
	s.logger.Debug().Int("count", len(members)).Msg("Listed members")
	return members, nil
}

// Create validates and stores a draft, then publishes an insert event
func (s *MemberService) Create(ctx context.Context, draft models.MemberDraft) (*models.Member, error) {
	defer s.observe("create", time.Now())

	draft.Name = strings.TrimSpace(draft.Name)
	if err := s.validate(draft); err != nil {
		s.logger.Warn().Err(err).Str("name", draft.Name).Msg("Rejected member draft")
		s.count("create", "invalid")
		return nil, err
	}

	member, err := s.store.Create(ctx, draft)
	if err != nil {
		s.logger.Error().Err(err).Str("name", draft.Name).Msg("Store error creating member")
		s.count("create", "error")
		return nil, err
	}

	s.count("create", "success")
	s.logger.Info().
		Str("member_id", member.ID).
		Str("name", member.Name).
		Msg("Member created")

	created := *member
	s.publish(ctx, models.ChangeEvent{EventType: models.EventInsert, New: &created})
	return member, nil
}

// Update applies a partial patch, then publishes an update event
// An empty patch still refreshes updatedAt
func (s *MemberService) Update(ctx context.Context, id string, patch models.MemberPatch) (*models.Member, error) {
	defer s.observe("update", time.Now())
	log := s.logger.WithMemberID(id)

	if strings.TrimSpace(id) == "" {
		s.count("update", "invalid")
		return nil, &ValidationError{Problems: []string{"id is required"}}
	}
	if patch.Name != nil {
		trimmed := strings.TrimSpace(*patch.Name)
		patch.Name = &trimmed
	}
	if err := s.validate(patch); err != nil {
		log.Warn().Err(err).Msg("Rejected member patch")
		s.count("update", "invalid")
		return nil, err
	}

	member, err := s.store.Update(ctx, id, patch)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Debug().Msg("Update of unknown member")
			s.count("update", "not_found")
			return nil, err
		}
		log.Error().Err(err).Msg("Store error updating member")
		s.count("update", "error")
		return nil, err
	}

	s.count("update", "success")
	log.Info().Msg("Member updated")

	updated := *member
	s.publish(ctx, models.ChangeEvent{EventType: models.EventUpdate, New: &updated})
	return member, nil
}

// Delete removes a member and publishes a delete event
// Deleting an unknown id is not an error; nothing is published then
func (s *MemberService) Delete(ctx context.Context, id string) error {
	defer s.observe("delete", time.Now())
	log := s.logger.WithMemberID(id)

	if strings.TrimSpace(id) == "" {
		s.count("delete", "invalid")
		return &ValidationError{Problems: []string{"id is required"}}
	}

	err := s.store.Delete(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Debug().Msg("Delete of unknown member")
			s.count("delete", "not_found")
			return nil
		}
		log.Error().Err(err).Msg("Store error deleting member")
		s.count("delete", "error")
		return err
	}

	s.count("delete", "success")
	log.Info().Msg("Member deleted")

	s.publish(ctx, models.ChangeEvent{EventType: models.EventDelete, Old: &models.MemberRef{ID: id}})
	return nil
}

// Subscribe opens a change notification stream
func (s *MemberService) Subscribe(ctx context.Context) (*realtime.Subscription, error) {
	sub, err := s.broker.Subscribe(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "service: subscribe to changes")
	}
	return sub, nil
}

// Close shuts down the broker, then the store
func (s *MemberService) Close() error {
	brokerErr := s.broker.Close()
	storeErr := s.store.Close()
	return errors.Join(brokerErr, storeErr)
}

// publish does not fail the write: the row is already committed and
// subscribers resync on reconnect.
func (s *MemberService) publish(ctx context.Context, ev models.ChangeEvent) {
	err := s.broker.Publish(context.WithoutCancel(ctx), ev)

	result := "success"
	if err != nil {
		result = "error"
		s.logger.Error().
			Err(err).
			Str("event_type", string(ev.EventType)).
			Str("member_id", ev.MemberID()).
			Msg("Failed to publish change event")
	}
	if s.metrics != nil {
		s.metrics.ChangeEventsPublished.WithLabelValues(string(ev.EventType), result).Inc()
	}
}

func (s *MemberService) validate(v interface{}) error {
	err := s.validator.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return eris.Wrap(err, "service: validate member")
	}

	problems := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		problems = append(problems, describe(fe))
	}
	return &ValidationError{Problems: problems}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "min":
		return fmt.Sprintf("%s must not be empty", fe.Field())
	case "gte":
		return fmt.Sprintf("%s must be >= %s", fe.Field(), fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be <= %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

func (s *MemberService) count(operation, result string) {
	if s.metrics != nil {
		s.metrics.MemberOperationsTotal.WithLabelValues(operation, result).Inc()
	}
}

func (s *MemberService) observe(operation string, start time.Time) {
	if s.metrics != nil {
		s.metrics.MemberOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
}
