package application

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/example/resource-scheduler/internal/entity"
	"github.com/example/resource-scheduler/internal/storage"
)

// AllocatableService orchestrates validation, authorization, and commits for
// resources and persons.
type AllocatableService struct {
	service *Service
	logger  *slog.Logger
}

// NewAllocatableService constructs an allocatable service.
func NewAllocatableService(service *Service, logger *slog.Logger) *AllocatableService {
	return &AllocatableService{service: service, logger: defaultLogger(logger)}
}

func (s *AllocatableService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "AllocatableService", operation, attrs...)
}

// CreateAllocatable validates the classification and commits a new
// allocatable for administrators.
func (s *AllocatableService) CreateAllocatable(ctx context.Context, params CreateAllocatableParams) (alloc *entity.Allocatable, err error) {
	if s == nil {
		return nil, fmt.Errorf("AllocatableService is nil")
	}

	logger := s.loggerWith(ctx, "CreateAllocatable",
		"principal_id", params.Principal.UserID.String(),
		"element_key", params.Input.ElementKey,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to create allocatable", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("allocatable_id", alloc.ID().String()).InfoContext(ctx, "allocatable created")
	}()

	if !params.Principal.IsAdmin {
		return nil, ErrUnauthorized
	}

	var cls *entity.Classification
	vErr := &ValidationError{}
	_ = s.service.View(func(c *storage.LocalCache) error {
		cls = buildClassification(c, params.Input.ElementKey, params.Input.Values, vErr, entity.ClassificationResource, entity.ClassificationPerson)
		return nil
	})
	if vErr.HasErrors() {
		return nil, vErr
	}

	_, err = s.service.Transaction(ctx, params.Principal.UserID, func(tx *Transaction) error {
		id, err := s.service.Create(tx, entity.TypeAllocatable)
		if err != nil {
			return err
		}
		alloc = entity.NewAllocatable(id, cls)
		if err := alloc.SetHoldBackConflicts(params.Input.HoldBackConflicts); err != nil {
			return err
		}
		if err := alloc.SetOwner(params.Principal.UserID); err != nil {
			return err
		}
		return tx.Put(alloc)
	})
	if err != nil {
		return nil, err
	}
	return alloc, nil
}

// UpdateAllocatable replaces the classification values of an allocatable.
// The dynamic type may change along with them.
func (s *AllocatableService) UpdateAllocatable(ctx context.Context, params UpdateAllocatableParams) (*entity.Allocatable, error) {
	if s == nil {
		return nil, fmt.Errorf("AllocatableService is nil")
	}
	if !params.Principal.IsAdmin {
		return nil, ErrUnauthorized
	}

	var cls *entity.Classification
	vErr := &ValidationError{}
	_ = s.service.View(func(c *storage.LocalCache) error {
		cls = buildClassification(c, params.Input.ElementKey, params.Input.Values, vErr, entity.ClassificationResource, entity.ClassificationPerson)
		return nil
	})
	if vErr.HasErrors() {
		return nil, vErr
	}

	var alloc *entity.Allocatable
	_, err := s.service.Transaction(ctx, params.Principal.UserID, func(tx *Transaction) error {
		e, err := s.service.Edit(tx, params.AllocatableID)
		if err != nil {
			return err
		}
		var ok bool
		if alloc, ok = e.(*entity.Allocatable); !ok {
			return fmt.Errorf("%w: %s is not an allocatable", ErrNotFound, params.AllocatableID)
		}
		if err := alloc.SetClassification(cls); err != nil {
			return err
		}
		return alloc.SetHoldBackConflicts(params.Input.HoldBackConflicts)
	})
	if err != nil {
		return nil, err
	}
	return alloc, nil
}

// DeleteAllocatable removes an allocatable that no reservation or user
// refers to.
func (s *AllocatableService) DeleteAllocatable(ctx context.Context, principal Principal, id entity.ID) error {
	if s == nil {
		return fmt.Errorf("AllocatableService is nil")
	}
	if !principal.IsAdmin {
		return ErrUnauthorized
	}
	if id.Type != entity.TypeAllocatable {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	_, err := s.service.Transaction(ctx, principal.UserID, func(tx *Transaction) error {
		return s.service.Remove(tx, id)
	})
	return err
}

// ListAllocatables returns the allocatables ordered by id. A non-empty
// element key keeps only allocatables of that dynamic type.
func (s *AllocatableService) ListAllocatables(ctx context.Context, elementKey string) ([]*entity.Allocatable, error) {
	if s == nil {
		return nil, fmt.Errorf("AllocatableService is nil")
	}
	var out []*entity.Allocatable
	err := s.service.View(func(c *storage.LocalCache) error {
		var typeID entity.ID
		if elementKey != "" {
			dt, ok := c.DynamicType(elementKey)
			if !ok {
				return fmt.Errorf("%w: dynamic type %q", ErrNotFound, elementKey)
			}
			typeID = dt.ID()
		}
		for _, e := range c.Collection(entity.TypeAllocatable) {
			a := e.(*entity.Allocatable)
			if !typeID.IsZero() && (a.Classification() == nil || a.Classification().Type() != typeID) {
				continue
			}
			out = append(out, a)
		}
		return nil
	})
	return out, err
}

// buildClassification creates a classification of the dynamic type with the
// given element key and fills it with values. Problems are recorded in vErr
// under "type" and "values.<key>".
func buildClassification(c *storage.LocalCache, elementKey string, values map[string]any, vErr *ValidationError, kinds ...string) *entity.Classification {
	if elementKey == "" {
		vErr.add("type", "type is required")
		return nil
	}
	dt, ok := c.DynamicType(elementKey)
	if !ok {
		vErr.add("type", fmt.Sprintf("unknown type %q", elementKey))
		return nil
	}
	if len(kinds) > 0 && !slices.Contains(kinds, dt.ClassificationType()) {
		vErr.add("type", fmt.Sprintf("type %q classifies %s", elementKey, dt.ClassificationType()))
		return nil
	}

	cls := dt.NewClassification()
	for _, key := range slices.Sorted(maps.Keys(values)) {
		if err := cls.SetValue(key, values[key]); err != nil {
			vErr.add("values."+key, err.Error())
		}
	}
	dropped, err := cls.Normalize(dt, c)
	if err != nil {
		vErr.add("type", err.Error())
		return nil
	}
	for _, key := range dropped {
		vErr.add("values."+key, "value is outside the allowed categories")
	}
	for _, attr := range dt.Attributes() {
		if !attr.Optional && cls.Value(attr.Key) == nil {
			if _, reported := vErr.FieldErrors["values."+attr.Key]; !reported {
				vErr.add("values."+attr.Key, "value is required")
			}
		}
	}
	return cls
}
