package tenant

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Store is the settings persistence.
type Store interface {
	Get(ctx context.Context, tenantID int64) (Settings, error)
	Save(ctx context.Context, s Settings) error
}

// Service serves tenant settings through the cache.
type Service struct {
	store    Store
	cache    *Cache
	validate *validator.Validate
}

// NewService wires the settings service. cache may be nil.
func NewService(store Store, cache *Cache) *Service {
	return &Service{store: store, cache: cache, validate: validator.New()}
}

// Settings returns the tenant settings.
func (s *Service) Settings(ctx context.Context, tenantID int64) (Settings, error) {
	key, err := s.cache.BuildKey(ctx, tenantID)
	if err != nil {
		return Settings{}, fmt.Errorf("tenant cache key: %w", err)
	}
	var out Settings
	err = s.cache.FetchJSON(ctx, key, &out, func(ctx context.Context) (any, error) {
		return s.store.Get(ctx, tenantID)
	})
	if err != nil {
		return Settings{}, err
	}
	return out, nil
}

// Update validates and stores settings, then invalidates the cache.
func (s *Service) Update(ctx context.Context, settings Settings) error {
	if err := s.validate.Struct(settings); err != nil {
		return err
	}
	if _, err := settings.Policy(); err != nil {
		return err
	}
	if err := s.store.Save(ctx, settings); err != nil {
		return err
	}
	return s.cache.Bump(ctx, settings.TenantID)
}
