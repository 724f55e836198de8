// Package ingest implements the server-side state machine that turns a
// POST /postfix/email followed by its POST /postfix/attachment requests
// into policy-checked, quota-accounted, uploaded messages.
package ingest

import (
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/aksiksi/vaulty/internal/policystore"
	"github.com/aksiksi/vaulty/internal/sessioncache"
	"github.com/aksiksi/vaulty/internal/storage"
)

// Controller holds the dependencies every ingestion handler closes over.
type Controller struct {
	Store    policystore.Store
	Cache    *sessioncache.Cache
	Registry *storage.Registry
	Logger   *slog.Logger

	validate *validator.Validate
}

// NewController builds a Controller over its dependencies.
func NewController(store policystore.Store, cache *sessioncache.Cache, registry *storage.Registry, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		Store:    store,
		Cache:    cache,
		Registry: registry,
		Logger:   logger,
		validate: validator.New(),
	}
}
