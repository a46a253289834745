package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/motomarket/api/internal/platform/config"
	"github.com/motomarket/api/internal/repositories"
	"github.com/motomarket/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Catalog services.CatalogService
	Orders  services.OrderService
	Reviews services.ReviewService
	Users   services.UserService
	System  services.SystemService
}

// Collaborators carries optional infrastructure shared across services.
type Collaborators struct {
	Events    services.OrderEventPublisher
	Metrics   services.OrderMetrics
	Logger    func(ctx context.Context, event string, fields map[string]any)
	Clock     func() time.Time
	StartedAt time.Time
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring passes the Postgres
// registry while tests can supply the in-memory store.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, collab Collaborators) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, reg, cfg, collab)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, collab Collaborators) (Services, error) {
	var svc Services

	clock := collab.Clock
	if clock == nil {
		clock = time.Now
	}
	startedAt := collab.StartedAt
	if startedAt.IsZero() {
		startedAt = clock().UTC()
	}

	catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
		Products:   reg.Products(),
		Categories: reg.Categories(),
		UnitOfWork: reg,
		Logger:     collab.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}
	svc.Catalog = catalogSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:     reg.Orders(),
		Products:   reg.Products(),
		Users:      reg.Users(),
		UnitOfWork: reg,
		Clock:      clock,
		Events:     collab.Events,
		Metrics:    collab.Metrics,
		Logger:     collab.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	reviewSvc, err := services.NewReviewService(services.ReviewServiceDeps{
		Reviews:  reg.Reviews(),
		Products: reg.Products(),
		Clock:    clock,
		Logger:   collab.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build review service: %w", err)
	}
	svc.Reviews = reviewSvc

	userSvc, err := services.NewUserService(services.UserServiceDeps{Users: reg.Users()})
	if err != nil {
		return Services{}, fmt.Errorf("build user service: %w", err)
	}
	svc.Users = userSvc

	if healthRepo := reg.Health(); healthRepo != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            clock,
			Build: services.BuildInfo{
				Version:     cfg.Build.Version,
				CommitSHA:   cfg.Build.CommitSHA,
				Environment: cfg.Build.Environment,
				StartedAt:   startedAt,
			},
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
