package di

import (
	"fmt"

	"startline/internal/client"
	"startline/internal/gateway"
	"startline/internal/handler"
	"startline/internal/pricing"
	"startline/internal/repository"
	"startline/internal/service"
	"startline/pkg/config"
	"startline/pkg/database"
	"startline/pkg/middleware"
	"startline/pkg/redis"
)

// Container holds all dependencies for the registration cart service
type Container struct {
	// Infrastructure
	DB    *database.PostgresDB
	Redis *redis.Client

	// Repositories
	CartRepo    repository.CartRepository
	CatalogRepo repository.CatalogRepository
	Ledger      repository.InventoryLedger

	// Publishers
	EventPublisher service.EventPublisher

	// Clients and gateways
	PaymentGateway     gateway.PaymentGateway
	RegistrationClient client.RegistrationClient
	LicenseVerifier    client.LicenseVerifier

	// Services
	PricingEngine   *pricing.Engine
	CartService     service.CartService
	CheckoutService service.CheckoutService
	RaceService     service.RaceService

	// Sessions
	SessionManager *middleware.SessionManager

	// Handlers
	HealthHandler *handler.HealthHandler
	CartHandler   *handler.CartHandler
	RaceHandler   *handler.RaceHandler
	AdminHandler  *handler.AdminHandler
}

// ContainerConfig contains configuration for building the container
type ContainerConfig struct {
	Config         *config.Config
	DB             *database.PostgresDB
	Redis          *redis.Client
	EventPublisher service.EventPublisher
}

// NewContainer creates a new dependency injection container
func NewContainer(cfg *ContainerConfig) (*Container, error) {
	c := &Container{
		DB:             cfg.DB,
		Redis:          cfg.Redis,
		EventPublisher: cfg.EventPublisher,
	}
	conf := cfg.Config

	// Repositories
	c.CartRepo = repository.NewPostgresCartRepository(cfg.DB.Pool())
	c.CatalogRepo = repository.NewPostgresCatalogRepository(cfg.DB.Pool())
	c.Ledger = repository.NewRedisLedger(cfg.Redis)

	// Payment gateway
	paymentGateway, err := buildPaymentGateway(conf)
	if err != nil {
		return nil, err
	}
	c.PaymentGateway = paymentGateway

	// Downstream registration system
	c.RegistrationClient = client.NewHTTPRegistrationClient(
		conf.Registration.BaseURL,
		conf.Registration.Timeout,
	)
	if conf.Registration.LicenseBaseURL != "" {
		c.LicenseVerifier = client.NewHTTPLicenseVerifier(
			conf.Registration.LicenseBaseURL,
			conf.Registration.LicenseCacheTTL,
		)
	} else {
		c.LicenseVerifier = &client.StaticLicenseVerifier{}
	}

	// Services
	c.PricingEngine = pricing.NewEngine(c.CatalogRepo)
	c.CartService = service.NewCartService(
		c.CartRepo,
		c.CatalogRepo,
		c.Ledger,
		c.PricingEngine,
		c.LicenseVerifier,
		c.EventPublisher,
		&service.CartServiceConfig{
			HoldDuration: conf.Cart.HoldDuration,
			MaxItems:     conf.Cart.MaxItems,
			Currency:     conf.Payment.Currency,
		},
	)
	c.CheckoutService = service.NewCheckoutService(
		c.CartRepo,
		c.CatalogRepo,
		c.Ledger,
		c.PaymentGateway,
		c.RegistrationClient,
		c.EventPublisher,
		nil,
	)
	c.RaceService = service.NewRaceService(c.CatalogRepo, c.Ledger)

	// Sessions
	c.SessionManager = middleware.NewSessionManager(&middleware.SessionConfig{
		Secret:   conf.JWT.Secret,
		TokenTTL: conf.JWT.TokenTTL,
		Issuer:   conf.JWT.Issuer,
	})

	// Handlers
	c.HealthHandler = handler.NewHealthHandler(c.DB, c.Redis)
	c.CartHandler = handler.NewCartHandler(c.CartService, c.CheckoutService, c.SessionManager)
	c.RaceHandler = handler.NewRaceHandler(c.RaceService)
	c.AdminHandler = handler.NewAdminHandler(c.RaceService, c.CartService)

	return c, nil
}

func buildPaymentGateway(conf *config.Config) (gateway.PaymentGateway, error) {
	switch conf.Payment.Gateway {
	case "stripe":
		return gateway.NewStripeGateway(&gateway.StripeGatewayConfig{
			SecretKey:   conf.Payment.StripeKey,
			Environment: conf.App.Environment,
		})
	case "mock", "":
		return gateway.NewMockGateway(&gateway.MockGatewayConfig{
			SuccessRate: float64(conf.Payment.MockSuccess) / 100.0,
			DelayMs:     10,
		}), nil
	default:
		return nil, fmt.Errorf("unknown payment gateway: %s", conf.Payment.Gateway)
	}
}
