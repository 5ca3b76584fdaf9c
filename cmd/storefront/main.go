package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"

	"github.com/gbdelivering/storefront/internal/address"
	"github.com/gbdelivering/storefront/internal/auth"
	"github.com/gbdelivering/storefront/internal/cart"
	"github.com/gbdelivering/storefront/internal/catalog"
	"github.com/gbdelivering/storefront/internal/checkout"
	"github.com/gbdelivering/storefront/internal/gateway"
	"github.com/gbdelivering/storefront/internal/session"
	"github.com/gbdelivering/storefront/pkg/config"
	"github.com/gbdelivering/storefront/pkg/logger"
	"github.com/gbdelivering/storefront/pkg/metrics"
)

const usage = `usage: storefront <command> [args]

commands:
  login <username> <password>
  register <first> <last> <email> <phone> <username> <password>
  logout
  products [page]
  search <term> [page]
  cart
  add <product-id> <unit-price> <quantity>
  remove <cart-item-id>
  clear
  address <province> <district> <sector> [street]
  checkout [description]
  checkout-card [description]
`

type app struct {
	cfg      *config.Config
	logger   *logger.Logger
	sessions *session.Store
	redis    *redis.Client
	catalog  *catalog.Service
	cart     *cart.Manager
	checkout *checkout.Orchestrator
	auth     *auth.Service
	address  *address.Service
}

func main() {
	logg := logger.New(logger.Options{ServiceName: "storefront"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "storefront",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	application, cleanup, err := bootstrap(cfg, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap", err)
		os.Exit(1)
	}
	defer func() {
		if err := cleanup(); err != nil {
			logg.Error(context.Background(), "error during shutdown", err)
		}
	}()

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if err := application.dispatch(context.Background(), os.Args[1], os.Args[2:]); err != nil {
		logg.Error(context.Background(), fmt.Sprintf("%s failed", os.Args[1]), err)
		os.Exit(1)
	}
}

func bootstrap(cfg *config.Config, logg *logger.Logger) (*app, func() error, error) {
	sessions, err := session.Open(cfg.Session.DBPath)
	if err != nil {
		return nil, nil, err
	}

	var redisClient *redis.Client
	if cfg.Cache.Enabled() {
		opts, err := redis.ParseURL(cfg.Cache.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing redis url: %w", err)
		}
		redisClient = redis.NewClient(opts)
	}

	cleanup := func() error {
		var errs error
		if redisClient != nil {
			errs = multierr.Append(errs, redisClient.Close())
		}
		errs = multierr.Append(errs, sessions.Close())
		return errs
	}

	gatewayMetrics := metrics.NewGatewayMetrics(prometheus.DefaultRegisterer)
	client, err := gateway.NewClient(cfg.Gateway, logg, gateway.WithMetrics(gatewayMetrics))
	if err != nil {
		return nil, nil, multierr.Append(err, cleanup())
	}

	catalogService, err := catalog.NewService(client, catalog.NewImageCache(redisClient, cfg.Cache.ImageTTL), logg)
	if err != nil {
		return nil, nil, multierr.Append(err, cleanup())
	}

	cartManager, err := cart.NewManager(client, sessions, catalogService, logg)
	if err != nil {
		return nil, nil, multierr.Append(err, cleanup())
	}

	orchestrator, err := checkout.NewOrchestrator(client, cartManager, cfg.Checkout, logg)
	if err != nil {
		return nil, nil, multierr.Append(err, cleanup())
	}

	authService, err := auth.NewService(client, sessions, cartManager, logg)
	if err != nil {
		return nil, nil, multierr.Append(err, cleanup())
	}

	addressService, err := address.NewService(client, sessions, logg)
	if err != nil {
		return nil, nil, multierr.Append(err, cleanup())
	}

	return &app{
		cfg:      cfg,
		logger:   logg,
		sessions: sessions,
		redis:    redisClient,
		catalog:  catalogService,
		cart:     cartManager,
		checkout: orchestrator,
		auth:     authService,
		address:  addressService,
	}, cleanup, nil
}

func (a *app) dispatch(ctx context.Context, command string, args []string) error {
	if err := a.cart.LoadSession(ctx); err != nil {
		return err
	}

	switch command {
	case "login":
		return a.runLogin(ctx, args)
	case "register":
		return a.runRegister(ctx, args)
	case "logout":
		return a.auth.Logout(ctx)
	case "products":
		return a.runProducts(ctx, args)
	case "search":
		return a.runSearch(ctx, args)
	case "cart":
		return a.runCart(ctx)
	case "add":
		return a.runAdd(ctx, args)
	case "remove":
		return a.runRemove(ctx, args)
	case "clear":
		return a.cart.ClearCart(ctx)
	case "address":
		return a.runAddress(ctx, args)
	case "checkout":
		return a.runCheckout(ctx, args)
	case "checkout-card":
		return a.runCheckoutCard(ctx, args)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

func (a *app) runLogin(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: login <username> <password>")
	}
	record, err := a.auth.Login(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Printf("logged in as %s %s (user %s)\n", record.FirstName, record.LastName, record.UserID)
	return nil
}

func (a *app) runRegister(ctx context.Context, args []string) error {
	if len(args) != 6 {
		return fmt.Errorf("usage: register <first> <last> <email> <phone> <username> <password>")
	}
	err := a.auth.Register(ctx, gateway.RegistrationInput{
		FirstName: args[0],
		LastName:  args[1],
		Email:     args[2],
		Phone:     args[3],
		Username:  args[4],
		Password:  args[5],
	})
	if err != nil {
		return err
	}
	fmt.Println("account created, log in to continue")
	return nil
}

func (a *app) runProducts(ctx context.Context, args []string) error {
	page, err := pageArg(args, 0)
	if err != nil {
		return err
	}
	products, err := a.catalog.ListProducts(ctx, page)
	if err != nil {
		return err
	}
	a.printProducts(ctx, products)
	return nil
}

func (a *app) runSearch(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: search <term> [page]")
	}
	page, err := pageArg(args, 1)
	if err != nil {
		return err
	}
	products, err := a.catalog.SearchProducts(ctx, args[0], page)
	if err != nil {
		return err
	}
	a.printProducts(ctx, products)
	return nil
}

func (a *app) printProducts(ctx context.Context, products []gateway.Product) {
	for _, product := range products {
		stock := "in stock"
		if !product.InStock() {
			stock = "out of stock"
		}
		fmt.Printf("%s\t%s\t%s\t%s\t%s\n",
			product.ID, product.Name, product.Price.String(), stock, a.catalog.FetchImage(ctx, product.ID))
	}
}

func (a *app) runCart(ctx context.Context) error {
	a.cart.FetchCart(ctx)
	for _, line := range a.cart.Items() {
		fmt.Printf("%s\t%s\tx%s\t%s\n", line.ItemID, line.Name, line.Quantity.String(), line.LineTotal().String())
	}
	fmt.Printf("total\t%s\n", a.cart.Total().String())
	return nil
}

func (a *app) runAdd(ctx context.Context, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: add <product-id> <unit-price> <quantity>")
	}
	price, err := decimal.NewFromString(args[1])
	if err != nil {
		return fmt.Errorf("parsing unit price: %w", err)
	}
	quantity, err := decimal.NewFromString(args[2])
	if err != nil {
		return fmt.Errorf("parsing quantity: %w", err)
	}
	if err := a.cart.AddToCart(ctx, args[0], price, quantity); err != nil {
		return err
	}
	return a.runCart(ctx)
}

func (a *app) runRemove(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: remove <cart-item-id>")
	}
	if err := a.cart.RemoveFromCart(ctx, args[0]); err != nil {
		return err
	}
	return a.runCart(ctx)
}

func (a *app) runAddress(ctx context.Context, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: address <province> <district> <sector> [street]")
	}
	record, err := a.sessions.Load(ctx)
	if err != nil {
		return err
	}
	input := gateway.AddressInput{
		UserID:   record.UserID,
		Province: args[0],
		District: args[1],
		Sector:   args[2],
	}
	if len(args) > 3 {
		input.Street = strings.Join(args[3:], " ")
	}
	addressID, err := a.address.Save(ctx, input)
	if err != nil {
		return err
	}
	fmt.Printf("address %s saved\n", addressID)
	return nil
}

func (a *app) runCheckout(ctx context.Context, args []string) error {
	record, err := a.sessions.Load(ctx)
	if err != nil {
		return err
	}
	a.cart.FetchCart(ctx)
	total := a.cart.Total()
	if !total.IsPositive() {
		return fmt.Errorf("cart is empty")
	}

	done := make(chan checkout.State, 1)
	a.checkout.OnTransition(func(state checkout.State, message string) {
		fmt.Printf("[%s] %s\n", state.Phase, message)
		if state.Phase.Terminal() {
			done <- state
		}
	})

	err = a.checkout.Start(ctx, checkout.Input{
		UserID:      record.UserID,
		Phone:       record.Phone,
		Description: strings.Join(args, " "),
		Amount:      total,
	})
	if err != nil {
		return err
	}

	final := <-done
	if final.Phase == checkout.PhaseFailed {
		return fmt.Errorf("checkout failed: %s", final.Reason)
	}
	fmt.Printf("order %s paid, total %s\n", final.OrderID, total.String())
	return nil
}

func (a *app) runCheckoutCard(ctx context.Context, args []string) error {
	record, err := a.sessions.Load(ctx)
	if err != nil {
		return err
	}
	if !record.HasAddress() {
		return fmt.Errorf("save a delivery address before card checkout")
	}
	a.cart.FetchCart(ctx)
	total := a.cart.Total()
	if !total.IsPositive() {
		return fmt.Errorf("cart is empty")
	}

	addr := record.Address()
	pageURL, err := a.checkout.StartCardPayment(ctx, checkout.CardInput{
		UserID:           record.UserID,
		FirstName:        record.FirstName,
		LastName:         record.LastName,
		Email:            record.Email,
		Phone:            record.Phone,
		Province:         addr.Province,
		District:         addr.District,
		Sector:           addr.Sector,
		Cell:             addr.Cell,
		Village:          addr.Village,
		Street:           addr.Street,
		DescribedAddress: addr.DescribedAddress,
		Description:      strings.Join(args, " "),
		Amount:           total,
	})
	if err != nil {
		return err
	}
	fmt.Printf("complete the payment at: %s\n", pageURL)
	return nil
}

func pageArg(args []string, index int) (int, error) {
	if len(args) <= index {
		return 1, nil
	}
	page, err := strconv.Atoi(args[index])
	if err != nil {
		return 0, fmt.Errorf("parsing page number: %w", err)
	}
	return page, nil
}
