package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"tradepost.app/internal/account"
	"tradepost.app/internal/auth"
	"tradepost.app/internal/cache"
	"tradepost.app/internal/catalog"
	"tradepost.app/internal/config"
	"tradepost.app/internal/httpapi"
	"tradepost.app/internal/ledger"
	"tradepost.app/internal/match"
	"tradepost.app/internal/migrate"
	"tradepost.app/internal/oauth"
	"tradepost.app/internal/payments"
	"tradepost.app/internal/store/pg"
	"tradepost.app/internal/subscription"
)

type stores struct {
	accounts account.Store
	catalog  catalog.Store
	orders   ledger.Store
	matches  match.Store
	pg       *pg.Store
}

// app is everything main starts and stops.
type app struct {
	api    *httpapi.API
	ready  httpapi.ReadyProbe
	cache  cache.Client
	stores stores
}

func (a *app) Close() error {
	var errs []error
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}
	if a.stores.pg != nil {
		errs = append(errs, a.stores.pg.Close())
	}
	return errors.Join(errs...)
}

func openStores(ctx context.Context, cfg config.Storage, log *zap.Logger) (stores, error) {
	if cfg.Driver == "memory" {
		log.Warn("using in-memory storage; data is lost on restart")
		return stores{
			accounts: account.NewInMemory(),
			catalog:  catalog.NewInMemory(),
			orders:   ledger.NewInMemory(),
			matches:  match.NewInMemory(),
		}, nil
	}
	db, err := pg.Open(cfg.DSN, pg.PoolConfig{
		MaxOpenConns: cfg.MaxOpenConns,
		MaxIdleConns: cfg.MaxIdleConns,
		ConnMaxIdle:  cfg.ConnMaxIdle,
	})
	if err != nil {
		return stores{}, fmt.Errorf("open postgres: %w", err)
	}
	if cfg.AutoMigrate {
		if err := migrate.NewManager(db.DB(), migrate.Migrations(), nil).Up(ctx); err != nil {
			_ = db.Close()
			return stores{}, fmt.Errorf("migrate: %w", err)
		}
		log.Info("migrations applied")
	}
	return stores{accounts: db, catalog: db, orders: db, matches: db, pg: db}, nil
}

func build(ctx context.Context, cfg config.Config, version string, log *zap.Logger) (*app, error) {
	codec, err := auth.NewCodec(cfg.Secrets.TokenSecret,
		auth.WithIssuer(cfg.Auth.Issuer),
		auth.WithTTL(cfg.Auth.TokenTTL),
	)
	if err != nil {
		return nil, err
	}
	verifier, err := payments.NewVerifier(cfg.Secrets.WebhookSecret)
	if err != nil {
		return nil, err
	}

	st, err := openStores(ctx, cfg.Storage, log)
	if err != nil {
		return nil, err
	}
	a := &app{stores: st}

	a.cache, err = cache.New(ctx, cache.Config{
		Driver:    cfg.Cache.Driver,
		RedisAddr: cfg.Cache.RedisAddr,
		RedisDB:   cfg.Cache.RedisDB,
		Password:  cfg.Cache.RedisPass,
		Prefix:    cfg.Cache.Prefix,
	})
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("cache: %w", err)
	}

	var gateway payments.Gateway
	if cfg.Secrets.GatewayAPIKey != "" {
		sg, err := payments.NewStripeGateway(cfg.Secrets.GatewayAPIKey)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		gateway = sg
	} else {
		log.Warn("payment gateway not configured; checkout and subscribe will fail")
	}

	var google *oauth.Google
	if cfg.Google.Enabled() {
		google = oauth.NewGoogle(cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.Google.RedirectURL)
	}

	orders := ledger.NewService(st.orders)
	a.ready = httpapi.ReadyProbe{Cache: a.cache}
	if st.pg != nil {
		a.ready.Store = st.pg
	}

	a.api = httpapi.New(httpapi.Deps{
		Codec:    codec,
		Accounts: account.NewService(st.accounts, codec),
		Catalog:  catalog.NewService(st.catalog),
		Matches:  match.NewRegistry(st.matches, st.catalog, st.accounts),
		Orders:   orders,
		Subscriptions: subscription.NewService(st.accounts, orders, gateway, a.cache, subscription.Config{
			SuccessURL: cfg.Payments.SuccessURL,
			CancelURL:  cfg.Payments.CancelURL,
			PriceID:    cfg.Payments.SubscriptionPriceID,
			Currency:   cfg.Payments.Currency,
			EventTTL:   cfg.Cache.EventTTL,
		}),
		Webhooks: verifier,
		Google:   google,
		Ready:    a.ready,
	}, httpapi.Options{
		Version:         version,
		AllowQueryToken: cfg.Auth.AllowQueryToken,
		CORSOrigins:     cfg.Server.CORSOrigins,
		RateLimitRPS:    cfg.Server.RateLimitRPS,
		RateLimitBurst:  cfg.Server.RateLimitBurst,
		SecureCookies:   cfg.Log.Env == "prod",
	})
	return a, nil
}
