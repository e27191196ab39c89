// Command planclient exercises the plan API as a workload identity. Each call's outcome is
// logged; a failed call does not stop the run.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/open-rails/planauth/client"
	core "github.com/open-rails/planauth/core"
	oidckit "github.com/open-rails/planauth/oidc"
	memorystore "github.com/open-rails/planauth/storage/memory"
	redisstore "github.com/open-rails/planauth/storage/redis"
	"github.com/sirupsen/logrus"
)

type apiCall struct {
	name string
	fn   func(context.Context) (map[string]any, error)
}

func main() {
	cfg := core.ClientConfigFromEnv()
	if err := core.ConfigureLogging(cfg.LogLevel, cfg.LogFormat); err != nil {
		fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		fatal(err)
	}

	kv, store, closeKV, err := tokenCache(cfg)
	if err != nil {
		fatal(err)
	}
	defer closeKV()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	hc := &http.Client{Timeout: cfg.HTTPTimeout}
	fetcher := client.NewFetcher(ctx, cfg, hc, oidckit.NewManager(hc))
	c := client.New(cfg.BaseURL, cfg.Scope, client.NewAcquirer(fetcher, kv, cfg.ExpiryBuffer), hc)

	log := logrus.WithFields(logrus.Fields{"base_url": cfg.BaseURL, "credential": cfg.Credential, "token_cache": store})
	log.Info("planclient_start")

	calls := []apiCall{
		{"health", c.Health},
		{"list_plans", c.ListPlans},
		{"create_plan", func(ctx context.Context) (map[string]any, error) { return c.CreatePlan(ctx, "Client Plan") }},
		{"list_accounts", c.ListAccounts},
		{"update_account_settings", func(ctx context.Context) (map[string]any, error) {
			return c.UpdateAccountSettings(ctx, 1, map[string]any{"notifications": true, "theme": "dark"})
		}},
	}
	if cfg.Credential == core.CredentialManagedIdentity {
		calls = append(calls, apiCall{"permissions", c.Permissions})
	}

	failed := 0
	for _, call := range calls {
		out, err := call.fn(ctx)
		if err != nil {
			failed++
			log.WithError(err).WithField("call", call.name).Error("call_failed")
			continue
		}
		log.WithFields(logrus.Fields{"call": call.name, "response": out}).Info("call_ok")
	}
	log.WithFields(logrus.Fields{"calls": len(calls), "failed": failed}).Info("planclient_done")
}

// tokenCache shares tokens through Redis when REDIS_URL is set, otherwise keeps them in process.
func tokenCache(cfg core.ClientConfig) (core.KV, core.StoreMode, func(), error) {
	if cfg.RedisURL == "" {
		return memorystore.NewKV(), core.StoreMemory, func() {}, nil
	}
	kv, err := redisstore.NewKVFromURL(cfg.RedisURL)
	if err != nil {
		return nil, "", nil, fmt.Errorf("redis: %w", err)
	}
	return kv, core.StoreRedis, func() { _ = kv.Close() }, nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(1)
}
