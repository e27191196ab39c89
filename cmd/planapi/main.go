// Command planapi serves the plan API behind token validation and per-route authorization.
//
//	planapi [serve]   run the HTTP server (default)
//	planapi routes    print the resolved route requirements as YAML
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	authgin "github.com/open-rails/planauth/adapters/gin"
	"github.com/open-rails/planauth/authz"
	core "github.com/open-rails/planauth/core"
	jwtkit "github.com/open-rails/planauth/jwt"
	oidckit "github.com/open-rails/planauth/oidc"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

func main() {
	cfg := core.ServerConfigFromEnv()
	if err := core.ConfigureLogging(cfg.LogLevel, cfg.LogFormat); err != nil {
		fatal(err)
	}

	cmd := "serve"
	if len(os.Args) > 1 && strings.TrimSpace(os.Args[1]) != "" {
		cmd = strings.TrimSpace(os.Args[1])
	}

	switch cmd {
	case "serve":
		if err := runServe(cfg); err != nil {
			fatal(err)
		}
	case "routes":
		if err := runRoutes(cfg, os.Stdout); err != nil {
			fatal(err)
		}
	default:
		fatal(fmt.Errorf("unknown command %q (supported: serve, routes)", cmd))
	}
}

func runServe(cfg core.ServerConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	routes, err := core.LoadRoutes(cfg.RoutesFile)
	if err != nil {
		return err
	}

	hc := &http.Client{Timeout: core.DefaultHTTPTimeout}
	jwksURL := cfg.JWKSURL
	if cfg.Discovery && jwksURL == "" {
		// Discovery is bounded by hc's timeout.
		jwksURL, err = oidckit.NewManager(hc).JWKSURL(context.Background(), core.DiscoveryIssuerFor(cfg.AuthorityHost, cfg.TenantID))
		if err != nil {
			// The conventional keys URL still works for the common case.
			logrus.WithError(err).Warn("jwks_discovery_failed")
			jwksURL = ""
		}
	}
	vcfg := cfg.ValidatorConfig(jwksURL)
	vcfg.HTTPClient = hc
	validator := jwtkit.NewValidator(vcfg)

	// Config reports the settings after defaults are applied.
	applied := validator.Config()
	fields := logrus.Fields{
		"addr":          cfg.ListenAddr,
		"mode":          cfg.Mode,
		"issuer":        applied.Issuer,
		"audience":      applied.Audience,
		"jwks_url":      applied.JWKSURL,
		"algorithms":    applied.Algorithms,
		"key_cache_ttl": applied.CacheTTL.String(),
	}

	var svc *authgin.Service
	switch cfg.Mode {
	case core.ModePolicy:
		pdp := authz.NewPolicyClient(cfg.PolicyEndpoint, authz.StaticToken(cfg.PolicyToken)).WithTimeout(cfg.PolicyTimeout)
		fields["pdp_endpoint"] = pdp.Endpoint()
		svc = authgin.NewService(cfg.Mode, authgin.NewGuard(validator, authz.NewPolicyDecider(pdp)), routes).WithPolicy(pdp)
	default:
		svc = authgin.NewService(cfg.Mode, authgin.NewGuard(validator, authz.NewRoleDecider()), routes)
	}

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           authgin.NewEngine(svc),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- server.ListenAndServe() }()
	logrus.WithFields(fields).Info("planapi_listening")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errc:
		return err
	case s := <-sig:
		logrus.WithField("signal", s.String()).Info("planapi_shutting_down")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

// runRoutes needs no tenant or credentials; it only resolves the route table.
func runRoutes(cfg core.ServerConfig, w io.Writer) error {
	routes, err := core.LoadRoutes(cfg.RoutesFile)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(map[string]core.Routes{"routes": routes})
}

func fatal(err error) {
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		os.Exit(0)
	}
	fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(1)
}
