package authgin

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/open-rails/planauth/adapters/gin/handlers"
	"github.com/open-rails/planauth/adapters/ginutil"
	"github.com/open-rails/planauth/authz"
	core "github.com/open-rails/planauth/core"
)

// Service mounts the plans and accounts API behind a Guard.
type Service struct {
	mode core.AuthMode
	auth *Auth
	pdp  authz.PolicyChecker
}

// NewService wires the API for mode. routes may be nil for the built-in requirements.
func NewService(mode core.AuthMode, guard *Guard, routes core.Routes) *Service {
	return &Service{mode: mode, auth: NewAuth(guard, routes)}
}

// WithPolicy sets the PDP used for permission listings and per-account re-checks.
func (s *Service) WithPolicy(pdp authz.PolicyChecker) *Service { s.pdp = pdp; return s }

func (s *Service) Mode() core.AuthMode { return s.mode }
func (s *Service) Auth() *Auth         { return s.auth }

// GinRegisterHealth mounts GET /health (unauthenticated).
func (s *Service) GinRegisterHealth(root gin.IRouter) *Service {
	root.GET("/health", handlers.HandleHealthGET(s.mode))
	return s
}

// GinRegisterAPI mounts the protected endpoints on api (normally a "/api" group).
func (s *Service) GinRegisterAPI(api gin.IRouter) *Service {
	a := s.auth
	api.GET("/plans", a.Route(core.RoutePlansList), handlers.HandlePlansGET(s.mode, s.pdp))
	api.POST("/plans", a.Route(core.RoutePlansCreate), handlers.HandlePlansPOST(s.mode))
	api.GET("/accounts", a.Route(core.RouteAccountsList), handlers.HandleAccountsGET(s.mode))
	api.PUT("/accounts/:id/settings", ginutil.RequireUintParam("id"), a.Route(core.RouteAccountsSettings),
		handlers.HandleAccountSettingsPUT(s.mode, s.pdp))

	if s.mode == core.ModePolicy {
		api.GET("/user/permissions", a.Route(core.RouteUserPermissions), handlers.HandleUserPermissionsGET(s.pdp))
	}
	return s
}

// RegisterGin mounts /health and the API under /api.
func (s *Service) RegisterGin(r gin.IRouter) *Service {
	return s.GinRegisterHealth(r).GinRegisterAPI(r.Group("/api"))
}

// NewEngine builds a gin engine with recovery, request ids and request logging, and
// mounts the service on it.
func NewEngine(s *Service) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), RequestLogger())
	r.HandleMethodNotAllowed = true
	r.NoRoute(func(c *gin.Context) { ginutil.NotFound(c, "not_found") })
	r.NoMethod(func(c *gin.Context) { ginutil.SendErr(c, http.StatusMethodNotAllowed, "method_not_allowed") })
	s.RegisterGin(r)
	return r
}
