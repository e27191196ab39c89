package authgin

import (
	"fmt"

	"github.com/gin-gonic/gin"
	core "github.com/open-rails/planauth/core"
)

// Auth binds a Guard to the named route requirements so handlers are mounted by route name.
type Auth struct {
	guard  *Guard
	routes core.Routes
}

func NewAuth(guard *Guard, routes core.Routes) *Auth {
	if routes == nil {
		routes = core.DefaultRoutes()
	}
	return &Auth{guard: guard, routes: routes}
}

// Route returns the guard for a named route. Unknown names panic at registration time,
// so a typo can never mount an unguarded handler.
func (a *Auth) Route(name string) gin.HandlerFunc {
	req, ok := a.routes[name]
	if !ok {
		panic(fmt.Sprintf("authgin: no requirement registered for route %q", name))
	}
	return a.guard.Require(req)
}

