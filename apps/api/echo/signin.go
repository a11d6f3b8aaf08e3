package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/planner/core"
	"github.com/trezcool/planner/core/auth"
)

type authApi struct {
	conf     *core.Config
	logger   core.Logger
	svc      *auth.Service
	validate *validator.Validate
}

func registerAuthAPI(g *echo.Group, jwt, session echo.MiddlewareFunc, deps ServerDeps) {
	api := authApi{
		conf:     deps.Conf,
		logger:   deps.Logger,
		svc:      deps.AuthSvc,
		validate: deps.Validate,
	}

	ag := g.Group("/auth")

	// un-authed endpoints
	// TODO: rate limit `/signin` & `/signin-link`
	ag.POST("/signin", api.signIn)
	ag.POST("/signin-link", api.sendSignInLink)
	ag.POST("/signin-link/complete", api.completeSignInLink)

	// authed endpoints
	sg := ag.Group("", jwt, session)
	sg.POST("/token-refresh", api.refreshToken)
	sg.POST("/signout", api.signOut)
}

// Handlers

func (api *authApi) signIn(ctx echo.Context) error {
	var data SignInRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SignInRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	p, err := api.svc.SignIn(ctx.Request().Context(), data.Email, data.Credential)
	if err != nil {
		return errors.Wrap(err, "signing in")
	}
	return api.respondWithToken(ctx, p)
}

func (api *authApi) sendSignInLink(ctx echo.Context) error {
	var data SignInLinkRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SignInLinkRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	if err := api.svc.SendSignInLink(ctx.Request().Context(), data.Email); err != nil {
		// do not tell attackers which email is authorized
		if errors.Cause(err) == auth.ErrUnauthorizedEmail {
			api.logger.Warn("sign-in link requested for an unauthorized email", map[string]interface{}{"email": data.Email})
		} else {
			api.logger.Error("sending sign-in link", errors.Wrap(err, "sending sign-in link"))
		}
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{
		Success: "If the email address supplied is allowed to sign in, " +
			"an email will arrive in your inbox shortly with a sign-in link.",
	})
}

func (api *authApi) completeSignInLink(ctx echo.Context) error {
	var data CompleteSignInLinkRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to CompleteSignInLinkRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	p, err := api.svc.CompleteSignInFromLink(ctx.Request().Context(), data.Email, data.Link)
	if err != nil {
		return errors.Wrap(err, "completing sign-in from link")
	}
	return api.respondWithToken(ctx, p)
}

func (api *authApi) refreshToken(ctx echo.Context) error {
	token, err := refreshToken(ctx, api.conf)
	if err != nil {
		return errors.Wrap(err, "refreshing token")
	}
	return ctx.JSON(http.StatusOK, TokenResponse{Token: token})
}

func (api *authApi) signOut(ctx echo.Context) error {
	api.svc.SignOut(ctx.Request().Context())
	return ctx.NoContent(http.StatusNoContent)
}

func (api *authApi) respondWithToken(ctx echo.Context, p auth.Principal) error {
	token, err := GenerateToken(api.conf, NewClaims(api.conf, p))
	if err != nil {
		return errors.Wrap(err, "generating token")
	}
	return ctx.JSON(http.StatusOK, TokenResponse{Token: token})
}
