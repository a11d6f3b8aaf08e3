package echoapi_test

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/trezcool/planner/apps/api/echo"
	"github.com/trezcool/planner/core/auth"
	testutil "github.com/trezcool/planner/tests/testutil"
)

func parseToken(t *testing.T, app *testApp, token string) *Claims {
	t.Helper()
	claims := new(Claims)
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(app.conf.SecretKey), nil
	})
	require.NoError(t, err)
	return claims
}

func Test_authApi_signIn(t *testing.T) {
	app := setup(t)
	path := "/v1/auth/signin"

	tests := []httpTest{
		{
			name:     "empty body",
			method:   http.MethodPost,
			path:     path,
			wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, map[string]string{"email": "this field is required", "credential": "this field is required"}),
		},
		{
			name:     "invalid email",
			method:   http.MethodPost,
			path:     path,
			body:     marshalObj(t, SignInRequest{Email: "nope", Credential: "x"}),
			wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, map[string]string{"email": "email must be a valid email address"}),
		},
		{
			name:     "unauthorized email",
			method:   http.MethodPost,
			path:     path,
			body:     marshalObj(t, SignInRequest{Email: "intruder@school.test", Credential: testutil.Credential}),
			wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, httpErr{Error: auth.ErrAuthenticationFailed.Error()}),
		},
		{
			name:     "wrong credential",
			method:   http.MethodPost,
			path:     path,
			body:     marshalObj(t, SignInRequest{Email: testutil.AuthorizedEmail, Credential: "wrong"}),
			wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, httpErr{Error: auth.ErrAuthenticationFailed.Error()}),
		},
	}
	runHTTPTests(t, app, tests)

	t.Run("valid credential", func(t *testing.T) {
		body := marshalObj(t, SignInRequest{Email: " Teacher@School.test ", Credential: testutil.Credential})
		req, rec := newRequest(http.MethodPost, path, body)
		app.do(req, rec)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp TokenResponse
		require.NoError(t, jsonUnmarshal(rec.Body.Bytes(), &resp))
		claims := parseToken(t, app, resp.Token)
		assert.Equal(t, testutil.AuthorizedEmail, claims.Email)
		assert.Equal(t, auth.MethodCredential, claims.Method)
		assert.Equal(t, app.authSvc.Current().SignedInAt.UnixNano(), claims.SignedInAt)
	})

	t.Run("credential sign-in disabled", func(t *testing.T) {
		app := setup(t)
		app.conf.AuthorizedCredential = ""
		body := marshalObj(t, SignInRequest{Email: testutil.AuthorizedEmail, Credential: testutil.Credential})
		req, rec := newRequest(http.MethodPost, path, body)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusForbidden,
			wantData: marshalObj(t, httpErr{Error: auth.ErrCredentialSignInDisabled.Error()}),
		}, app.do(req, rec))
	})
}

func Test_authApi_signInLink(t *testing.T) {
	app := setup(t)
	success := marshalObj(t, SuccessResponse{
		Success: "If the email address supplied is allowed to sign in, " +
			"an email will arrive in your inbox shortly with a sign-in link.",
	})

	tests := []httpTest{
		{
			name:     "invalid email",
			method:   http.MethodPost,
			path:     "/v1/auth/signin-link",
			body:     marshalObj(t, SignInLinkRequest{Email: "nope"}),
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "unauthorized email",
			method:   http.MethodPost,
			path:     "/v1/auth/signin-link",
			body:     marshalObj(t, SignInLinkRequest{Email: "intruder@school.test"}),
			wantCode: http.StatusOK,
			wantData: success,
		},
	}
	runHTTPTests(t, app, tests)
	assert.Empty(t, app.mailSvc.SentMessages())

	// send the link
	req, rec := newRequest(http.MethodPost, "/v1/auth/signin-link", marshalObj(t, SignInLinkRequest{Email: testutil.AuthorizedEmail}))
	checkCodeAndData(t, httpTest{wantCode: http.StatusOK, wantData: success}, app.do(req, rec))

	sent := app.mailSvc.SentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, testutil.AuthorizedEmail, sent[0].To[0].Address)
	data, ok := sent[0].TemplateData.(auth.SignInLinkData)
	require.True(t, ok)
	assert.Contains(t, sent[0].TextContent, data.Link)

	completePath := "/v1/auth/signin-link/complete"
	badTests := []httpTest{
		{
			name:     "missing link",
			method:   http.MethodPost,
			path:     completePath,
			body:     marshalObj(t, CompleteSignInLinkRequest{Email: testutil.AuthorizedEmail}),
			wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, map[string]string{"link": "this field is required"}),
		},
		{
			name:     "other email",
			method:   http.MethodPost,
			path:     completePath,
			body:     marshalObj(t, CompleteSignInLinkRequest{Email: "intruder@school.test", Link: data.Link}),
			wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, httpErr{Error: auth.ErrInvalidLink.Error()}),
		},
		{
			name:     "tampered link",
			method:   http.MethodPost,
			path:     completePath,
			body:     marshalObj(t, CompleteSignInLinkRequest{Email: testutil.AuthorizedEmail, Link: data.Link + "0"}),
			wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, httpErr{Error: auth.ErrInvalidToken.Error()}),
		},
	}
	runHTTPTests(t, app, badTests)

	// complete sign-in; the email is read from the link
	req, rec = newRequest(http.MethodPost, completePath, marshalObj(t, CompleteSignInLinkRequest{Link: data.Link}))
	app.do(req, rec)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp TokenResponse
	require.NoError(t, jsonUnmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, auth.MethodEmailLink, parseToken(t, app, resp.Token).Method)

	// links are single use
	req, rec = newRequest(http.MethodPost, completePath, marshalObj(t, CompleteSignInLinkRequest{Link: data.Link}))
	checkCodeAndData(t, httpTest{
		wantCode: http.StatusBadRequest,
		wantData: marshalObj(t, httpErr{Error: auth.ErrInvalidToken.Error()}),
	}, app.do(req, rec))

	// the new session is usable
	req, rec = newAuthRequest(http.MethodGet, "/v1/planner/status", resp.Token)
	assert.Equal(t, http.StatusOK, app.do(req, rec).Code)

	u, err := url.Parse(data.Link)
	require.NoError(t, err)
	assert.Equal(t, app.conf.FrontendBaseURL+"/finish-sign-in", u.Scheme+"://"+u.Host+u.Path)
}

func Test_authApi_session(t *testing.T) {
	app := setup(t)
	token := app.signIn(t)

	// refresh
	req, rec := newAuthRequest(http.MethodPost, "/v1/auth/token-refresh", token)
	app.do(req, rec)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp TokenResponse
	require.NoError(t, jsonUnmarshal(rec.Body.Bytes(), &resp))
	oldClaims, newClaims := parseToken(t, app, token), parseToken(t, app, resp.Token)
	assert.Equal(t, oldClaims.OrigIssuedAt, newClaims.OrigIssuedAt)
	assert.Equal(t, oldClaims.SignedInAt, newClaims.SignedInAt)

	// signing in again ends the previous session
	newToken := app.signIn(t)
	req, rec = newAuthRequest(http.MethodGet, "/v1/planner/classes", token)
	checkCodeAndData(t, httpTest{
		wantCode: http.StatusUnauthorized,
		wantData: marshalObj(t, httpErr{Error: "session ended, sign in again"}),
	}, app.do(req, rec))

	// sign out
	req, rec = newAuthRequest(http.MethodPost, "/v1/auth/signout", newToken)
	assert.Equal(t, http.StatusNoContent, app.do(req, rec).Code)
	assert.Nil(t, app.authSvc.Current())

	req, rec = newAuthRequest(http.MethodGet, "/v1/planner/classes", newToken)
	assert.Equal(t, http.StatusUnauthorized, app.do(req, rec).Code)

	tests := []httpTest{
		{
			name:     "no token",
			method:   http.MethodPost,
			path:     "/v1/auth/token-refresh",
			wantCode: http.StatusUnauthorized,
			wantData: marshalObj(t, errMissingToken),
		},
		{
			name:     "garbage token",
			method:   http.MethodPost,
			path:     "/v1/auth/signout",
			token:    "not.a.jwt",
			wantCode: http.StatusUnauthorized,
		},
	}
	runHTTPTests(t, app, tests)
}

func Test_authApi_refreshExpired(t *testing.T) {
	app := setup(t)
	p, err := app.authSvc.SignIn(context.Background(), testutil.AuthorizedEmail, testutil.Credential)
	require.NoError(t, err)

	origIat := time.Now().Add(-app.conf.Server.JWTRefreshExpirationDelta - time.Minute).Unix()
	token, err := GenerateToken(app.conf, NewClaims(app.conf, p, origIat))
	require.NoError(t, err)

	req, rec := newAuthRequest(http.MethodPost, "/v1/auth/token-refresh", token)
	checkCodeAndData(t, httpTest{
		wantCode: http.StatusForbidden,
		wantData: marshalObj(t, httpErr{Error: "refresh has expired"}),
	}, app.do(req, rec))
}

func Test_authApi_revokedEmail(t *testing.T) {
	app := setup(t)
	token := app.signIn(t)
	app.conf.AuthorizedEmail = "someone.else@school.test"

	req, rec := newAuthRequest(http.MethodGet, "/v1/planner/classes", token)
	checkCodeAndData(t, httpTest{
		wantCode: http.StatusForbidden,
		wantData: marshalObj(t, httpErr{Error: "permission denied"}),
	}, app.do(req, rec))
}
