package auth

import (
	"context"
	"errors"
	"log"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/planner/core"
	inmemkv "github.com/trezcool/planner/storage/inmem"
)

const (
	authorizedEmail = "teacher@school.test"
	credential      = "Ch@lkb0ard-42"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Fatal(msg string, _ ...interface{}) {
	log.Fatal(msg)
}

type outbox struct {
	mu       sync.Mutex
	messages []*core.EmailMessage
}

func (o *outbox) SendMessages(messages ...*core.EmailMessage) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.messages = append(o.messages, messages...)
}

func newTestService(t *testing.T, withCredential bool) (*Service, *outbox) {
	t.Helper()
	return newTestServiceOn(t, inmemkv.Open(), withCredential)
}

// newTestServiceOn returns a service keeping its sign-in stamp in kv, as another process sharing the storage would.
func newTestServiceOn(t *testing.T, kv core.KeyValueStore, withCredential bool) (*Service, *outbox) {
	t.Helper()
	conf := &core.Config{
		AppName:                "Planner",
		SecretKey:              "secret",
		FrontendBaseURL:        "http://planner.test",
		AuthorizedEmail:        authorizedEmail,
		SignInLinkTimeoutDelta: 30 * time.Minute,
	}
	if withCredential {
		hash, err := HashCredential(credential)
		require.NoError(t, err)
		conf.AuthorizedCredential = hash
	}
	box := new(outbox)
	return NewService(conf, kv, box, nopLogger{}), box
}

func TestService_IsAuthorized(t *testing.T) {
	svc, _ := newTestService(t, false)

	assert.True(t, svc.IsAuthorized(authorizedEmail))
	assert.True(t, svc.IsAuthorized("  Teacher@School.TEST "))
	assert.False(t, svc.IsAuthorized("other@school.test"))
	assert.False(t, svc.IsAuthorized(""))

	svc.conf.AuthorizedEmail = ""
	assert.False(t, svc.IsAuthorized(""))
}

func TestService_SendSignInLink(t *testing.T) {
	ctx := context.Background()
	svc, box := newTestService(t, false)

	err := svc.SendSignInLink(ctx, "intruder@school.test")
	assert.Equal(t, ErrUnauthorizedEmail, err)
	assert.Empty(t, box.messages)

	require.NoError(t, svc.SendSignInLink(ctx, " TEACHER@school.test"))
	require.Len(t, box.messages, 1)
	msg := box.messages[0]
	assert.Equal(t, authorizedEmail, msg.To[0].Address)
	assert.Equal(t, "sign_in_link", msg.TemplateName)

	data, ok := msg.TemplateData.(SignInLinkData)
	require.True(t, ok)
	u, err := url.Parse(data.Link)
	require.NoError(t, err)
	assert.Equal(t, "/finish-sign-in", u.Path)
	assert.Equal(t, authorizedEmail, u.Query().Get("email"))
	assert.NotEmpty(t, u.Query().Get("token"))
	assert.Equal(t, "30m0s", data.ExpiresIn)
}

func TestService_CompleteSignInFromLink(t *testing.T) {
	ctx := context.Background()

	t.Run("signs in once", func(t *testing.T) {
		svc, _ := newTestService(t, false)
		var events []*Principal
		svc.OnAuthStateChanged(func(p *Principal) { events = append(events, p) })

		link, err := svc.SignInLink(ctx, authorizedEmail)
		require.NoError(t, err)

		p, err := svc.CompleteSignInFromLink(ctx, authorizedEmail, link)
		require.NoError(t, err)
		assert.Equal(t, authorizedEmail, p.Email)
		assert.Equal(t, MethodEmailLink, p.Method)
		assert.Equal(t, &p, svc.Current())
		require.Len(t, events, 1)
		assert.Equal(t, p, *events[0])

		// single use
		_, err = svc.CompleteSignInFromLink(ctx, authorizedEmail, link)
		assert.Equal(t, ErrInvalidToken, err)
	})

	t.Run("email taken from link", func(t *testing.T) {
		svc, _ := newTestService(t, false)
		link, err := svc.SignInLink(ctx, authorizedEmail)
		require.NoError(t, err)

		p, err := svc.CompleteSignInFromLink(ctx, "", link)
		require.NoError(t, err)
		assert.Equal(t, authorizedEmail, p.Email)
	})

	t.Run("expired", func(t *testing.T) {
		svc, _ := newTestService(t, false)
		nowFunc = func() time.Time { return time.Now().Add(-time.Hour) }
		link, err := svc.SignInLink(ctx, authorizedEmail)
		nowFunc = time.Now // reset
		require.NoError(t, err)

		_, err = svc.CompleteSignInFromLink(ctx, authorizedEmail, link)
		assert.Equal(t, ErrTokenExpired, err)
		assert.Nil(t, svc.Current())
	})

	t.Run("rejected", func(t *testing.T) {
		svc, _ := newTestService(t, false)
		link, err := svc.SignInLink(ctx, authorizedEmail)
		require.NoError(t, err)

		tests := []struct {
			name    string
			email   string
			link    string
			wantErr error
		}{
			{name: "email mismatch", email: "other@school.test", link: link, wantErr: ErrInvalidLink},
			{name: "no token", email: authorizedEmail, link: "http://planner.test/finish-sign-in", wantErr: ErrInvalidLink},
			{name: "bad url", email: authorizedEmail, link: "http://[::1", wantErr: ErrInvalidLink},
			{
				name:    "unauthorized",
				email:   "other@school.test",
				link:    strings.Replace(link, url.QueryEscape(authorizedEmail), url.QueryEscape("other@school.test"), 1),
				wantErr: ErrUnauthorizedEmail,
			},
			{name: "tampered", email: authorizedEmail, link: link + "x", wantErr: ErrInvalidToken},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := svc.CompleteSignInFromLink(ctx, tt.email, tt.link)
				assert.Equal(t, tt.wantErr, err)
			})
		}
		assert.Nil(t, svc.Current())
	})
}

func TestService_SignIn(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled", func(t *testing.T) {
		svc, _ := newTestService(t, false)
		_, err := svc.SignIn(ctx, authorizedEmail, credential)
		assert.Equal(t, ErrCredentialSignInDisabled, err)
	})

	svc, _ := newTestService(t, true)
	link, err := svc.SignInLink(ctx, authorizedEmail)
	require.NoError(t, err)

	_, err = svc.SignIn(ctx, authorizedEmail, "wrong")
	assert.Equal(t, ErrAuthenticationFailed, err)
	_, err = svc.SignIn(ctx, "other@school.test", credential)
	assert.Equal(t, ErrAuthenticationFailed, err)

	p, err := svc.SignIn(ctx, " Teacher@school.test", credential)
	require.NoError(t, err)
	assert.Equal(t, authorizedEmail, p.Email)
	assert.Equal(t, MethodCredential, p.Method)

	// links issued before a sign-in are invalidated
	_, err = svc.CompleteSignInFromLink(ctx, authorizedEmail, link)
	assert.Equal(t, ErrInvalidToken, err)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = svc.SignIn(cctx, authorizedEmail, credential)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestService_lastSignInStored(t *testing.T) {
	ctx := context.Background()

	t.Run("used link rejected after restart", func(t *testing.T) {
		kv := inmemkv.Open()
		svc, _ := newTestServiceOn(t, kv, false)
		link, err := svc.SignInLink(ctx, authorizedEmail)
		require.NoError(t, err)
		p, err := svc.CompleteSignInFromLink(ctx, authorizedEmail, link)
		require.NoError(t, err)

		val, err := kv.Get(ctx, LastSignInKey)
		require.NoError(t, err)
		stamp, err := time.Parse(time.RFC3339Nano, string(val))
		require.NoError(t, err)
		assert.True(t, stamp.Equal(p.SignedInAt))

		restarted, _ := newTestServiceOn(t, kv, false)
		_, err = restarted.CompleteSignInFromLink(ctx, authorizedEmail, link)
		assert.Equal(t, ErrInvalidToken, err)
		assert.Nil(t, restarted.Current())
	})

	t.Run("link minted by another service", func(t *testing.T) {
		kv := inmemkv.Open()
		server, _ := newTestServiceOn(t, kv, true)
		admin, _ := newTestServiceOn(t, kv, false)

		stale, err := admin.SignInLink(ctx, authorizedEmail)
		require.NoError(t, err)
		_, err = server.SignIn(ctx, authorizedEmail, credential)
		require.NoError(t, err)

		// minted against the stamp the server's sign-in stored
		link, err := admin.SignInLink(ctx, authorizedEmail)
		require.NoError(t, err)
		p, err := server.CompleteSignInFromLink(ctx, authorizedEmail, link)
		require.NoError(t, err)
		assert.Equal(t, MethodEmailLink, p.Method)

		_, err = server.CompleteSignInFromLink(ctx, authorizedEmail, stale)
		assert.Equal(t, ErrInvalidToken, err)
	})

	t.Run("stamp not stored", func(t *testing.T) {
		kv := inmemkv.Open()
		svc, _ := newTestServiceOn(t, kv, true)
		var events []*Principal
		svc.OnAuthStateChanged(func(p *Principal) { events = append(events, p) })

		link, err := svc.SignInLink(ctx, authorizedEmail)
		require.NoError(t, err)

		kv.FailWrites = errors.New("disk full")
		_, err = svc.CompleteSignInFromLink(ctx, authorizedEmail, link)
		assert.EqualError(t, err, "storing last sign-in: disk full")
		_, err = svc.SignIn(ctx, authorizedEmail, credential)
		assert.EqualError(t, err, "storing last sign-in: disk full")
		assert.Nil(t, svc.Current())
		assert.Empty(t, events)

		// the link was not consumed
		kv.FailWrites = nil
		_, err = svc.CompleteSignInFromLink(ctx, authorizedEmail, link)
		require.NoError(t, err)
		assert.Len(t, events, 1)
	})

	t.Run("corrupt stamp", func(t *testing.T) {
		kv := inmemkv.Open()
		require.NoError(t, kv.Set(ctx, LastSignInKey, []byte("yesterday")))
		svc, _ := newTestServiceOn(t, kv, true)

		_, err := svc.SignInLink(ctx, authorizedEmail)
		assert.Error(t, err)
		_, err = svc.SignIn(ctx, authorizedEmail, credential)
		assert.Error(t, err)
		assert.Nil(t, svc.Current())
	})
}

func TestService_SignOut(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, true)

	var events []*Principal
	unsubscribe := svc.OnAuthStateChanged(func(p *Principal) { events = append(events, p) })

	_, err := svc.SignIn(ctx, authorizedEmail, credential)
	require.NoError(t, err)
	svc.SignOut(ctx)
	svc.SignOut(ctx) // no-op

	require.Len(t, events, 2)
	assert.NotNil(t, events[0])
	assert.Nil(t, events[1])
	assert.Nil(t, svc.Current())

	unsubscribe()
	_, err = svc.SignIn(ctx, authorizedEmail, credential)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestService_listenerPanic(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, true)

	var called bool
	svc.OnAuthStateChanged(func(*Principal) { panic("boom") })
	svc.OnAuthStateChanged(func(*Principal) { called = true })

	_, err := svc.SignIn(ctx, authorizedEmail, credential)
	require.NoError(t, err)
	assert.True(t, called)
}

func TestNewCredential_Validate(t *testing.T) {
	validate := validator.New()
	InitValidators(validate, core.NewTranslator())

	tests := []struct {
		name    string
		cred    string
		confirm string
		wantTag string
	}{
		{name: "too short", cred: "Ab1!", wantTag: credMinLenTag},
		{name: "whitespace", cred: "Abcdef 1!xyz", wantTag: credNoSpaceTag},
		{name: "all numeric", cred: "12345678901", wantTag: credNotAllNumTag},
		{name: "not complex", cred: "abcdefghijk1", wantTag: credComplexityTag},
		{name: "similar to email", cred: "Teacher@School1", wantTag: credAttrSimTag},
		{name: "confirm mismatch", cred: credential, confirm: "nope", wantTag: "eqfield"},
		{name: "valid", cred: credential},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			confirm := tt.confirm
			if confirm == "" {
				confirm = tt.cred
			}
			nc := NewCredential{Email: authorizedEmail, Credential: tt.cred, Confirm: confirm}
			err := nc.Validate(validate)
			if tt.wantTag == "" {
				assert.NoError(t, err)
				return
			}
			var verrs validator.ValidationErrors
			require.True(t, errors.As(err, &verrs), "got %v", err)
			assert.Equal(t, tt.wantTag, verrs[0].Tag())
		})
	}
}
