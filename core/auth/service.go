package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/trezcool/planner/core"
)

var (
	// errors
	ErrUnauthorizedEmail        = errors.New("this email is not allowed to sign in")
	ErrInvalidLink              = errors.New("invalid sign-in link")
	ErrInvalidToken             = errors.New("invalid or already used sign-in link")
	ErrTokenExpired             = errors.New("sign-in link expired")
	ErrCredentialSignInDisabled = errors.New("credential sign-in is disabled")
	ErrAuthenticationFailed     = errors.New("authentication failed")
)

const (
	finishSignInPath = "/finish-sign-in"

	// LastSignInKey is the storage key of the last sign-in stamp, shared by every process using the same storage.
	LastSignInKey = "auth.last_sign_in"
)

// Service gates access to the planner: the configured authorized email is the only principal.
type Service struct {
	conf    *core.Config
	kv      core.KeyValueStore
	mailSvc core.EmailService
	logger  core.Logger
	tokens  tokenGen

	mu        sync.Mutex
	current   *Principal
	listeners map[int]func(*Principal)
	nextID    int
}

func NewService(conf *core.Config, kv core.KeyValueStore, mailSvc core.EmailService, logger core.Logger) *Service {
	return &Service{
		conf:      conf,
		kv:        kv,
		mailSvc:   mailSvc,
		logger:    logger,
		tokens:    tokenGen{secretKey: conf.SecretKey, timeout: conf.SignInLinkTimeoutDelta},
		listeners: make(map[int]func(*Principal)),
	}
}

// IsAuthorized reports whether email is the authorized one, ignoring case and surrounding whitespace.
func (svc *Service) IsAuthorized(email string) bool {
	authorized := core.CleanString(svc.conf.AuthorizedEmail, true /* lower */)
	return authorized != "" && core.CleanString(email, true /* lower */) == authorized
}

// SignInLink returns a fresh sign-in link for the authorized email.
func (svc *Service) SignInLink(ctx context.Context, email string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	email = core.CleanString(email, true /* lower */)
	if !svc.IsAuthorized(email) {
		return "", ErrUnauthorizedEmail
	}

	svc.mu.Lock()
	last, err := svc.loadLastSignIn(ctx)
	svc.mu.Unlock()
	if err != nil {
		return "", err
	}
	token := svc.tokens.makeToken(email, last)

	query := url.Values{"email": {email}, "token": {token}}
	return svc.conf.FrontendBaseURL + finishSignInPath + "?" + query.Encode(), nil
}

// SendSignInLink mails a sign-in link to email, which must be the authorized one.
func (svc *Service) SendSignInLink(ctx context.Context, email string) error {
	link, err := svc.SignInLink(ctx, email)
	if err != nil {
		return err
	}
	svc.mailSvc.SendMessages(svc.signInLinkMessage(core.CleanString(email, true /* lower */), link))
	return nil
}

func (svc *Service) signInLinkMessage(email, link string) *core.EmailMessage {
	return &core.EmailMessage{
		To:           []mail.Address{{Address: email}},
		Subject:      "Your sign-in link",
		TemplateName: "sign_in_link",
		TemplateData: SignInLinkData{
			Email:     email,
			Link:      link,
			ExpiresIn: svc.conf.SignInLinkTimeoutDelta.String(),
		},
	}
}

// CompleteSignInFromLink signs in using a link produced by SignInLink.
// When email is empty, the email carried by the link is used.
func (svc *Service) CompleteSignInFromLink(ctx context.Context, email, link string) (Principal, error) {
	if err := ctx.Err(); err != nil {
		return Principal{}, err
	}

	u, err := url.Parse(link)
	if err != nil {
		return Principal{}, ErrInvalidLink
	}
	query := u.Query()
	token := query.Get("token")
	linkEmail := core.CleanString(query.Get("email"), true /* lower */)
	email = core.CleanString(email, true /* lower */)

	switch {
	case token == "":
		return Principal{}, ErrInvalidLink
	case email == "":
		email = linkEmail
	case linkEmail != "" && linkEmail != email:
		return Principal{}, ErrInvalidLink
	}
	if !svc.IsAuthorized(email) {
		return Principal{}, ErrUnauthorizedEmail
	}

	svc.mu.Lock()
	last, err := svc.loadLastSignIn(ctx)
	if err != nil {
		svc.mu.Unlock()
		return Principal{}, err
	}
	if err := svc.tokens.verifyToken(email, last, token); err != nil {
		svc.mu.Unlock()
		return Principal{}, err
	}
	p, listeners, err := svc.signIn(ctx, last, email, MethodEmailLink)
	svc.mu.Unlock()
	if err != nil {
		return Principal{}, err
	}

	svc.notify(listeners, &p)
	return p, nil
}

// SignIn checks credential against the configured bcrypt hash.
func (svc *Service) SignIn(ctx context.Context, email, credential string) (Principal, error) {
	if err := ctx.Err(); err != nil {
		return Principal{}, err
	}
	if svc.conf.AuthorizedCredential == "" {
		return Principal{}, ErrCredentialSignInDisabled
	}
	if !svc.IsAuthorized(email) {
		return Principal{}, ErrAuthenticationFailed
	}
	if err := checkCredential(svc.conf.AuthorizedCredential, credential); err != nil {
		return Principal{}, ErrAuthenticationFailed
	}

	svc.mu.Lock()
	last, err := svc.loadLastSignIn(ctx)
	if err != nil {
		svc.mu.Unlock()
		return Principal{}, err
	}
	p, listeners, err := svc.signIn(ctx, last, core.CleanString(email, true /* lower */), MethodCredential)
	svc.mu.Unlock()
	if err != nil {
		return Principal{}, err
	}

	svc.notify(listeners, &p)
	return p, nil
}

// signIn stores a stamp later than last and records the new principal. svc.mu must be held.
// Nothing changes if the stamp cannot be stored.
func (svc *Service) signIn(ctx context.Context, last time.Time, email, method string) (Principal, []func(*Principal), error) {
	now := nowFunc().UTC()
	if !now.After(last) {
		now = last.Add(time.Nanosecond)
	}
	if err := svc.kv.Set(ctx, LastSignInKey, []byte(now.Format(time.RFC3339Nano))); err != nil {
		return Principal{}, nil, fmt.Errorf("storing last sign-in: %w", err)
	}
	p := Principal{Email: email, Method: method, SignedInAt: now}
	svc.current = &p
	return p, svc.snapshotListeners(), nil
}

// loadLastSignIn returns the stored stamp, or the zero time before the first sign-in. svc.mu must be held.
func (svc *Service) loadLastSignIn(ctx context.Context) (time.Time, error) {
	val, err := svc.kv.Get(ctx, LastSignInKey)
	if errors.Is(err, core.ErrKeyNotFound) {
		return time.Time{}, nil
	} else if err != nil {
		return time.Time{}, fmt.Errorf("loading last sign-in: %w", err)
	}
	last, err := time.Parse(time.RFC3339Nano, string(val))
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing last sign-in: %w", err)
	}
	return last.UTC(), nil
}

// SignOut clears the current principal. Signing out twice is a no-op.
func (svc *Service) SignOut(ctx context.Context) {
	svc.mu.Lock()
	if svc.current == nil {
		svc.mu.Unlock()
		return
	}
	svc.current = nil
	listeners := svc.snapshotListeners()
	svc.mu.Unlock()

	svc.notify(listeners, nil)
}

// Current returns a copy of the signed-in principal, or nil.
func (svc *Service) Current() *Principal {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	if svc.current == nil {
		return nil
	}
	p := *svc.current
	return &p
}

// OnAuthStateChanged registers fn to be called with the principal after every sign-in, and with nil after a
// sign-out. It returns a function removing the listener.
func (svc *Service) OnAuthStateChanged(fn func(*Principal)) func() {
	svc.mu.Lock()
	id := svc.nextID
	svc.nextID++
	svc.listeners[id] = fn
	svc.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			svc.mu.Lock()
			delete(svc.listeners, id)
			svc.mu.Unlock()
		})
	}
}

func (svc *Service) snapshotListeners() []func(*Principal) {
	ids := make([]int, 0, len(svc.listeners))
	for id := range svc.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids) // registration order
	fns := make([]func(*Principal), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, svc.listeners[id])
	}
	return fns
}

func (svc *Service) notify(listeners []func(*Principal), p *Principal) {
	for _, fn := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					svc.logger.Error(fmt.Sprintf("auth state listener panicked: %v", r))
				}
			}()
			if p == nil {
				fn(nil)
				return
			}
			cp := *p
			fn(&cp)
		}()
	}
}
