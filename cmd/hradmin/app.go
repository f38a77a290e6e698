package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/jrsteele09/go-hradmin-client/authapi"
	"github.com/jrsteele09/go-hradmin-client/client"
	"github.com/jrsteele09/go-hradmin-client/internal/config"
	apperrors "github.com/jrsteele09/go-hradmin-client/internal/errors"
	"github.com/jrsteele09/go-hradmin-client/internal/logging"
	"github.com/jrsteele09/go-hradmin-client/internal/metrics"
	"github.com/jrsteele09/go-hradmin-client/sessions"
	"github.com/jrsteele09/go-hradmin-client/token/filestore"
	"github.com/jrsteele09/go-hradmin-client/token/jwt"
	"github.com/jrsteele09/go-hradmin-client/token/refresh"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

var errNotLoggedIn = errors.New("not logged in, run: hradmin login -email <email> -password <password>")

// app is the constructed service graph for one CLI invocation.
type app struct {
	stdout io.Writer
	stderr io.Writer
	logger zerolog.Logger

	registry    *prometheus.Registry
	store       *filestore.FileStore
	decoder     *jwt.Decoder
	coordinator *refresh.Coordinator
	api         *authapi.Client
	controller  *sessions.Controller

	unsubscribe func()
}

func newApp(c config.Config, stdout, stderr io.Writer) (*app, error) {
	logger := logging.New(c.GetLogLevel(), c.GetEnv())

	key, err := c.GetTokenKey()
	if err != nil {
		return nil, apperrors.Wrapf(err, "config")
	}
	storeOpts := []filestore.Option{filestore.WithLogger(logger)}
	if key != nil {
		storeOpts = append(storeOpts, filestore.WithEncryptionKey(key))
	}
	store, err := filestore.New(c.GetTokenFile(), storeOpts...)
	if err != nil {
		return nil, apperrors.Wrapf(err, "token store %s", c.GetTokenFile())
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	httpClient := &http.Client{Timeout: c.GetHTTPTimeout()}
	decoder := jwt.NewDecoder()

	refresher := authapi.NewRefresher(c.GetBaseURL(),
		authapi.WithHTTPClient(httpClient),
		authapi.WithExpiryDecoder(decoder),
		authapi.WithRefresherLogger(logger),
	)
	coordinator := refresh.NewCoordinator(store, decoder, refresher,
		refresh.WithLogger(logger),
		refresh.WithMetrics(m),
	)
	executor := client.NewExecutor(c.GetBaseURL(), coordinator,
		client.WithHTTPClient(httpClient),
		client.WithLogger(logger),
		client.WithMetrics(m),
	)
	api := authapi.NewClient(executor)

	controller, err := sessions.NewController(sessions.Deps{
		Store:         store,
		Decoder:       decoder,
		Auth:          api,
		Refreshes:     coordinator,
		Invalidations: executor,
	}, sessions.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	a := &app{
		stdout:      stdout,
		stderr:      stderr,
		logger:      logger,
		registry:    registry,
		store:       store,
		decoder:     decoder,
		coordinator: coordinator,
		api:         api,
		controller:  controller,
	}
	a.unsubscribe = controller.Subscribe(a.onSessionEvent)
	return a, nil
}

func (a *app) close() {
	a.unsubscribe()
	a.controller.Close()
}

func (a *app) onSessionEvent(ev sessions.Event) {
	if ev.Type != sessions.EventNavigateLogin {
		return
	}
	if ev.Message != "" {
		fmt.Fprintln(a.stderr, ev.Message)
		return
	}
	fmt.Fprintln(a.stderr, "Your session has ended. Please log in again.")
}

func (a *app) dispatch(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "login":
		return a.login(ctx, args)
	case "logout":
		return a.logout(ctx)
	case "whoami":
		return a.whoami(ctx)
	case "get":
		return a.get(ctx, args)
	case "passwd":
		return a.passwd(ctx, args)
	case "token":
		return a.token(ctx)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (a *app) login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	email := fs.String("email", "", "login email")
	password := fs.String("password", "", "password")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := a.controller.Login(ctx, authapi.LoginRequest{Email: *email, Password: *password}); err != nil {
		return err
	}
	s := a.controller.Session()
	if s.User != nil {
		fmt.Fprintf(a.stdout, "Logged in as %s (%s)\n", s.User.UserName, s.User.Role)
		return nil
	}
	fmt.Fprintln(a.stdout, "Logged in")
	return nil
}

func (a *app) logout(ctx context.Context) error {
	if err := a.controller.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, "Logged out")
	return nil
}

func (a *app) whoami(ctx context.Context) error {
	if !a.store.IsAuthenticated() {
		return errNotLoggedIn
	}
	// Bring the stored token up to date so the claims printed are current.
	if _, err := a.coordinator.EnsureValidToken(ctx); err != nil {
		return err
	}

	s := a.controller.Session()
	if s.User == nil {
		return errNotLoggedIn
	}
	u := s.User
	fmt.Fprintf(a.stdout, "ID:        %s\n", u.ID)
	fmt.Fprintf(a.stdout, "Email:     %s\n", u.Email)
	fmt.Fprintf(a.stdout, "User name: %s\n", u.UserName)
	fmt.Fprintf(a.stdout, "Role:      %s\n", u.Role)
	if u.EmployeeName != "" || u.EmployeeNumber != "" {
		fmt.Fprintf(a.stdout, "Employee:  %s (%s)\n", u.EmployeeName, u.EmployeeNumber)
	}
	if u.ExpiresAt != nil {
		fmt.Fprintf(a.stdout, "Expires:   %s\n", u.ExpiresAt.Time.Format(time.RFC3339))
	}
	fmt.Fprintf(a.stdout, "Token file: %s\n", a.store.Path())
	return nil
}

func (a *app) get(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: hradmin get <endpoint>")
	}
	var body json.RawMessage
	if err := a.api.Get(ctx, args[0], &body); err != nil {
		return err
	}
	_, err := a.stdout.Write(append(body, '\n'))
	return err
}

func (a *app) passwd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("passwd", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	oldPassword := fs.String("old", "", "current password")
	newPassword := fs.String("new", "", "new password")
	if err := fs.Parse(args); err != nil {
		return err
	}

	resp, err := a.api.UpdatePassword(ctx, authapi.UpdatePasswordRequest{
		OldPassword: *oldPassword,
		NewPassword: *newPassword,
	})
	if err != nil {
		return err
	}
	if resp.Message == "" {
		resp.Message = "Password updated"
	}
	fmt.Fprintln(a.stdout, resp.Message)
	return nil
}

// token prints a valid access token, refreshing first if needed, so it can
// be pasted into other tools.
func (a *app) token(ctx context.Context) error {
	if !a.store.IsAuthenticated() {
		return errNotLoggedIn
	}
	tok, err := a.coordinator.TokenSource(ctx).Token()
	if err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, tok.AccessToken)
	if !tok.Expiry.IsZero() {
		fmt.Fprintf(a.stderr, "expires %s\n", tok.Expiry.Format(time.RFC3339))
	}
	return nil
}

func (a *app) writeMetrics() error {
	families, err := a.registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			labels := make([]string, 0, len(m.GetLabel()))
			for _, l := range m.GetLabel() {
				labels = append(labels, fmt.Sprintf("%s=%q", l.GetName(), l.GetValue()))
			}
			sort.Strings(labels)
			name := mf.GetName()
			if len(labels) > 0 {
				name += "{" + strings.Join(labels, ",") + "}"
			}
			fmt.Fprintf(a.stderr, "%s %g\n", name, m.GetCounter().GetValue())
		}
	}
	return nil
}
