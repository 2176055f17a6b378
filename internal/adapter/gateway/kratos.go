package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"villa-auth/internal/domain"

	kratos "github.com/ory/kratos-client-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "villa-auth/gateway/kratos"

// KratosGateway implements domain.IdentityProvider and domain.ProviderStatus
// against the Kratos public API, and the admin API when configured.
type KratosGateway struct {
	public *kratos.APIClient
	admin  *kratos.APIClient
	tracer trace.Tracer
	logger *slog.Logger
}

// NewKratosGateway creates a new Kratos gateway with tuned HTTP transport.
// adminBaseURL may be empty; user records are then read from the session.
func NewKratosGateway(baseURL, adminBaseURL string, timeout time.Duration, logger *slog.Logger) *KratosGateway {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
	}
	httpClient := &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}

	g := &KratosGateway{
		public: newAPIClient(baseURL, httpClient),
		tracer: otel.Tracer(tracerName),
		logger: logger,
	}
	if adminBaseURL != "" {
		g.admin = newAPIClient(adminBaseURL, httpClient)
	}
	return g
}

func newAPIClient(baseURL string, httpClient *http.Client) *kratos.APIClient {
	configuration := kratos.NewConfiguration()
	configuration.Servers = []kratos.ServerConfiguration{
		{URL: strings.TrimRight(baseURL, "/")},
	}
	configuration.HTTPClient = httpClient
	return kratos.NewAPIClient(configuration)
}

// GetSession resolves the session bound to token.
func (g *KratosGateway) GetSession(ctx context.Context, token string) (*domain.Session, error) {
	if token == "" {
		return nil, domain.ErrNoSession
	}

	ctx, span := g.tracer.Start(ctx, "kratos.GetSession")
	defer span.End()

	session, resp, err := g.public.FrontendAPI.ToSession(ctx).XSessionToken(token).Execute()
	if err != nil {
		if status := statusOf(resp); status == http.StatusUnauthorized || status == http.StatusForbidden {
			return nil, domain.ErrNoSession
		}
		return nil, fail(span, unavailable(err, resp))
	}

	out, err := toSession(session)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("session.id", out.ID))
	return out, nil
}

// GetUser resolves the identity tied to session.
func (g *KratosGateway) GetUser(ctx context.Context, token string, session *domain.Session) (*domain.Identity, error) {
	if session == nil || session.IdentityID == "" {
		return nil, domain.ErrNoUser
	}

	ctx, span := g.tracer.Start(ctx, "kratos.GetUser",
		trace.WithAttributes(attribute.String("identity.id", session.IdentityID)))
	defer span.End()

	if g.admin != nil {
		identity, resp, err := g.admin.IdentityAPI.GetIdentity(ctx, session.IdentityID).Execute()
		if err != nil {
			if statusOf(resp) == http.StatusNotFound {
				return nil, domain.ErrNoUser
			}
			return nil, fail(span, unavailable(err, resp))
		}
		return toIdentity(identity)
	}

	// Without admin access the session's embedded identity is the user record.
	whoami, resp, err := g.public.FrontendAPI.ToSession(ctx).XSessionToken(token).Execute()
	if err != nil {
		if status := statusOf(resp); status == http.StatusUnauthorized || status == http.StatusForbidden {
			return nil, domain.ErrNoUser
		}
		return nil, fail(span, unavailable(err, resp))
	}
	if whoami.Identity == nil || whoami.Identity.Id != session.IdentityID {
		return nil, domain.ErrNoUser
	}
	return toIdentity(whoami.Identity)
}

// SignInWithPassword runs a native password login flow.
func (g *KratosGateway) SignInWithPassword(ctx context.Context, creds domain.Credentials) (*domain.SignIn, error) {
	ctx, span := g.tracer.Start(ctx, "kratos.SignInWithPassword")
	defer span.End()

	flow, resp, err := g.public.FrontendAPI.CreateNativeLoginFlow(ctx).Execute()
	if err != nil {
		return nil, fail(span, loginFailure(err, resp))
	}

	body := kratos.UpdateLoginFlowWithPasswordMethod{
		Identifier: creds.Email,
		Method:     "password",
		Password:   creds.Password,
	}
	result, resp, err := g.public.FrontendAPI.
		UpdateLoginFlow(ctx).
		Flow(flow.Id).
		UpdateLoginFlowBody(kratos.UpdateLoginFlowWithPasswordMethodAsUpdateLoginFlowBody(&body)).
		Execute()
	if err != nil {
		return nil, fail(span, loginFailure(err, resp))
	}
	if result.SessionToken == nil || *result.SessionToken == "" {
		return nil, fail(span, domain.NewAuthError(domain.ErrNetwork, errors.New("login returned no session token")))
	}

	session, err := toSession(&result.Session)
	if err != nil {
		return nil, fail(span, domain.NewAuthError(domain.ErrNetwork, err))
	}

	var user *domain.Identity
	if result.Session.Identity != nil {
		user, err = toIdentity(result.Session.Identity)
	} else {
		user, err = g.GetUser(ctx, *result.SessionToken, session)
	}
	if err != nil {
		return nil, fail(span, domain.NewAuthError(domain.ErrNetwork, err))
	}

	span.SetAttributes(attribute.String("session.id", session.ID), attribute.String("identity.id", user.ID))
	return &domain.SignIn{Token: *result.SessionToken, Session: session, User: user}, nil
}

// SignOut revokes the session bound to token.
func (g *KratosGateway) SignOut(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}

	ctx, span := g.tracer.Start(ctx, "kratos.SignOut")
	defer span.End()

	resp, err := g.public.FrontendAPI.
		PerformNativeLogout(ctx).
		PerformNativeLogoutBody(*kratos.NewPerformNativeLogoutBody(token)).
		Execute()
	if err != nil {
		// 4xx other than 429: the session is already gone.
		if status := statusOf(resp); status >= 400 && status < 500 && status != http.StatusTooManyRequests {
			g.logger.DebugContext(ctx, "session already revoked at provider", "status", status)
			return nil
		}
		return fail(span, unavailable(err, resp))
	}
	return nil
}

// Ping checks that the public API answers.
func (g *KratosGateway) Ping(ctx context.Context) error {
	_, resp, err := g.public.MetadataAPI.GetVersion(ctx).Execute()
	if err != nil {
		return unavailable(err, resp)
	}
	return nil
}

func toSession(s *kratos.Session) (*domain.Session, error) {
	if s == nil || (s.Active != nil && !*s.Active) || s.ExpiresAt == nil {
		return nil, domain.ErrNoSession
	}
	out := &domain.Session{
		ID:        s.Id,
		ExpiresAt: *s.ExpiresAt,
	}
	if s.IssuedAt != nil {
		out.IssuedAt = *s.IssuedAt
	} else if s.AuthenticatedAt != nil {
		out.IssuedAt = *s.AuthenticatedAt
	}
	if s.Identity != nil {
		out.IdentityID = s.Identity.Id
	}
	return out, nil
}

func toIdentity(id *kratos.Identity) (*domain.Identity, error) {
	if id == nil || id.Id == "" {
		return nil, domain.ErrNoUser
	}
	if string(id.GetState()) == "inactive" {
		return nil, domain.ErrNoUser
	}

	traits, _ := id.Traits.(map[string]any)
	metadata, _ := id.MetadataPublic.(map[string]any)

	role := stringField(metadata, "role")
	if role == "" {
		role = stringField(traits, "role")
	}

	return &domain.Identity{
		ID:          id.Id,
		Email:       stringField(traits, "email"),
		DisplayName: displayName(traits),
		Role:        domain.ParseRole(role),
	}, nil
}

// displayName reads traits.name as either a string or {first, last}.
func displayName(traits map[string]any) string {
	switch name := traits["name"].(type) {
	case string:
		return name
	case map[string]any:
		return strings.TrimSpace(stringField(name, "first") + " " + stringField(name, "last"))
	}
	return ""
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func statusOf(resp *http.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}

// unavailable wraps a transport or server failure.
func unavailable(err error, resp *http.Response) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", domain.ErrTimeout, err)
	}
	if status := statusOf(resp); status != 0 {
		return fmt.Errorf("%w: kratos returned status %d", domain.ErrNetwork, status)
	}
	return fmt.Errorf("%w: %w", domain.ErrNetwork, err)
}

// loginFailure maps a login flow error onto the login taxonomy.
func loginFailure(err error, resp *http.Response) *domain.AuthError {
	switch status := statusOf(resp); {
	case status == http.StatusTooManyRequests:
		return domain.NewAuthError(domain.ErrRateLimited, errors.New(providerMessage(err)))
	case status == http.StatusBadRequest, status == http.StatusUnauthorized,
		status == http.StatusForbidden, status == http.StatusUnprocessableEntity:
		return domain.NewAuthError(domain.ErrInvalidCredentials, errors.New(providerMessage(err)))
	case errors.Is(err, context.DeadlineExceeded):
		return domain.NewAuthError(domain.ErrTimeout, err)
	default:
		return domain.NewAuthError(domain.ErrNetwork, unavailable(err, resp))
	}
}

// providerMessage extracts the human-readable reason Kratos attached to a failed flow.
func providerMessage(err error) string {
	var apiErr *kratos.GenericOpenAPIError
	if !errors.As(err, &apiErr) {
		return err.Error()
	}

	switch model := apiErr.Model().(type) {
	case kratos.LoginFlow:
		var texts []string
		for _, m := range model.Ui.Messages {
			texts = append(texts, m.Text)
		}
		for _, node := range model.Ui.Nodes {
			for _, m := range node.Messages {
				texts = append(texts, m.Text)
			}
		}
		if len(texts) > 0 {
			return strings.Join(texts, "; ")
		}
	case kratos.ErrorGeneric:
		return model.Error.Message
	}
	return apiErr.Error()
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
