package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/alfredjeanlab/opreport/internal/client"
)

// stubHandler is a no-op gRPC handler used in interceptor tests.
func stubHandler(_ context.Context, _ any) (any, error) {
	return "ok", nil
}

var reportMethod = &grpc.UnaryServerInfo{FullMethod: "/opreport.v1.Report/Get"}

func TestAuthenticator_Check(t *testing.T) {
	secret := []byte("jwt-secret")
	valid, err := SignToken(secret, "dashboard", time.Hour)
	if err != nil {
		t.Fatalf("SignToken: %v", err)
	}
	expired, err := SignToken(secret, "dashboard", -time.Minute)
	if err != nil {
		t.Fatalf("SignToken: %v", err)
	}
	forged, err := SignToken([]byte("other"), "dashboard", time.Hour)
	if err != nil {
		t.Fatalf("SignToken: %v", err)
	}

	for _, tc := range []struct {
		name    string
		auth    *Authenticator
		header  string
		wantErr error
	}{
		{"Disabled", NewAuthenticator("", ""), "", nil},
		{"Missing", NewAuthenticator("tok", ""), "", errMissingAuth},
		{"Scheme", NewAuthenticator("tok", ""), "Basic dG9r", errInvalidAuth},
		{"StaticOK", NewAuthenticator("tok", ""), "Bearer tok", nil},
		{"StaticWrong", NewAuthenticator("tok", ""), "Bearer nope", errInvalidToken},
		{"JWTOK", NewAuthenticator("", string(secret)), "Bearer " + valid, nil},
		{"JWTExpired", NewAuthenticator("", string(secret)), "Bearer " + expired, errInvalidToken},
		{"JWTForged", NewAuthenticator("", string(secret)), "Bearer " + forged, errInvalidToken},
		{"EitherStatic", NewAuthenticator("tok", string(secret)), "Bearer tok", nil},
		{"EitherJWT", NewAuthenticator("tok", string(secret)), "Bearer " + valid, nil},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.auth.Check(tc.header); !errors.Is(err, tc.wantErr) {
				t.Fatalf("Check(%q) = %v, want %v", tc.header, err, tc.wantErr)
			}
		})
	}
}

func TestParseToken_Subject(t *testing.T) {
	secret := []byte("k")
	tok, err := SignToken(secret, "alice", time.Minute)
	if err != nil {
		t.Fatalf("SignToken: %v", err)
	}
	sub, err := ParseToken(secret, tok)
	if err != nil || sub != "alice" {
		t.Fatalf("ParseToken = %q, %v", sub, err)
	}
}

func TestAuthInterceptor(t *testing.T) {
	auth := NewAuthenticator("secret", "")
	for _, tc := range []struct {
		name     string
		auth     *Authenticator
		ctx      context.Context
		info     *grpc.UnaryServerInfo
		wantCode codes.Code
	}{
		{"Disabled", nil, context.Background(), reportMethod, codes.OK},
		{"HealthExempt", auth, context.Background(), &grpc.UnaryServerInfo{FullMethod: healthCheckMethod}, codes.OK},
		{"MissingMetadata", auth, context.Background(), reportMethod, codes.Unauthenticated},
		{"MissingHeader", auth, metadata.NewIncomingContext(context.Background(), metadata.Pairs("other", "v")), reportMethod, codes.Unauthenticated},
		{"WrongToken", auth, metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer wrong")), reportMethod, codes.Unauthenticated},
		{"CorrectToken", auth, metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer secret")), reportMethod, codes.OK},
	} {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := AuthInterceptor(tc.auth)(tc.ctx, nil, tc.info, stubHandler)
			if got := status.Code(err); got != tc.wantCode {
				t.Fatalf("code = %v, want %v (err=%v)", got, tc.wantCode, err)
			}
			if tc.wantCode == codes.OK && resp != "ok" {
				t.Fatalf("expected 'ok', got %v", resp)
			}
		})
	}
}

func TestRecoveryInterceptor(t *testing.T) {
	panicky := func(context.Context, any) (any, error) { panic("boom") }
	_, err := RecoveryInterceptor(slog.Default())(context.Background(), nil, reportMethod, panicky)
	if status.Code(err) != codes.Internal {
		t.Fatalf("expected Internal, got %v", err)
	}
}

func TestAuthMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	for _, tc := range []struct {
		name   string
		auth   *Authenticator
		method string
		path   string
		header string
		want   int
	}{
		{"Disabled", nil, "GET", "/v1/report", "", http.StatusOK},
		{"NoHeader", NewAuthenticator("secret", ""), "GET", "/v1/report", "", http.StatusUnauthorized},
		{"WrongToken", NewAuthenticator("secret", ""), "GET", "/v1/report", "Bearer wrong", http.StatusUnauthorized},
		{"InvalidScheme", NewAuthenticator("secret", ""), "GET", "/v1/report", "Token secret", http.StatusUnauthorized},
		{"CorrectToken", NewAuthenticator("secret", ""), "POST", "/v1/report/refresh", "Bearer secret", http.StatusOK},
		{"HealthExempt", NewAuthenticator("secret", ""), "GET", "/v1/health", "", http.StatusOK},
	} {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			AuthMiddleware(tc.auth, ok).ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestGRPCHealth(t *testing.T) {
	env := newTestServer(t, nil, NewAuthenticator("secret", ""))
	srv := NewGRPCServer(env.srv)
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	hc, err := client.NewGRPCHealthClient(lis.Addr().String(), "")
	if err != nil {
		t.Fatalf("NewGRPCHealthClient: %v", err)
	}
	defer hc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got, err := hc.Health(ctx, ServiceName)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if got != "NOT_SERVING" {
		t.Errorf("before first report: %s, want NOT_SERVING", got)
	}

	if _, err := env.srv.service.GetAggregateReport(ctx, "", false); err != nil {
		t.Fatalf("GetAggregateReport: %v", err)
	}
	got, err = hc.Health(ctx, "")
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if got != "SERVING" {
		t.Errorf("after first report: %s, want SERVING", got)
	}

	if _, err := hc.Health(ctx, "unknown"); status.Code(err) != codes.NotFound {
		t.Errorf("unknown service: %v, want NotFound", err)
	}
}
