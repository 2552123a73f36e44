package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"guildpay/internal/config"
	"guildpay/internal/db"
	"guildpay/internal/domain"
	"guildpay/internal/engine"
	"guildpay/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	cfg := config.Default()
	cfg.Auth.JWTSecret = "test-secret"
	cfg.Auth.AllowLegacyActorHeader = true
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth: AuthConfig{
			JWTSecret:              cfg.Auth.JWTSecret,
			AllowLegacyActorHeader: cfg.Auth.AllowLegacyActorHeader,
		},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func asActor(actor string) map[string]string {
	return map[string]string{"X-Actor-Id": actor}
}

func TestHealthSkipsAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
}

func TestUnauthenticatedRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/guilds", map[string]any{
		"name": "No Auth Guild",
	}, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(data))
	}
}

func TestBountyLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/guilds", map[string]any{
		"name": "Core Guild",
	}, asActor("alice"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create guild status %d: %s", res.StatusCode, string(data))
	}
	var guild domain.Guild
	if err := json.Unmarshal(data, &guild); err != nil {
		t.Fatalf("unmarshal guild: %v", err)
	}
	guildPath := fmt.Sprintf("%s/v0/guilds/%d", srv.URL, guild.ID)

	res, data = doJSON(t, client, http.MethodPost, guildPath+"/members", map[string]any{
		"address": "bob",
		"role":    "member",
	}, asActor("alice"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("add member status %d: %s", res.StatusCode, string(data))
	}

	expires := time.Now().Add(24 * time.Hour).Unix()
	res, data = doJSON(t, client, http.MethodPost, guildPath+"/bounties", map[string]any{
		"title":         "Ship docs",
		"reward_amount": 500,
		"expires_at":    expires,
	}, asActor("alice"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create bounty status %d: %s", res.StatusCode, string(data))
	}
	var bounty domain.Bounty
	if err := json.Unmarshal(data, &bounty); err != nil {
		t.Fatalf("unmarshal bounty: %v", err)
	}
	if bounty.Status != domain.BountyAwaitingFunds {
		t.Fatalf("expected awaiting_funds, got %s", bounty.Status)
	}
	bountyPath := fmt.Sprintf("%s/v0/bounties/%d", srv.URL, bounty.ID)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/ledger/deposit", map[string]any{
		"account": "alice",
		"amount":  1000,
	}, asActor("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("deposit status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, bountyPath+"/fund", map[string]any{
		"amount": 500,
	}, asActor("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("fund status %d: %s", res.StatusCode, string(data))
	}
	_ = json.Unmarshal(data, &bounty)
	if bounty.Status != domain.BountyOpen {
		t.Fatalf("expected open after full funding, got %s", bounty.Status)
	}

	res, data = doJSON(t, client, http.MethodPost, bountyPath+"/claim", nil, asActor("bob"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("claim status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, bountyPath+"/submit", map[string]any{
		"submission_url": "https://example.com/pr/1",
	}, asActor("bob"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("submit status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, bountyPath+"/approve", nil, asActor("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, bountyPath+"/release", nil, asActor("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("release status %d: %s", res.StatusCode, string(data))
	}
	_ = json.Unmarshal(data, &bounty)
	if bounty.FundedAmount != 0 {
		t.Fatalf("expected escrow drained, got %d", bounty.FundedAmount)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/ledger/accounts/bob/balances", nil, asActor("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("balances status %d: %s", res.StatusCode, string(data))
	}
	var balances []domain.Balance
	if err := json.Unmarshal(data, &balances); err != nil {
		t.Fatalf("unmarshal balances: %v", err)
	}
	if len(balances) != 1 || balances[0].Amount != 500 {
		t.Fatalf("expected bob balance 500, got %+v", balances)
	}
}

func TestDoubleClaimConflict(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/guilds", map[string]any{
		"name": "Race Guild",
	}, asActor("alice"))
	var guild domain.Guild
	_ = json.Unmarshal(data, &guild)
	guildPath := fmt.Sprintf("%s/v0/guilds/%d", srv.URL, guild.ID)

	for _, addr := range []string{"bob", "carol"} {
		res, body := doJSON(t, client, http.MethodPost, guildPath+"/members", map[string]any{
			"address": addr,
			"role":    "member",
		}, asActor("alice"))
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("add %s status %d: %s", addr, res.StatusCode, string(body))
		}
	}

	res, data := doJSON(t, client, http.MethodPost, guildPath+"/bounties", map[string]any{
		"title":         "First come",
		"reward_amount": 0,
		"expires_at":    time.Now().Add(time.Hour).Unix(),
	}, asActor("alice"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create bounty status %d: %s", res.StatusCode, string(data))
	}
	var bounty domain.Bounty
	_ = json.Unmarshal(data, &bounty)
	bountyPath := fmt.Sprintf("%s/v0/bounties/%d", srv.URL, bounty.ID)

	res, data = doJSON(t, client, http.MethodPost, bountyPath+"/claim", nil, asActor("bob"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("first claim status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, bountyPath+"/claim", nil, asActor("carol"))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on second claim, got %d: %s", res.StatusCode, string(data))
	}
}

func TestDevLoginIssuesUsableToken(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{
		"actor_id": "alice",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login status %d: %s", res.StatusCode, string(data))
	}
	var login struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(data, &login); err != nil {
		t.Fatalf("unmarshal token: %v", err)
	}
	if login.Token == "" {
		t.Fatal("expected token")
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/guilds", map[string]any{
		"name": "JWT Guild",
	}, map[string]string{"Authorization": "Bearer " + login.Token})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create guild via jwt status %d: %s", res.StatusCode, string(data))
	}
	var guild domain.Guild
	_ = json.Unmarshal(data, &guild)
	if guild.Owner != "alice" {
		t.Fatalf("expected owner alice, got %s", guild.Owner)
	}
}

func TestNonAdminBountyCreateForbidden(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/guilds", map[string]any{
		"name": "Strict Guild",
	}, asActor("alice"))
	var guild domain.Guild
	_ = json.Unmarshal(data, &guild)
	guildPath := fmt.Sprintf("%s/v0/guilds/%d", srv.URL, guild.ID)

	res, body := doJSON(t, client, http.MethodPost, guildPath+"/members", map[string]any{
		"address": "bob",
		"role":    "member",
	}, asActor("alice"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("add member status %d: %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, client, http.MethodPost, guildPath+"/bounties", map[string]any{
		"title":         "Not allowed",
		"reward_amount": 100,
		"expires_at":    time.Now().Add(time.Hour).Unix(),
	}, asActor("bob"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, string(body))
	}
}
