package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"live-challenge-service/internal/app"
	"live-challenge-service/internal/domain"
	"live-challenge-service/internal/infra/memory"
	"live-challenge-service/internal/metrics"
	"live-challenge-service/internal/realtime"
)

type testServer struct {
	*httptest.Server
	store   *memory.Store
	service *app.ChallengeService
}

// echoJudge runs a program that prints its stdin.
type echoJudge struct{}

func (echoJudge) Execute(_ context.Context, _, _, stdin string) (domain.ExecutionResult, error) {
	return domain.ExecutionResult{Stdout: stdin}, nil
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWithWS(t, WSOptions{})
}

func newTestServerWithWS(t *testing.T, wsOpts WSOptions) *testServer {
	t.Helper()
	store := memory.NewStore()
	cache := memory.NewChallengeCache(store, time.Minute)
	hub := realtime.NewHub(cache, realtime.NewRegistry())
	service := app.NewChallengeService(store, store, cache, hub)
	grader := app.NewGrader(store, store, echoJudge{}, memory.NewLocker(), hub)

	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		t.Fatalf("register metrics: %v", err)
	}

	router := NewRouter(RouterOptions{
		Challenges: NewChallengeHandler(service, grader),
		WS:         NewWSHandler(hub, wsOpts),
		Gatherer:   reg,
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return &testServer{Server: server, store: store, service: service}
}

func withIdentity(userID, role string) http.Header {
	h := http.Header{}
	h.Set(headerUserID, userID)
	if role != "" {
		h.Set(headerUserRole, role)
	}
	return h
}
