package cluster

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	consul "github.com/hashicorp/consul/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthAggregator(t *testing.T) {
	h := NewHealthAggregator()
	h.AddCheck("hub", func(context.Context) error { return nil })

	rec := httptest.NewRecorder()
	h.Handler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())

	h.AddCheck("redis", func(context.Context) error { return errors.New("connection refused") })
	rec = httptest.NewRecorder()
	h.Handler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"redis":"connection refused"}`, rec.Body.String())
}

func TestHealthChecksGetDeadline(t *testing.T) {
	h := NewHealthAggregator()
	h.AddCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	failures := h.Run(context.Background())
	assert.Contains(t, failures, "slow")
}

func TestSplitAddrs(t *testing.T) {
	assert.Equal(t, []string{"a:8500", "b:8500"}, splitAddrs(" a:8500, ,b:8500 "))
	assert.Empty(t, splitAddrs(""))
}

func TestSplitTarget(t *testing.T) {
	prefix, svc, ok := splitTarget("nats://consul://nats")
	require.True(t, ok)
	assert.Equal(t, "nats://", prefix)
	assert.Equal(t, "nats", svc)

	_, svc, ok = splitTarget("consul://redis/")
	require.True(t, ok)
	assert.Equal(t, "redis", svc)

	_, _, ok = splitTarget("redis:6379")
	assert.False(t, ok)
	_, _, ok = splitTarget("consul://")
	assert.False(t, ok)
}

func TestResolvePassesThroughPlainTargets(t *testing.T) {
	got, err := Resolve(nil, "redis:6379")
	require.NoError(t, err)
	assert.Equal(t, "redis:6379", got)

	_, err = Resolve(nil, "consul://redis")
	assert.ErrorIs(t, err, errNoAgent)
}

func TestEntryAddrFallsBackToNode(t *testing.T) {
	e := &consul.ServiceEntry{
		Node:    &consul.Node{Address: "10.0.0.5"},
		Service: &consul.AgentService{Port: 4222},
	}
	assert.Equal(t, "10.0.0.5:4222", entryAddr(e))
	e.Service.Address = "nats-1"
	assert.Equal(t, "nats-1:4222", entryAddr(e))
}

func TestRegistration(t *testing.T) {
	r := Registration{Name: "coinflip", Host: "node-a", Port: 8080}
	assert.Equal(t, "coinflip-node-a", r.ID())

	ar := r.agentRegistration()
	assert.Equal(t, "http://node-a:8080/health", ar.Check.HTTP)
	assert.Equal(t, "1m", ar.Check.DeregisterCriticalServiceAfter)
	assert.ErrorIs(t, Register(nil, r, nil), errNoAgent)
}
