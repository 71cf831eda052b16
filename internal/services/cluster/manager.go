package cluster

import (
	"context"
	"sync"
	"time"

	consul "github.com/hashicorp/consul/api"
	"go.uber.org/zap"
)

const monitorInterval = 10 * time.Second

// Manager holds a Consul client and swaps to another agent when the current
// one stops answering. Callbacks run after every successful reconnect.
type Manager struct {
	addrs string
	log   *zap.Logger

	mu          sync.RWMutex
	client      *consul.Client
	currentAddr string
	onReconnect []func(*consul.Client)
}

func NewManager(addrs string, log *zap.Logger) (*Manager, error) {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Manager{addrs: addrs, log: log.Named("consul")}
	if err := m.reconnect(); err != nil {
		return nil, err
	}
	return m, nil
}

// OnReconnect registers fn to run, in its own goroutine, each time the manager
// switches agents.
func (m *Manager) OnReconnect(fn func(*consul.Client)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReconnect = append(m.onReconnect, fn)
}

func (m *Manager) Client() *consul.Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client
}

// Check reports whether the current agent still sees a leader.
func (m *Manager) Check(ctx context.Context) error {
	client := m.Client()
	if client == nil {
		return errNoAgent
	}
	_, err := client.Status().Leader()
	return err
}

func (m *Manager) reconnect() error {
	client, addr, err := NewConsulClient(m.addrs, m.log)
	if err != nil {
		return err
	}

	m.mu.Lock()
	previous := m.currentAddr
	m.client, m.currentAddr = client, addr
	callbacks := append([]func(*consul.Client)(nil), m.onReconnect...)
	m.mu.Unlock()

	if previous != "" {
		m.log.Info("switched consul agent", zap.String("from", previous), zap.String("to", addr))
		for _, cb := range callbacks {
			go cb(client)
		}
	}
	return nil
}

// Run checks the current agent until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		err := m.Check(ctx)
		if err == nil {
			continue
		}
		m.log.Warn("consul agent unhealthy, reconnecting", zap.Error(err))
		if err := m.reconnect(); err != nil {
			m.log.Error("consul reconnect failed", zap.Error(err))
		}
	}
}
