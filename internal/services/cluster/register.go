package cluster

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	consul "github.com/hashicorp/consul/api"
	"go.uber.org/zap"
)

var errNoAgent = errors.New("cluster: no consul agent")

// Registration describes this coordinator instance in the catalog.
type Registration struct {
	Name string
	// Host is the advertised hostname; the health check URL uses it.
	Host string
	Port int
	Tags []string
}

func (r Registration) ID() string {
	host := r.Host
	if host == "" {
		host, _ = os.Hostname()
	}
	return fmt.Sprintf("%s-%s", r.Name, host)
}

func (r Registration) agentRegistration() *consul.AgentServiceRegistration {
	return &consul.AgentServiceRegistration{
		ID:      r.ID(),
		Name:    r.Name,
		Port:    r.Port,
		Address: r.Host,
		Tags:    r.Tags,
		Meta:    map[string]string{"ws": "/ws"},
		Check: &consul.AgentServiceCheck{
			HTTP:                           "http://" + r.Host + ":" + strconv.Itoa(r.Port) + "/health",
			Timeout:                        "5s",
			Interval:                       "10s",
			DeregisterCriticalServiceAfter: "1m",
		},
	}
}

// Register adds the service to the agent with an HTTP check on /health.
func Register(client *consul.Client, r Registration, log *zap.Logger) error {
	if client == nil {
		return errNoAgent
	}
	if err := client.Agent().ServiceRegister(r.agentRegistration()); err != nil {
		return fmt.Errorf("register %s: %w", r.ID(), err)
	}
	if log != nil {
		log.Info("registered in consul", zap.String("service", r.Name), zap.String("id", r.ID()))
	}
	return nil
}

func Deregister(client *consul.Client, r Registration) error {
	if client == nil {
		return errNoAgent
	}
	if err := client.Agent().ServiceDeregister(r.ID()); err != nil {
		return fmt.Errorf("deregister %s: %w", r.ID(), err)
	}
	return nil
}
