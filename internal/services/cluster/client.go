package cluster

import (
	"fmt"
	"strings"

	consul "github.com/hashicorp/consul/api"
	"go.uber.org/zap"
)

// NewConsulClient tries each comma-separated agent address in turn and returns
// the first client whose agent can see a cluster leader.
func NewConsulClient(addrs string, log *zap.Logger) (*consul.Client, string, error) {
	if log == nil {
		log = zap.NewNop()
	}
	for _, node := range splitAddrs(addrs) {
		cfg := consul.DefaultConfig()
		cfg.Address = node

		client, err := consul.NewClient(cfg)
		if err != nil {
			log.Warn("consul client rejected", zap.String("node", node), zap.Error(err))
			continue
		}
		if _, err := client.Status().Leader(); err != nil {
			log.Warn("consul node has no leader", zap.String("node", node), zap.Error(err))
			continue
		}
		log.Info("connected to consul", zap.String("node", node))
		return client, node, nil
	}
	return nil, "", fmt.Errorf("no consul node available in %q", addrs)
}

func splitAddrs(addrs string) []string {
	var out []string
	for _, a := range strings.Split(addrs, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}
