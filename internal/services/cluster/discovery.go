package cluster

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"

	consul "github.com/hashicorp/consul/api"
)

const schemeConsul = "consul://"

// Resolve turns "consul://<service>" into the host:port of a random healthy
// instance. Any other target is returned untouched. A scheme prefix on the
// original, such as "nats://" before "consul://", is kept.
func Resolve(client *consul.Client, target string) (string, error) {
	prefix, service, ok := splitTarget(target)
	if !ok {
		return target, nil
	}
	if client == nil {
		return "", fmt.Errorf("resolve %s: %w", target, errNoAgent)
	}
	entries, _, err := client.Health().Service(service, "", true, nil)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", service, err)
	}
	if len(entries) == 0 {
		return "", fmt.Errorf("resolve %s: no healthy instance", service)
	}
	return prefix + entryAddr(entries[rand.IntN(len(entries))]), nil
}

func splitTarget(target string) (prefix, service string, ok bool) {
	i := strings.Index(target, schemeConsul)
	if i < 0 {
		return "", "", false
	}
	service = strings.Trim(target[i+len(schemeConsul):], "/")
	if service == "" {
		return "", "", false
	}
	return target[:i], service, true
}

func entryAddr(e *consul.ServiceEntry) string {
	addr := e.Service.Address
	if addr == "" && e.Node != nil {
		addr = e.Node.Address
	}
	return addr + ":" + strconv.Itoa(e.Service.Port)
}
