package session

import (
	"sync"

	"coinflip/internal/network"
	"coinflip/internal/services/gameroom"

	"go.uber.org/zap"
)

// Gateway fans room events out to connections. It is the EventSink and the
// Membership of the room directory.
type Gateway struct {
	registry *Registry
	log      *zap.Logger

	mu     sync.RWMutex
	rooms  map[string]map[string]network.Conn
	onDead func(matchID string, c network.Conn)
}

func NewGateway(registry *Registry, log *zap.Logger) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{
		registry: registry,
		log:      log.Named("gateway"),
		rooms:    make(map[string]map[string]network.Conn),
	}
}

// OnDead sets the callback told about connections dropped during a send.
func (g *Gateway) OnDead(fn func(matchID string, c network.Conn)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onDead = fn
}

func (g *Gateway) Join(matchID string, c network.Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	members, ok := g.rooms[matchID]
	if !ok {
		members = make(map[string]network.Conn)
		g.rooms[matchID] = members
	}
	members[c.ID()] = c
}

func (g *Gateway) Leave(matchID string, c network.Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	members, ok := g.rooms[matchID]
	if !ok {
		return
	}
	delete(members, c.ID())
	if len(members) == 0 {
		delete(g.rooms, matchID)
	}
}

// Members returns the number of connections registered under matchID.
func (g *Gateway) Members(matchID string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms[matchID])
}

func (g *Gateway) Emit(ev gameroom.Event) {
	msg, err := ev.Message()
	if err != nil {
		g.log.Error("cannot encode event", zap.String("match", ev.MatchID), zap.String("type", string(ev.Type)), zap.Error(err))
		return
	}
	switch {
	case ev.Conn != nil:
		if err := ev.Conn.Send(msg); err != nil {
			g.drop(ev.MatchID, []network.Conn{ev.Conn})
		}
	case ev.To != "":
		g.SendToPlayer(ev.To, msg)
	default:
		g.Broadcast(ev.MatchID, msg)
	}
}

// Broadcast sends msg to every member of matchID and removes members whose
// connection is dead. It returns how many sends succeeded.
func (g *Gateway) Broadcast(matchID string, msg network.Message) int {
	g.mu.RLock()
	members := make([]network.Conn, 0, len(g.rooms[matchID]))
	for _, c := range g.rooms[matchID] {
		members = append(members, c)
	}
	g.mu.RUnlock()

	delivered := 0
	var dead []network.Conn
	for _, c := range members {
		if err := c.Send(msg); err != nil {
			dead = append(dead, c)
			continue
		}
		delivered++
	}
	if len(dead) > 0 {
		g.drop(matchID, dead)
	}

	g.log.Debug("broadcast",
		zap.String("match", matchID),
		zap.String("type", msg.Type),
		zap.Int("delivered", delivered),
		zap.Int("dead", len(dead)))
	return delivered
}

// SendToPlayer delivers msg to the live connection of address. A player
// without one misses the message; attach resynchronizes state.
func (g *Gateway) SendToPlayer(address gameroom.PlayerRef, msg network.Message) bool {
	c, ok := g.registry.Resolve(address)
	if !ok {
		g.log.Debug("no live connection", zap.String("address", address.String()), zap.String("type", msg.Type))
		return false
	}
	if err := c.Send(msg); err != nil {
		g.log.Debug("direct send failed", zap.String("address", address.String()), zap.Error(err))
		for _, matchID := range g.registry.Matches(c) {
			g.drop(matchID, []network.Conn{c})
		}
		return false
	}
	return true
}

func (g *Gateway) drop(matchID string, dead []network.Conn) {
	g.mu.Lock()
	members := g.rooms[matchID]
	for _, c := range dead {
		delete(members, c.ID())
	}
	if members != nil && len(members) == 0 {
		delete(g.rooms, matchID)
	}
	onDead := g.onDead
	g.mu.Unlock()

	for _, c := range dead {
		g.log.Info("dropping dead connection", zap.String("match", matchID), zap.String("conn", c.ID()))
		// A conn that failed once is closed for good, so its owner
		// reconnects instead of playing on without room events.
		c.Close()
		if onDead != nil {
			onDead(matchID, c)
		}
	}
}
