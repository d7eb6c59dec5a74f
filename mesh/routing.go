package mesh

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gamevidea/meshchat/internal/protocol"
	"github.com/sirupsen/logrus"
)

// route is one routing table entry: the hop count to a destination and the
// direct neighbour the traffic leaves through.
type route struct {
	cost byte
	next byte
}

// Router maintains the distance-vector routing table. Direct neighbours are
// tracked with a miss-counter fed by the keep-alive ticker; the table is
// advertised through link-state frames and updated from the advertisements
// of others.
type Router struct {
	log *logrus.Entry
	mac *MAC

	mu        sync.Mutex
	own       byte
	table     map[byte]route
	neighbors map[byte]int

	// quiet fans out the last table change: after an advertisement that
	// changed nothing it is decremented and the advertisement repeated,
	// until it reaches zero.
	quiet int

	// onReachable publishes the set of routed destinations whenever it
	// changes; the chunker consumes it for broadcasts.
	onReachable func([]byte)
}

// NewRouter creates a router that advertises through the given MAC.
func NewRouter(mac *MAC, log *logrus.Logger) *Router {
	return &Router{
		log:       log.WithField("component", "routing"),
		mac:       mac,
		table:     make(map[byte]route),
		neighbors: make(map[byte]int),
	}
}

// SetReachableSink registers the callback that receives the routed
// destination set after every change. Must be called before the router
// handles any frame.
func (r *Router) SetReachableSink(sink func([]byte)) {
	r.onReachable = sink
}

// SetOwn publishes the node's self-assigned id to the router.
func (r *Router) SetOwn(id byte) {
	r.mu.Lock()
	r.own = id
	r.quiet = 3
	r.mu.Unlock()
}

// NextHop resolves the direct neighbour leading to dest, or 0 when the
// destination is not routable.
func (r *Router) NextHop(dest byte) byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.table[dest]; ok {
		return entry.next
	}

	r.log.WithField("dest", dest).Warn("destination not in routing table")
	return 0
}

// Destinations returns every routed destination in ascending order.
func (r *Router) Destinations() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.destinationsLocked()
}

func (r *Router) destinationsLocked() []byte {
	dests := make([]byte, 0, len(r.table))
	for dest := range r.table {
		dests = append(dests, dest)
	}

	sort.Slice(dests, func(i, j int) bool { return dests[i] < dests[j] })
	return dests
}

// Size returns the number of routed destinations.
func (r *Router) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.table)
}

// HandleKeepAlive refreshes the sender as a direct neighbour. A previously
// unknown sender is installed as a cost-1 route and the table is
// re-advertised.
func (r *Router) HandleKeepAlive(sender byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.own == 0 || sender == 0 || sender == r.own {
		return
	}

	_, known := r.neighbors[sender]
	r.neighbors[sender] = 0

	if known {
		return
	}

	if _, ok := r.table[sender]; !ok {
		r.table[sender] = route{cost: 1, next: sender}
		r.publishLocked()
		r.broadcastLocked()
	}
}

// HandleLinkState folds a neighbour's advertisement into the table:
// destinations the advertiser lost are dropped, the advertiser itself
// becomes a cost-1 route, and any advertised destination that is new or
// strictly cheaper through the advertiser replaces the current entry.
// Equal costs never replace.
func (r *Router) HandleLinkState(frame []byte) {
	ls, err := protocol.ParseLinkState(frame)
	if err != nil {
		r.log.WithError(err).Warn("dropping malformed link-state frame")
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.own == 0 || ls.Source == 0 || ls.Source == r.own {
		return
	}

	sender := ls.Source
	changed := false

	advertised := make(map[byte]bool, len(ls.Entries))
	for _, entry := range ls.Entries {
		advertised[entry.Destination] = true
	}

	// The advertiser lost every destination it no longer lists.
	for dest, entry := range r.table {
		if entry.next == sender && !advertised[dest] {
			delete(r.table, dest)
			changed = true
		}
	}

	if _, ok := r.neighbors[sender]; ok {
		r.neighbors[sender] = 0
	}

	if _, ok := r.table[sender]; !ok {
		r.table[sender] = route{cost: 1, next: sender}
		changed = true
	}

	for _, entry := range ls.Entries {
		if entry.Destination == r.own || entry.Destination == 0 {
			continue
		}

		cost := entry.Cost + 1
		current, ok := r.table[entry.Destination]

		if !ok {
			r.table[entry.Destination] = route{cost: cost, next: sender}
			changed = true
		} else if cost < current.cost {
			r.table[entry.Destination] = route{cost: cost, next: sender}
			changed = true
		}
	}

	if changed {
		r.publishLocked()
		r.broadcastLocked()
		r.quiet = 3
	} else if r.quiet > 0 {
		r.broadcastLocked()
		r.quiet -= 1
	}
}

// Broadcast advertises the current table.
func (r *Router) Broadcast() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.broadcastLocked()
}

func (r *Router) broadcastLocked() {
	entries := make([]protocol.RouteAdvert, 0, len(r.table))
	for _, dest := range r.destinationsLocked() {
		entries = append(entries, protocol.RouteAdvert{Destination: dest, Cost: r.table[dest].cost})
	}

	frame := protocol.EncodeLinkState(protocol.LinkState{Source: r.own, Entries: entries})
	r.mac.EnqueueBackground(frame)
}

func (r *Router) publishLocked() {
	if r.onReachable != nil {
		r.onReachable(r.destinationsLocked())
	}
}

// RunKeepAlive emits keep-alives and ages the neighbour set. The first
// emission happens after a short random delay; the loop period is drawn
// once. Each tick increments every miss-counter; a neighbour past the miss
// limit is evicted together with every route to it or through it.
func (r *Router) RunKeepAlive(ctx context.Context) {
	if !sleepCtx(ctx, jitter(protocol.KEEP_ALIVE_DELAY_MIN, protocol.KEEP_ALIVE_DELAY_MAX)) {
		return
	}

	r.emitKeepAlive()

	period := jitter(protocol.KEEP_ALIVE_PERIOD_MIN, protocol.KEEP_ALIVE_PERIOD_MAX)

	for {
		if !sleepCtx(ctx, period) {
			return
		}

		r.emitKeepAlive()
		r.tick()
	}
}

func (r *Router) emitKeepAlive() {
	r.mu.Lock()
	own := r.own
	r.mu.Unlock()

	r.mac.EnqueueBackground(protocol.EncodeKeepAlive(own))
}

// Ages every neighbour by one missed tick and evicts the dead.
func (r *Router) tick() {
	r.mu.Lock()
	defer r.mu.Unlock()

	var dead []byte
	for neighbor := range r.neighbors {
		r.neighbors[neighbor] += 1
		if r.neighbors[neighbor] > protocol.NEIGHBOR_MISS_LIMIT {
			dead = append(dead, neighbor)
		}
	}

	if len(dead) == 0 {
		return
	}

	for _, neighbor := range dead {
		delete(r.neighbors, neighbor)

		for dest, entry := range r.table {
			if dest == neighbor || entry.next == neighbor {
				delete(r.table, dest)
			}
		}

		r.log.WithField("neighbor", neighbor).Info("neighbor timed out")
	}

	r.publishLocked()
	r.broadcastLocked()
}

// RunPeriodic re-advertises the table at a slow random cadence for as long
// as the node lives.
func (r *Router) RunPeriodic(ctx context.Context) {
	for {
		r.Broadcast()

		if !sleepCtx(ctx, jitter(protocol.LINK_STATE_PERIOD_MIN, protocol.LINK_STATE_PERIOD_MAX)) {
			return
		}
	}
}

// Bootstrap advertises every 15 seconds until the table has grown to the
// bootstrap target, then publishes the reachable set once. Returns false
// when cancelled first.
func (r *Router) Bootstrap(ctx context.Context) bool {
	for r.Size() < protocol.BOOTSTRAP_TARGET {
		r.Broadcast()

		if !sleepCtx(ctx, protocol.BOOTSTRAP_INTERVAL) {
			return false
		}
	}

	r.mu.Lock()
	r.publishLocked()
	r.mu.Unlock()

	return true
}

// Sleeps for d. Returns false when the context ends first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
