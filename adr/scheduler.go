package adr

// ReadyToleranceS is the absolute tolerance applied when comparing a
// scheduled transmit time against a deadline, to absorb float drift
// in the caller's event clock.
const ReadyToleranceS = 1e-6

// ScheduledDownlink is one pending downlink frame for a node, keyed
// by its absolute transmit time in seconds of simulation time.
type ScheduledDownlink struct {
	NodeID    string
	Time      float64
	Frame     []byte
	GatewayID string
}

// DownlinkScheduler keeps a per-node time-ordered queue of pending
// downlinks. The ADR use case holds at most one entry per node, but
// the queue supports ordered sequences for other downlink sources.
type DownlinkScheduler struct {
	queues map[string][]ScheduledDownlink
}

func NewDownlinkScheduler() *DownlinkScheduler {
	return &DownlinkScheduler{queues: make(map[string][]ScheduledDownlink)}
}

// Schedule inserts an entry keeping the node's queue sorted by time.
// Entries with equal times keep insertion order.
func (s *DownlinkScheduler) Schedule(d ScheduledDownlink) {
	q := s.queues[d.NodeID]
	i := len(q)
	for i > 0 && q[i-1].Time > d.Time {
		i--
	}
	q = append(q, ScheduledDownlink{})
	copy(q[i+1:], q[i:])
	q[i] = d
	s.queues[d.NodeID] = q
}

// Replace supersedes everything pending for the node with the given
// entry. ADR commands use this: a newer command invalidates whatever
// was queued before it.
func (s *DownlinkScheduler) Replace(d ScheduledDownlink) {
	delete(s.queues, d.NodeID)
	s.Schedule(d)
}

// PopReady removes and returns the node's earliest entry if its
// transmit time is at or before the deadline (within
// ReadyToleranceS). The second return is false when nothing is ready.
func (s *DownlinkScheduler) PopReady(nodeID string, deadline float64) (ScheduledDownlink, bool) {
	q := s.queues[nodeID]
	if len(q) == 0 {
		return ScheduledDownlink{}, false
	}
	head := q[0]
	if head.Time > deadline+ReadyToleranceS {
		return ScheduledDownlink{}, false
	}
	if len(q) == 1 {
		delete(s.queues, nodeID)
	} else {
		s.queues[nodeID] = q[1:]
	}
	return head, true
}

// Pending returns the number of queued entries for a node.
func (s *DownlinkScheduler) Pending(nodeID string) int {
	return len(s.queues[nodeID])
}

// Clear drops every pending entry for one node.
func (s *DownlinkScheduler) Clear(nodeID string) {
	delete(s.queues, nodeID)
}

// ClearAll drops every pending entry. Used when ADR state is
// externally reset, e.g. by replay harnesses.
func (s *DownlinkScheduler) ClearAll() {
	s.queues = make(map[string][]ScheduledDownlink)
}
