package chat

// presenceTracker maps room names to their server-reported user counts.
// Updates are last-write-wins; the client never derives presence locally.
type presenceTracker struct {
	counts map[string]int
}

func newPresenceTracker() *presenceTracker {
	return &presenceTracker{counts: make(map[string]int)}
}

func (p *presenceTracker) set(room string, count int) {
	p.counts[room] = count
}

func (p *presenceTracker) count(room string) int {
	return p.counts[room]
}

func (p *presenceTracker) snapshot() map[string]int {
	counts := make(map[string]int, len(p.counts))
	for room, count := range p.counts {
		counts[room] = count
	}
	return counts
}
