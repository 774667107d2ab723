package transport

// OffsetStrategy selects how the clock offset is recomputed from time-sync
// samples. The upstream protocol recomputes it from the most recent sample
// pair only; averaging across the ring is available for peers on jittery
// links.
type OffsetStrategy string

const (
	OffsetRecent   OffsetStrategy = "recent"
	OffsetAveraged OffsetStrategy = "averaged"
)

const latencyRingSize = 10

// clockSync keeps the last N round-trip measurements and the derived
// latency/offset estimates for one peer link. Not safe for concurrent use;
// PeerConnection guards it with its state mutex.
type clockSync struct {
	strategy OffsetStrategy

	roundTrips [latencyRingSize]int64
	offsets    [latencyRingSize]int64 // remote-local deltas, parallel to roundTrips
	hasOffset  [latencyRingSize]bool
	count      int
	next       int

	estimatedLatencyMs float64
	clockOffsetMicros  int64
}

func newClockSync(strategy OffsetStrategy) *clockSync {
	if strategy == "" {
		strategy = OffsetRecent
	}
	return &clockSync{strategy: strategy}
}

// update pushes one round-trip sample (overwriting the oldest once the ring
// is full) and recomputes both estimates. remoteTs/localRecv form the offset
// sample pair; when both are zero only the latency estimate is refreshed.
func (c *clockSync) update(roundTripMicros, remoteTs, localRecv int64) {
	hasPair := remoteTs != 0 || localRecv != 0

	c.roundTrips[c.next] = roundTripMicros
	c.offsets[c.next] = remoteTs - localRecv
	c.hasOffset[c.next] = hasPair
	c.next = (c.next + 1) % latencyRingSize
	if c.count < latencyRingSize {
		c.count++
	}

	avgRT := c.averageRoundTrip()
	c.estimatedLatencyMs = float64(avgRT) / 2000.0

	if !hasPair {
		return
	}
	switch c.strategy {
	case OffsetAveraged:
		var sum, n int64
		for i := 0; i < c.count; i++ {
			if c.hasOffset[i] {
				sum += c.offsets[i]
				n++
			}
		}
		if n > 0 {
			c.clockOffsetMicros = sum/n + avgRT/2
		}
	default:
		c.clockOffsetMicros = (remoteTs - localRecv) + avgRT/2
	}
}

func (c *clockSync) averageRoundTrip() int64 {
	if c.count == 0 {
		return 0
	}
	var sum int64
	for i := 0; i < c.count; i++ {
		sum += c.roundTrips[i]
	}
	return sum / int64(c.count)
}

// adjust converts a remote-clock timestamp into local-clock terms.
func (c *clockSync) adjust(remoteMicros int64) int64 {
	return remoteMicros - c.clockOffsetMicros
}
