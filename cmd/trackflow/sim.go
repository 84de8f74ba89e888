package main

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/trackflow/trackflow/internal/model"
)

// simModem simulates the long-range link for bench runs: signal quality
// drifts on a 0-5 random walk and sends carry a short latency. A fixed
// quality can be pinned with the --signal flag.
type simModem struct {
	mu      sync.Mutex
	fixed   int // -1 means drift
	quality int
	rng     *rand.Rand
	latency time.Duration
}

func newSimModem(fixed int) *simModem {
	return &simModem{
		fixed:   fixed,
		quality: 4,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		latency: 150 * time.Millisecond,
	}
}

func (m *simModem) SignalQuality(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fixed >= 0 {
		return m.fixed, nil
	}
	m.quality += m.rng.Intn(3) - 1
	if m.quality < 0 {
		m.quality = 0
	}
	if m.quality > 5 {
		m.quality = 5
	}
	return m.quality, nil
}

func (m *simModem) Send(ctx context.Context, payload []byte) error {
	t := time.NewTimer(m.latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// simSampler produces a plausible track: a slow random walk from a base
// position with matching speed and heading.
type simSampler struct {
	mu   sync.Mutex
	rng  *rand.Rand
	lat  int32
	lon  int32
	hdg  int32
	sats uint8
}

func newSimSampler() *simSampler {
	return &simSampler{
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
		lat:  377749000,  // 37.7749 deg
		lon:  -1224194000, // -122.4194 deg
		hdg:  9000000,
		sats: 8,
	}
}

func (s *simSampler) Sample() (model.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lat += int32(s.rng.Intn(2001) - 1000)
	s.lon += int32(s.rng.Intn(2001) - 1000)
	s.hdg = (s.hdg + int32(s.rng.Intn(200001)-100000) + 36000000) % 36000000

	return model.Record{
		LatE7:      s.lat,
		LonE7:      s.lon,
		AltitudeMM: 15000,
		SpeedMMs:   int32(s.rng.Intn(3000)),
		HeadingE5:  s.hdg,
		Satellites: s.sats,
		Time:       time.Now().UTC(),
		Source:     "sim",
	}, true
}
