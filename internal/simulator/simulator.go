// Package simulator synthesizes sensor readings for offline operation.
package simulator

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rickgao/skysense/internal/model"
)

// Range is a closed interval [Min, Max].
type Range struct {
	Min float64
	Max float64
}

// Contains reports whether v lies within the range.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Profile describes how synthetic readings are drawn.
type Profile struct {
	IDPrefix    string // sensor ids are IDPrefix + index
	PoolSize    int
	FirstIndex  int
	Temperature Range
	Humidity    Range
	Pressure    Range
	Decimals    int
}

// DashboardProfile is used by the connection manager when no backend is
// reachable: simulated_0..simulated_4, one decimal.
func DashboardProfile(poolSize int) Profile {
	return Profile{
		IDPrefix:    "simulated_",
		PoolSize:    poolSize,
		FirstIndex:  0,
		Temperature: Range{Min: 20, Max: 35},
		Humidity:    Range{Min: 40, Max: 80},
		Pressure:    Range{Min: 990, Max: 1030},
		Decimals:    1,
	}
}

// BackendProfile mirrors the readings emitted by the sensor backend:
// sensor_1..sensor_5, two decimals.
func BackendProfile(poolSize int) Profile {
	return Profile{
		IDPrefix:    "sensor_",
		PoolSize:    poolSize,
		FirstIndex:  1,
		Temperature: Range{Min: 18, Max: 33},
		Humidity:    Range{Min: 40, Max: 75},
		Pressure:    Range{Min: 990, Max: 1020},
		Decimals:    2,
	}
}

// SensorIDs returns the full id pool of the profile.
func (p Profile) SensorIDs() []string {
	ids := make([]string, p.PoolSize)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s%d", p.IDPrefix, p.FirstIndex+i)
	}
	return ids
}

// Generator draws readings from a Profile. Safe for concurrent use.
type Generator struct {
	profile Profile
	ids     []string
	now     func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a Generator. A nil rng uses a randomly seeded source and a nil
// now uses time.Now.
func New(profile Profile, rng *rand.Rand, now func() time.Time) *Generator {
	if profile.PoolSize < 1 {
		profile.PoolSize = 1
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if now == nil {
		now = time.Now
	}
	return &Generator{
		profile: profile,
		ids:     profile.SensorIDs(),
		now:     now,
		rng:     rng,
	}
}

// Profile returns the generator's profile.
func (g *Generator) Profile() Profile {
	return g.profile
}

// Next returns one reading for a random sensor in the pool.
func (g *Generator) Next() model.SensorReading {
	g.mu.Lock()
	id := g.ids[g.rng.IntN(len(g.ids))]
	r := g.draw(id)
	g.mu.Unlock()
	return r
}

// Batch returns one reading per sensor in the pool, all with the same timestamp.
func (g *Generator) Batch() []model.SensorReading {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]model.SensorReading, len(g.ids))
	ts := g.now().UTC()
	for i, id := range g.ids {
		out[i] = g.draw(id)
		out[i].Timestamp = ts
	}
	return out
}

func (g *Generator) draw(id string) model.SensorReading {
	return model.SensorReading{
		SensorID:    id,
		Temperature: g.sample(g.profile.Temperature),
		Humidity:    g.sample(g.profile.Humidity),
		Pressure:    g.sample(g.profile.Pressure),
		Timestamp:   g.now().UTC(),
		Source:      model.SourceSimulation,
	}
}

// sample draws uniformly from r and rounds to the profile's precision,
// clamping so rounding never leaves the range.
func (g *Generator) sample(r Range) float64 {
	v := round(r.Min+g.rng.Float64()*(r.Max-r.Min), g.profile.Decimals)
	return math.Min(math.Max(v, r.Min), r.Max)
}

func round(v float64, decimals int) float64 {
	scale := math.Pow(10, float64(decimals))
	return math.Round(v*scale) / scale
}
