package perfstats

import (
	"sort"
	"sync"
	"time"
)

// Two scalars (N samples and X total amount), which can measure total and average values.
type Accumulator struct {
	Samples int64
	Total   float64
}

func (a *Accumulator) Reset() {
	a.Samples = 0
	a.Total = 0
}

func (a *Accumulator) AddSample(v float64) {
	a.Samples++
	a.Total += v
}

func (a *Accumulator) Average() float64 {
	if a.Samples == 0 {
		return 0
	}
	return a.Total / float64(a.Samples)
}

// Accumulate samples of how long something took
type TimeAccumulator struct {
	Samples int64
	Total   time.Duration
}

func (a *TimeAccumulator) Reset() {
	a.Samples = 0
	a.Total = 0
}

func (a *TimeAccumulator) AddSample(v time.Duration) {
	a.Samples++
	a.Total += v
}

func (a *TimeAccumulator) Average() time.Duration {
	if a.Samples == 0 {
		return 0
	}
	return time.Duration(a.Total.Nanoseconds() / a.Samples)
}

// Recorder holds named timings and counts from many execution contexts.
// It is safe for concurrent use.
type Recorder struct {
	lock   sync.Mutex
	times  map[string]*TimeAccumulator
	counts map[string]*Accumulator
}

func NewRecorder() *Recorder {
	return &Recorder{
		times:  map[string]*TimeAccumulator{},
		counts: map[string]*Accumulator{},
	}
}

func (r *Recorder) AddTime(name string, d time.Duration) {
	r.lock.Lock()
	defer r.lock.Unlock()
	acc := r.times[name]
	if acc == nil {
		acc = &TimeAccumulator{}
		r.times[name] = acc
	}
	acc.AddSample(d)
}

func (r *Recorder) AddCount(name string, v float64) {
	r.lock.Lock()
	defer r.lock.Unlock()
	acc := r.counts[name]
	if acc == nil {
		acc = &Accumulator{}
		r.counts[name] = acc
	}
	acc.AddSample(v)
}

func (r *Recorder) Reset() {
	r.lock.Lock()
	defer r.lock.Unlock()
	clear(r.times)
	clear(r.counts)
}

// Stat is one line of a Snapshot
type Stat struct {
	Name    string  `json:"name"`
	Samples int64   `json:"samples"`
	Average float64 `json:"average"` // Milliseconds for timings
}

// Snapshot returns the timings and counts, sorted by name
func (r *Recorder) Snapshot() (times, counts []Stat) {
	r.lock.Lock()
	defer r.lock.Unlock()
	for name, acc := range r.times {
		times = append(times, Stat{Name: name, Samples: acc.Samples, Average: float64(acc.Average().Microseconds()) / 1000})
	}
	for name, acc := range r.counts {
		counts = append(counts, Stat{Name: name, Samples: acc.Samples, Average: acc.Average()})
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Name < times[j].Name })
	sort.Slice(counts, func(i, j int) bool { return counts[i].Name < counts[j].Name })
	return
}
