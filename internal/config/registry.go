package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/speakwell/internal/prosody"
)

// ErrTrackerNotRegistered is returned by [Registry.CreateTracker] when no
// factory has been registered under the requested tracker name.
var ErrTrackerNotRegistered = errors.New("config: pitch tracker not registered")

// builtinTrackers lists the tracker names [NewRegistry] registers.
var builtinTrackers = []string{"pyin", "yin"}

func isBuiltinTracker(name string) bool {
	return slices.Contains(builtinTrackers, name)
}

// TrackerFactory builds a pitch tracker from the prosody settings.
type TrackerFactory func(ProsodyConfig) (prosody.PitchTracker, error)

// Registry maps pitch tracker names to their constructor functions. It is
// safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	trackers map[string]TrackerFactory
}

// NewRegistry returns a [Registry] with the built-in "pyin" and "yin"
// trackers registered.
func NewRegistry() *Registry {
	r := &Registry{trackers: make(map[string]TrackerFactory)}
	r.RegisterTracker("pyin", func(p ProsodyConfig) (prosody.PitchTracker, error) {
		return prosody.NewPYIN(p.PYINFMin, p.PYINFMax, p.FrameLength, p.HopLength), nil
	})
	r.RegisterTracker("yin", func(p ProsodyConfig) (prosody.PitchTracker, error) {
		return prosody.NewYIN(p.YINFMin, p.YINFMax, p.FrameLength, p.HopLength), nil
	})
	return r
}

// RegisterTracker registers a pitch tracker factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterTracker(name string, factory TrackerFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trackers[name] = factory
}

// CreateTracker instantiates the tracker registered under name.
// Returns [ErrTrackerNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateTracker(name string, p ProsodyConfig) (prosody.PitchTracker, error) {
	r.mu.RLock()
	factory, ok := r.trackers[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTrackerNotRegistered, name)
	}
	return factory(p)
}

// BuildTracker creates every tracker listed in p.PitchTrackers and joins
// them into a fallback [prosody.Chain] in the listed order.
func (r *Registry) BuildTracker(p ProsodyConfig) (prosody.PitchTracker, error) {
	trackers := make([]prosody.PitchTracker, 0, len(p.PitchTrackers))
	for _, name := range p.PitchTrackers {
		t, err := r.CreateTracker(name, p)
		if err != nil {
			return nil, err
		}
		trackers = append(trackers, t)
	}
	return prosody.NewChain(p.MinVoicedFrames, p.MinVoicedDensity, trackers...), nil
}
