package j1939

import (
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.einride.tech/can"
)

// LiveSignalEvent is one simulated reading pushed to subscribers.
type LiveSignalEvent struct {
	SignalID      string  `json:"signal_id"`
	TimestampMS   float64 `json:"timestamp_ms"`
	PhysicalValue float64 `json:"physical_value"`
	RawValue      uint64  `json:"raw_value"`
	DataBytes     string  `json:"data_bytes"`
	CANIDHex      string  `json:"can_id_hex"`
	Unit          string  `json:"unit"`

	Frame can.Frame `json:"-"` // for sinks that speak raw CAN
}

// Sink receives everything the simulation worker produces. Implementations
// must not block for long; the worker publishes inline between sleeps.
type Sink interface {
	PublishSignal(event LiveSignalEvent)
	PublishFault(err error)
}

// Simulator drives a single background worker over the catalog's live signal
// set. It is a two state machine, Idle and Running; Start and Stop are the
// only control surface and are safe to call from any goroutine.
type Simulator struct {
	catalog *Catalog
	sink    Sink

	mu     sync.Mutex
	active bool
}

func NewSimulator(catalog *Catalog, sink Sink) (sim *Simulator) {
	sim = new(Simulator)
	sim.catalog = catalog
	sim.sink = sink
	return
}

// Start transitions to Running and spawns the worker. Calling Start while
// already Running is a no-op; there is never more than one worker.
func (s *Simulator) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		return false
	}
	s.active = true
	go s.run()
	return true
}

// Stop flags the worker to exit and returns immediately. The worker only
// checks the flag between full passes, so it may keep emitting for up to one
// pass worth of sleeps after Stop returns. That latency is a contract, not an
// accident: stopping mid-pass would break the fixed round-robin sequence.
func (s *Simulator) Stop() {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()
}

func (s *Simulator) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Simulator) run() {
	for s.Active() {
		for _, def := range s.catalog.LiveSignals() {
			value := def.MinPhysical + rand.Float64()*(def.MaxPhysical-def.MinPhysical)

			frame, err := EncodeSignal(value, def)
			if err != nil {
				s.fail(def.ID, err)
				return
			}

			s.sink.PublishSignal(LiveSignalEvent{
				SignalID:      def.ID,
				TimestampMS:   float64(time.Now().UnixNano()) / 1e6,
				PhysicalValue: value,
				RawValue:      frame.RawValue,
				DataBytes:     frame.DataBytes,
				CANIDHex:      frame.CANIDHex,
				Unit:          def.Unit,
				Frame:         frame.Frame(),
			})

			time.Sleep(time.Duration(def.TransmissionRate) * time.Millisecond)
		}
	}
}

// fail returns the machine to Idle and surfaces the fault as an event, so a
// dead worker is observable and a later Start can recover.
func (s *Simulator) fail(signal string, err error) {
	logrus.WithError(err).WithField("signal", signal).Error("simulation worker halted")

	s.mu.Lock()
	s.active = false
	s.mu.Unlock()

	s.sink.PublishFault(err)
}
