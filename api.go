package main

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/CodedInternet/goj1939sim/comms"
	"github.com/CodedInternet/goj1939sim/j1939"
	"github.com/go-chi/chi"
	"github.com/go-chi/render"
)

//---
// Payloads
//---

type PGNSummary struct {
	PGN  uint32 `json:"pgn"`
	Hex  string `json:"hex"`
	Name string `json:"name"`
}

type PGNListPayload struct {
	PGNs []PGNSummary `json:"pgns"`
}

type SPNSummary struct {
	SPN        uint32  `json:"spn"`
	Name       string  `json:"name"`
	Unit       string  `json:"unit"`
	Resolution float64 `json:"resolution"`
	Offset     float64 `json:"offset"`
	LengthBits uint8   `json:"length_bits"`
	StartByte  uint8   `json:"start_byte"`
	StartBit   uint8   `json:"start_bit"`
}

type SPNListPayload struct {
	SPNs []SPNSummary `json:"spns"`
}

type LiveSignalSummary struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	PGN              uint32  `json:"pgn"`
	PGNHex           string  `json:"pgn_hex"`
	SPN              uint32  `json:"spn"`
	Resolution       float64 `json:"resolution"`
	Offset           float64 `json:"offset"`
	Unit             string  `json:"unit"`
	TransmissionRate uint32  `json:"transmission_rate"`
	MinPhysical      float64 `json:"min_physical"`
	MaxPhysical      float64 `json:"max_physical"`
	StartByte        uint8   `json:"start_byte"`
	StartBit         uint8   `json:"start_bit"`
	LengthBits       uint8   `json:"length_bits"`
}

type LiveSignalListPayload struct {
	Signals []LiveSignalSummary `json:"signals"`
}

type EncodePayload struct {
	SignalID      string  `json:"signal_id"`
	PhysicalValue float64 `json:"physical_value"`
}

func (p *EncodePayload) Bind(r *http.Request) error {
	if p.SignalID == "" {
		return errors.New("signal_id is required")
	}
	return nil
}

//---
// Views
//---

// ListPGNs serves the parameter group index.
func ListPGNs(w http.ResponseWriter, r *http.Request) {
	groups := ENV.Catalog.ParameterGroups()

	payload := PGNListPayload{PGNs: make([]PGNSummary, 0, len(groups))}
	for _, group := range groups {
		payload.PGNs = append(payload.PGNs, PGNSummary{
			PGN:  group.PGN,
			Hex:  fmt.Sprintf("0x%04X", group.PGN),
			Name: group.Name,
		})
	}

	render.JSON(w, r, payload)
}

// ListSPNs serves the signals of one parameter group. Unknown PGNs answer
// with an empty list rather than a 404.
func ListSPNs(w http.ResponseWriter, r *http.Request) {
	pgn, err := strconv.ParseUint(chi.URLParam(r, "pgn"), 10, 32)
	if err != nil {
		render.Render(w, r, ErrInvalidRequest(errors.New("pgn must be numeric")))
		return
	}

	defs := ENV.Catalog.SPNs(uint32(pgn))

	payload := SPNListPayload{SPNs: make([]SPNSummary, 0, len(defs))}
	for _, def := range defs {
		payload.SPNs = append(payload.SPNs, SPNSummary{
			SPN:        def.SPN,
			Name:       def.Name,
			Unit:       def.Unit,
			Resolution: def.Resolution,
			Offset:     def.Offset,
			LengthBits: def.LengthBits,
			StartByte:  def.StartByte,
			StartBit:   def.StartBit,
		})
	}

	render.JSON(w, r, payload)
}

// ListLiveSignals serves the full simulated signal configuration.
func ListLiveSignals(w http.ResponseWriter, r *http.Request) {
	defs := ENV.Catalog.LiveSignals()

	payload := LiveSignalListPayload{Signals: make([]LiveSignalSummary, 0, len(defs))}
	for _, def := range defs {
		payload.Signals = append(payload.Signals, LiveSignalSummary{
			ID:               def.ID,
			Name:             def.Name,
			PGN:              def.PGN,
			PGNHex:           fmt.Sprintf("0x%04X", def.PGN),
			SPN:              def.SPN,
			Resolution:       def.Resolution,
			Offset:           def.Offset,
			Unit:             def.Unit,
			TransmissionRate: def.TransmissionRate,
			MinPhysical:      def.MinPhysical,
			MaxPhysical:      def.MaxPhysical,
			StartByte:        def.StartByte,
			StartBit:         def.StartBit,
			LengthBits:       def.LengthBits,
		})
	}

	render.JSON(w, r, payload)
}

// Encode turns one physical value into a full CAN frame breakdown.
func Encode(w http.ResponseWriter, r *http.Request) {
	data := &EncodePayload{}
	if err := render.Bind(r, data); err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}

	def, err := ENV.Catalog.LiveSignal(data.SignalID)
	if err != nil {
		render.Render(w, r, ErrInvalidRequest(errors.New("Invalid signal ID")))
		return
	}

	frame, err := j1939.EncodeSignal(data.PhysicalValue, def)
	if err != nil {
		render.Render(w, r, ErrRender(err))
		return
	}

	render.JSON(w, r, frame)
}

// StartSimulation and StopSimulation are the REST twins of the websocket
// commands. The ack reflects the state machine right after the transition,
// not whether the worker has observed it yet.
func StartSimulation(w http.ResponseWriter, r *http.Request) {
	ENV.Conductor.Simulator.Start()
	render.JSON(w, r, comms.SimulationStatus{Active: ENV.Conductor.Simulator.Active()})
}

func StopSimulation(w http.ResponseWriter, r *http.Request) {
	ENV.Conductor.Simulator.Stop()
	render.JSON(w, r, comms.SimulationStatus{Active: ENV.Conductor.Simulator.Active()})
}
