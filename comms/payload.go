package comms

// Event envelopes everything pushed over the live websocket.
type Event struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// Command is what clients send back on the same socket.
type Command struct {
	Event string `json:"event"`
}

type SimulationStatus struct {
	Active bool `json:"active"`
}

type SimulationFault struct {
	Error string `json:"error"`
}

const (
	EVENT_LIVE_SIGNAL = "live_signal"
	EVENT_SIM_STATUS  = "simulation_status"
	EVENT_SIM_FAULT   = "simulation_fault"

	CMD_START_SIM = "start_live_simulation"
	CMD_STOP_SIM  = "stop_live_simulation"
)
