package comms

import (
	"context"
	"sync"

	"github.com/CodedInternet/goj1939sim/j1939"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const clientBuffer = 64

// Client is one websocket subscriber. Writes go through a buffered channel so
// a stalled peer cannot hold up the simulation worker; overflowing events are
// dropped for that client only.
type Client struct {
	conn *websocket.Conn
	send chan Event
	once sync.Once
}

func newClient(conn *websocket.Conn) (c *Client) {
	c = new(Client)
	c.conn = conn
	c.send = make(chan Event, clientBuffer)
	go c.writer()
	return
}

func (c *Client) writer() {
	for event := range c.send {
		if err := c.conn.WriteJSON(event); err != nil {
			logrus.WithError(err).Debug("ws write failed, dropping client")
			return
		}
	}
}

func (c *Client) push(event Event) {
	select {
	case c.send <- event:
	default:
		logrus.WithField("event", event.Event).Warn("slow ws client, event dropped")
	}
}

func (c *Client) close() {
	c.once.Do(func() { close(c.send) })
}

// Conductor owns the set of live websocket clients and fans simulation output
// out to them. It is the Simulator's sink; when a CAN writer is attached every
// generated frame is also put on the wire.
type Conductor struct {
	Simulator *j1939.Simulator

	mu      sync.Mutex
	clients map[*Client]bool
	can     CANWriter
}

func NewConductor() (c *Conductor) {
	c = new(Conductor)
	c.clients = make(map[*Client]bool)
	return
}

// AttachCANWriter tees all future simulated frames onto a CAN bus.
func (c *Conductor) AttachCANWriter(w CANWriter) {
	c.mu.Lock()
	c.can = w
	c.mu.Unlock()
}

func (c *Conductor) Register(conn *websocket.Conn) (client *Client) {
	client = newClient(conn)
	c.mu.Lock()
	c.clients[client] = true
	c.mu.Unlock()
	return
}

func (c *Conductor) Unregister(client *Client) {
	c.mu.Lock()
	delete(c.clients, client)
	c.mu.Unlock()
	client.close()
}

func (c *Conductor) ClientCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.clients)
}

func (c *Conductor) broadcast(event Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for client := range c.clients {
		client.push(event)
	}
}

// PublishSignal implements j1939.Sink.
func (c *Conductor) PublishSignal(event j1939.LiveSignalEvent) {
	c.broadcast(Event{EVENT_LIVE_SIGNAL, event})

	c.mu.Lock()
	can := c.can
	c.mu.Unlock()
	if can != nil {
		if err := can.WriteFrame(context.Background(), event.Frame); err != nil {
			logrus.WithError(err).WithField("signal", event.SignalID).Warn("can transmit failed")
		}
	}
}

// PublishFault implements j1939.Sink.
func (c *Conductor) PublishFault(err error) {
	c.broadcast(Event{EVENT_SIM_FAULT, SimulationFault{err.Error()}})
}

// ProcessCommand handles a control message from one client. Status
// acknowledgements go back to the requesting client only, mirroring the
// request/ack shape of the REST endpoints.
func (c *Conductor) ProcessCommand(client *Client, cmd Command) {
	switch cmd.Event {
	case CMD_START_SIM:
		c.Simulator.Start()
		client.push(Event{EVENT_SIM_STATUS, SimulationStatus{c.Simulator.Active()}})

	case CMD_STOP_SIM:
		c.Simulator.Stop()
		client.push(Event{EVENT_SIM_STATUS, SimulationStatus{c.Simulator.Active()}})

	default:
		logrus.WithField("event", cmd.Event).Warn("unable to process ws command")
	}
}
