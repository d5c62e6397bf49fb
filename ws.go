package main

import (
	"net/http"

	"github.com/CodedInternet/goj1939sim/comms"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// LiveSignalHandler upgrades to a websocket, subscribes the peer to the
// simulation stream and relays its start/stop commands until it hangs up.
func LiveSignalHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).Error("ws upgrade failed")
		return
	}
	defer conn.Close()

	client := ENV.Conductor.Register(conn)
	defer ENV.Conductor.Unregister(client)

	for {
		var cmd comms.Command
		if err := conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logrus.WithError(err).Debug("ws read failed")
			}
			return
		}

		ENV.Conductor.ProcessCommand(client, cmd)
	}
}
