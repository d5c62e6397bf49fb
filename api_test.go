package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/CodedInternet/goj1939sim/comms"
	"github.com/CodedInternet/goj1939sim/j1939"
	"github.com/go-chi/chi"
	. "github.com/smartystreets/goconvey/convey"
)

func setupAPI() chi.Router {
	ENV.Catalog = j1939.DefaultCatalog()
	ENV.Conductor = comms.NewConductor()
	ENV.Conductor.Simulator = j1939.NewSimulator(ENV.Catalog, ENV.Conductor)

	r := chi.NewRouter()
	r.Get("/api/pgns", ListPGNs)
	r.Get("/api/spns/{pgn}", ListSPNs)
	r.Get("/api/live/signals", ListLiveSignals)
	r.Post("/api/encode", Encode)
	r.Post("/api/live/start", StartSimulation)
	r.Post("/api/live/stop", StopSimulation)
	return r
}

func getJSON(t *testing.T, r chi.Router, url string, out interface{}) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", url, nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if out != nil {
		if err := json.Unmarshal(rr.Body.Bytes(), out); err != nil {
			t.Fatalf("bad response body %q: %v", rr.Body.String(), err)
		}
	}
	return rr
}

func postJSON(t *testing.T, r chi.Router, url string, body interface{}, out interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest("POST", url, bytes.NewBuffer(raw))
	req.Header.Add("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if out != nil {
		if err := json.Unmarshal(rr.Body.Bytes(), out); err != nil {
			t.Fatalf("bad response body %q: %v", rr.Body.String(), err)
		}
	}
	return rr
}

func TestListPGNs(t *testing.T) {
	r := setupAPI()

	Convey("PGN index lists every group in order", t, func() {
		var payload PGNListPayload
		rr := getJSON(t, r, "/api/pgns", &payload)

		So(rr.Code, ShouldEqual, http.StatusOK)
		So(len(payload.PGNs), ShouldEqual, 3)
		So(payload.PGNs[0].PGN, ShouldEqual, 61444)
		So(payload.PGNs[0].Hex, ShouldEqual, "0xF004")
		So(payload.PGNs[0].Name, ShouldEqual, "Engine Torque / Speed")
		So(payload.PGNs[2].PGN, ShouldEqual, 65269)
	})
}

func TestListSPNs(t *testing.T) {
	r := setupAPI()

	Convey("SPNs of a known PGN list in order", t, func() {
		var payload SPNListPayload
		rr := getJSON(t, r, "/api/spns/61444", &payload)

		So(rr.Code, ShouldEqual, http.StatusOK)
		So(len(payload.SPNs), ShouldEqual, 2)
		So(payload.SPNs[0].SPN, ShouldEqual, 190)
		So(payload.SPNs[0].Resolution, ShouldEqual, 0.125)
		So(payload.SPNs[1].SPN, ShouldEqual, 512)
		So(payload.SPNs[1].Offset, ShouldEqual, -125)
	})

	Convey("Unknown PGNs answer with an empty list", t, func() {
		rr := getJSON(t, r, "/api/spns/12345", nil)

		So(rr.Code, ShouldEqual, http.StatusOK)
		So(rr.Body.String(), ShouldContainSubstring, `"spns":[]`)
	})

	Convey("Non numeric PGNs are a bad request", t, func() {
		rr := getJSON(t, r, "/api/spns/banana", nil)
		So(rr.Code, ShouldEqual, http.StatusBadRequest)
	})
}

func TestListLiveSignals(t *testing.T) {
	r := setupAPI()

	Convey("Live signal config lists in declaration order", t, func() {
		var payload LiveSignalListPayload
		rr := getJSON(t, r, "/api/live/signals", &payload)

		So(rr.Code, ShouldEqual, http.StatusOK)
		So(len(payload.Signals), ShouldEqual, 4)
		So(payload.Signals[0].ID, ShouldEqual, "engine_speed")
		So(payload.Signals[0].PGNHex, ShouldEqual, "0xF004")
		So(payload.Signals[0].TransmissionRate, ShouldEqual, 50)
		So(payload.Signals[3].ID, ShouldEqual, "driver_torque")
	})
}

func TestEncodeView(t *testing.T) {
	r := setupAPI()

	Convey("A valid encode request returns the full frame breakdown", t, func() {
		var frame j1939.EncodedFrame
		rr := postJSON(t, r, "/api/encode", EncodePayload{
			SignalID:      "engine_speed",
			PhysicalValue: 1000,
		}, &frame)

		So(rr.Code, ShouldEqual, http.StatusOK)
		So(frame.RawValue, ShouldEqual, 8000)
		So(frame.RawHex, ShouldEqual, "0x1F40")
		So(frame.DataBytes, ShouldEqual, "000000401F000000")
		So(frame.CANIDHex, ShouldEqual, "0x18F0FF00")
		So(frame.DataArray, ShouldResemble, [8]uint8{0x00, 0x00, 0x00, 0x40, 0x1F, 0x00, 0x00, 0x00})

		Convey("the data_array field serializes as 8 integers", func() {
			var generic map[string]interface{}
			So(json.Unmarshal(rr.Body.Bytes(), &generic), ShouldBeNil)
			So(len(generic["data_array"].([]interface{})), ShouldEqual, 8)
		})
	})

	Convey("Unknown signal ids reject with the documented error", t, func() {
		rr := postJSON(t, r, "/api/encode", EncodePayload{
			SignalID:      "warp_core_temp",
			PhysicalValue: 1000,
		}, nil)

		So(rr.Code, ShouldEqual, http.StatusBadRequest)
		So(rr.Body.String(), ShouldContainSubstring, `"error":"Invalid signal ID"`)
	})

	Convey("A missing signal id is a bad request", t, func() {
		rr := postJSON(t, r, "/api/encode", EncodePayload{PhysicalValue: 1000}, nil)
		So(rr.Code, ShouldEqual, http.StatusBadRequest)
	})

	Convey("Encoder failures surface as a server error", t, func() {
		broken, err := ENV.Catalog.LiveSignal("engine_speed")
		So(err, ShouldBeNil)
		resolution := broken.Resolution
		broken.Resolution = 0
		defer func() { broken.Resolution = resolution }()

		rr := postJSON(t, r, "/api/encode", EncodePayload{
			SignalID:      "engine_speed",
			PhysicalValue: 1000,
		}, nil)

		So(rr.Code, ShouldEqual, http.StatusInternalServerError)
		So(rr.Body.String(), ShouldContainSubstring, "resolution")
	})
}

func TestSimulationViews(t *testing.T) {
	r := setupAPI()

	Convey("Start and stop acknowledge with the new state", t, func() {
		var status comms.SimulationStatus

		rr := postJSON(t, r, "/api/live/start", nil, &status)
		So(rr.Code, ShouldEqual, http.StatusOK)
		So(status.Active, ShouldBeTrue)

		rr = postJSON(t, r, "/api/live/stop", nil, &status)
		So(rr.Code, ShouldEqual, http.StatusOK)
		So(status.Active, ShouldBeFalse)
	})
}
