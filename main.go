package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/CodedInternet/goj1939sim/comms"
	"github.com/CodedInternet/goj1939sim/j1939"
	"github.com/abiosoft/ishell"
	"github.com/asdine/storm/v3"
	"github.com/caarlos0/env/v6"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/sirupsen/logrus"
)

type EnvConfig struct {
	JWT_ISSUER string `env:"DEVICE_UUID" envDefault:"DEV"`
	JWT_SECRET string `env:"JWT_SECRET" envDefault:"xWumOlRfhu+LBi2F2e1yF4FiaopQ5mr8klL4fpILnlI="`
	PROD       bool   `env:"PROD" envDefault:"0"`
	DEBUG      bool   `env:"DEBUG" envDefault:"0"`
	HTMLDIR    string `env:"HTMLDIR" envDefault:"./frontend/"`
	CATALOG    string `env:"CATALOG" envDefault:""`
	DBFILE     string `env:"DBFILE" envDefault:"./tmp/live.db"`
	LOG_LEVEL  string `env:"LOG_LEVEL" envDefault:"info"`

	DB        *storm.DB
	Catalog   *j1939.Catalog
	Conductor *comms.Conductor
}

var (
	ENV *EnvConfig
)

func init() {
	ENV = new(EnvConfig)
	env.Parse(ENV)

	if level, err := logrus.ParseLevel(ENV.LOG_LEVEL); err == nil {
		logrus.SetLevel(level)
	}
}

func main() {
	// process flags
	port := flag.String("port", "0.0.0.0:5000", "Specify the ip:port to listen on")
	canIface := flag.String("can", "", "Also transmit simulated frames on this SocketCAN interface (e.g. vcan0)")
	flag.Parse()

	// signal catalog; built-in set unless a file is provided
	var err error
	if ENV.CATALOG != "" {
		ENV.Catalog, err = j1939.LoadCatalog(ENV.CATALOG)
		if err != nil {
			logrus.WithError(err).Fatal("unable to load catalog")
		}
		logrus.WithField("path", ENV.CATALOG).Info("loaded signal catalog")
	} else {
		ENV.Catalog = j1939.DefaultCatalog()
	}

	// user database
	ENV.DB, err = openDb(ENV.DBFILE)
	if err != nil {
		logrus.WithError(err).Fatal("unable to open user db")
	}
	defer ENV.DB.Close()

	// wire the simulation pipeline: catalog -> simulator -> conductor -> ws/can
	ENV.Conductor = comms.NewConductor()
	ENV.Conductor.Simulator = j1939.NewSimulator(ENV.Catalog, ENV.Conductor)

	if *canIface != "" {
		tx, err := comms.NewSocketCANWriter(context.Background(), *canIface)
		if err != nil {
			logrus.WithError(err).Fatal("unable to open CAN interface")
		}
		defer tx.Close()
		ENV.Conductor.AttachCANWriter(tx)
		logrus.WithField("iface", *canIface).Info("transmitting simulated frames on CAN")
	}

	r := chi.NewRouter()

	// A good base middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.RedirectSlashes)
	r.Use(middleware.Recoverer) // make sure this is last

	//---
	// Create a local shell
	//---
	{
		signalIds := func([]string) (ids []string) {
			for _, def := range ENV.Catalog.LiveSignals() {
				ids = append(ids, def.ID)
			}
			return
		}

		shell := ishell.New()
		shell.Println("J1939 signal generator shell")
		shell.ShowPrompt(true)

		shell.AddCmd(&ishell.Cmd{
			Name: "createsuperuser",
			Help: "createsuperuser <email> <password>",
			Func: func(c *ishell.Context) {
				c.ShowPrompt(false)
				defer c.ShowPrompt(true)

				var email string
				if len(c.Args) >= 1 {
					email = c.Args[0]
				} else {
					c.Print("Email: ")
					email = c.ReadLine()
				}

				var password string
				if len(c.Args) >= 2 {
					password = c.Args[1]
				} else {
					c.Print("Password: ")
					password = c.ReadPassword()
				}

				user := &User{
					Email: email,
					Name:  email,
					Admin: true,
				}
				user.SetPassword([]byte(password))
				if err := ENV.DB.Save(user); err != nil {
					c.Err(err)
					return
				}

				c.Println("Superuser created")
			},
		})

		shell.AddCmd(&ishell.Cmd{
			Name: "signals",
			Help: "list the live signal set",
			Func: func(c *ishell.Context) {
				for _, def := range ENV.Catalog.LiveSignals() {
					c.Printf("%-16s PGN %d SPN %d  %s..%s %s @%dms\n",
						def.ID, def.PGN, def.SPN,
						strconv.FormatFloat(def.MinPhysical, 'f', -1, 64),
						strconv.FormatFloat(def.MaxPhysical, 'f', -1, 64),
						def.Unit, def.TransmissionRate)
				}
			},
		})

		shell.AddCmd(&ishell.Cmd{
			Name:      "encode",
			Completer: signalIds,
			Help:      "encode <signal_id> <physical_value>",
			Func: func(c *ishell.Context) {
				if len(c.Args) != 2 {
					c.Err(fmt.Errorf("usage: encode <signal_id> <physical_value>"))
					return
				}

				def, err := ENV.Catalog.LiveSignal(c.Args[0])
				if err != nil {
					c.Err(err)
					return
				}
				value, err := strconv.ParseFloat(c.Args[1], 64)
				if err != nil {
					c.Err(err)
					return
				}

				frame, err := j1939.EncodeSignal(value, def)
				if err != nil {
					c.Err(err)
					return
				}
				c.Printf("raw %d (%s)  data %s  id %s\n",
					frame.RawValue, frame.RawHex, frame.DataBytes, frame.CANIDHex)
			},
		})

		shell.AddCmd(&ishell.Cmd{
			Name: "start",
			Help: "start the live simulation",
			Func: func(c *ishell.Context) {
				ENV.Conductor.Simulator.Start()
				c.Printf("simulation active: %v\n", ENV.Conductor.Simulator.Active())
			},
		})

		shell.AddCmd(&ishell.Cmd{
			Name: "stop",
			Help: "stop the live simulation",
			Func: func(c *ishell.Context) {
				ENV.Conductor.Simulator.Stop()
				c.Printf("simulation active: %v\n", ENV.Conductor.Simulator.Active())
			},
		})

		shell.AddCmd(&ishell.Cmd{
			Name: "status",
			Help: "simulation and subscriber status",
			Func: func(c *ishell.Context) {
				c.Printf("active: %v  subscribers: %d\n",
					ENV.Conductor.Simulator.Active(), ENV.Conductor.ClientCount())
			},
		})

		go shell.Start()
	}

	//---
	// Build the API routes
	//---
	r.Route("/api", func(r chi.Router) {
		r.Post("/login", Login)

		r.Get("/pgns", ListPGNs)
		r.Get("/spns/{pgn}", ListSPNs)
		r.Get("/live/signals", ListLiveSignals)

		r.Group(func(r chi.Router) {
			if ENV.PROD && !ENV.DEBUG {
				// Seek, verify and validate JWT tokens
				r.Use(ValidateJWT)
			}

			r.Post("/encode", Encode)
			r.Post("/live/start", StartSimulation)
			r.Post("/live/stop", StopSimulation)
			r.Get("/refresh_token", JWTRefresh)
		})
	})

	// Add websocket routes
	r.Route("/ws", func(r chi.Router) {
		if ENV.PROD && !ENV.DEBUG {
			r.Use(ValidateJWT)
		} else {
			logrus.Warn("running in debug mode, ws authentication disabled")
		}

		r.Get("/live", LiveSignalHandler)
	})

	// add static base routes
	FileServer(r, "/", http.Dir(ENV.HTMLDIR))

	logrus.WithField("port", *port).Info("listening")
	if err := http.ListenAndServe(*port, r); err != nil {
		logrus.WithError(err).Fatal("server stopped")
	}
}

func openDb(dbFile string) (db *storm.DB, err error) {
	dir := filepath.Dir(dbFile)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		os.Mkdir(dir, 0755)
	}

	db, err = storm.Open(dbFile)
	if err != nil {
		return
	}

	if err := db.Init(&User{}); err != nil {
		return nil, err
	}

	return
}

// FileServer conveniently sets up a http.FileServer handler to serve
// static files from a http.FileSystem.
func FileServer(r chi.Router, path string, root http.FileSystem) {
	if strings.ContainsAny(path, "{}*") {
		panic("FileServer does not permit URL parameters.")
	}

	fs := http.StripPrefix(path, http.FileServer(root))

	if path != "/" && path[len(path)-1] != '/' {
		r.Get(path, http.RedirectHandler(path+"/", 301).ServeHTTP)
		path += "/"
	}
	path += "*"

	r.Get(path, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.ServeHTTP(w, r)
	}))
}
