// Command candaemon is the CAN bus telematics daemon: it loads its YAML
// configuration, brings up a Bus Port per configured bus on top of a
// SocketCAN or ELM327-serial driver, binds any configured DBC file, starts
// the polling engine's Standard Vehicle Poll Series through the ISO-TP/VWTP
// request transport, and feeds decoded vehicle state to the alert sink and
// configured datastore until it receives SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anodyne74/candaemon/internal/canbus"
	"github.com/anodyne74/candaemon/internal/canlog"
	"github.com/anodyne74/candaemon/internal/capture"
	"github.com/anodyne74/candaemon/internal/config"
	"github.com/anodyne74/candaemon/internal/datastore"
	"github.com/anodyne74/candaemon/internal/dbc"
	"github.com/anodyne74/candaemon/internal/poll"
	"github.com/anodyne74/candaemon/internal/poll/obd2"
	"github.com/anodyne74/candaemon/internal/reqtransport"
	"github.com/anodyne74/candaemon/internal/supervisor"
	"github.com/anodyne74/candaemon/internal/transceiver/serial"
	"github.com/anodyne74/candaemon/internal/transceiver/socketcan"
	"github.com/anodyne74/candaemon/internal/vehicle"
	"github.com/charmbracelet/log"
)

// Standard OBD-II diagnostic addressing: functional request broadcast and
// the first ECU's physical response, per SAE J1979. Bus-specific overrides
// are not yet exposed in config.BusConfig.
const (
	obdFunctionalTxID = 0x7DF
	obdPhysicalTxID   = 0x7E0
	obdPhysicalRxID   = 0x7E8
)

func main() {
	cfgPath := flag.String("config", "candaemon.yaml", "path to the daemon's YAML config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "candaemon:", err)
		os.Exit(1)
	}

	configureLogging(cfg.LogLevel)

	if err := run(cfg); err != nil {
		log.Fatal("candaemon: fatal", "err", err)
	}
}

func configureLogging(level string) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
}

func run(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	dbcStore := dbc.NewStore()
	if cfg.DBC.Dir != "" {
		if err := loadDBCDir(dbcStore, cfg.DBC.Dir); err != nil {
			log.Warn("candaemon: dbc directory load", "dir", cfg.DBC.Dir, "err", err)
		}
	}

	logger := canlog.New()
	router := canbus.NewRouter(0, logger)

	store, err := buildDatastore(cfg)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	manager := vehicle.NewManager()
	if cfg.Vehicle.VIN != "" {
		if _, err := manager.RegisterVehicle(cfg.Vehicle.VIN, cfg.Vehicle.Make, cfg.Vehicle.Model, cfg.Vehicle.Year); err != nil {
			return fmt.Errorf("candaemon: register vehicle: %w", err)
		}
		manager.RegisterProfile(cfg.Vehicle.Make, cfg.Vehicle.Model, vehicle.Profile{
			RedlineRPM: cfg.Vehicle.DefaultThresholds.RPMRedline,
		})
	}
	if store != nil {
		manager.SetAlertSink(func(vin string, a vehicle.Alert) {
			log.Warn("candaemon: alert", "vin", vin, "type", a.Type, "message", a.Message)
			if err := store.SaveAlert(vin, &a); err != nil {
				log.Warn("candaemon: save alert failed", "vin", vin, "err", err)
			}
		})
	}

	sup := supervisor.New(supervisor.Options{
		TickMs:      time.Duration(cfg.Poller.ThrottleMs) * time.Millisecond,
		StatsWindow: time.Duration(cfg.Poller.StatsWindowSecs) * time.Second,
	})
	transport := reqtransport.New()

	var rec *capture.Recorder
	if cfg.Capture.Enabled && cfg.Capture.Filename != "" {
		rec, err = capture.NewRecorder(cfg.Capture.Filename)
		if err != nil {
			return fmt.Errorf("candaemon: capture recorder: %w", err)
		}
		handle, ch := router.AddListener(256, true)
		defer router.RemoveListener(handle)
		if err := rec.Start(ctx, ch); err != nil {
			return fmt.Errorf("candaemon: start capture: %w", err)
		}
		defer rec.Stop()
	}

	for _, bc := range cfg.Buses {
		if err := wireBus(bc, router, dbcStore, sup, transport, manager); err != nil {
			return fmt.Errorf("candaemon: bus %d (%s): %w", bc.Index, bc.Name, err)
		}
	}

	if cfg.Vehicle.VIN != "" {
		for _, bc := range cfg.Buses {
			if err := manager.BindBus(bc.Index, cfg.Vehicle.VIN); err != nil {
				log.Warn("candaemon: bind bus to vehicle failed", "bus", bc.Index, "err", err)
			}
		}
	}

	go router.Run(ctx)
	sup.Start()

	log.Info("candaemon: running", "buses", len(cfg.Buses))
	<-ctx.Done()

	log.Info("candaemon: shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return sup.Shutdown(shutdownCtx)
}

// wireBus builds one bus's driver, Bus Port, poll engine/list, and binds it
// into the supervisor and request transport.
func wireBus(
	bc config.BusConfig,
	router *canbus.Router,
	dbcStore *dbc.Store,
	sup *supervisor.Supervisor,
	transport *reqtransport.Transport,
	manager *vehicle.Manager,
) error {
	var busPort *canbus.BusPort
	driverFor := func(events canbus.Events) (canbus.Driver, error) {
		switch bc.Transceiver {
		case "socketcan":
			return socketcan.New(bc.Index, bc.Interface, events), nil
		case "serial":
			return serial.New(bc.Index, bc.Interface, bc.BaudRate, events), nil
		default:
			return nil, fmt.Errorf("unknown transceiver %q", bc.Transceiver)
		}
	}

	// canbus.NewBusPort requires the driver up front but the driver needs
	// the port as its Events sink; BusPort itself implements Events, so
	// build it in two steps through a forwarding shim.
	shim := &eventsShim{}
	driver, err := driverFor(shim)
	if err != nil {
		return err
	}
	busPort = canbus.NewBusPort(bc.Index, bc.Name, router, driver, nil, nil, 32)
	shim.target = busPort

	list := poll.NewList()
	list.InsertTail("standard", poll.NewStandardSeries(standardEntries(bc.Index), manager), false)

	engine := poll.NewBusEngine(bc.Index, list, transport, nil)
	// No poll entry on this bus uses VWTP 2.0 yet, so the transport has
	// nothing to drive a channel for.
	transport.AddBus(bc.Index, busPort, sup, nil)

	router.RegisterRxCallback(fmt.Sprintf("reqtransport-%d", bc.Index), transport.HandleFrame)

	sup.AddBus(bc.Index, busPort, engine, list, bc.AutoPowerOff)

	mode := canbus.ModeActive
	if err := busPort.Start(mode, bc.SpeedKbps, dbcStore, bc.DBCFile); err != nil {
		return err
	}

	// BusPort.Start binds the DBC file with a nil pollClaim/sink; replace
	// that binding with one that feeds decoded signals to the vehicle
	// manager and skips any id already owned by the Standard Poll Series.
	if bc.DBCFile != "" {
		if f, ok := dbcStore.Get(bc.DBCFile); ok {
			router.BindDBC(bc.Index, f, func(bus int, id uint32) bool {
				return id == obdPhysicalRxID
			}, manager.HandleDecodedMessage)
		}
	}
	return nil
}

// eventsShim exists because canbus.NewBusPort needs a constructed *BusPort
// to hand to the driver as its Events sink, and the driver must exist
// before NewBusPort returns one: target is filled in immediately after
// construction, before the driver's Start is ever called.
type eventsShim struct {
	target *canbus.BusPort
}

func (s *eventsShim) RxAvailable(bus int) { s.target.RxAvailable(bus) }
func (s *eventsShim) TxComplete(bus int)  { s.target.TxComplete(bus) }
func (s *eventsShim) Error(bus int)       { s.target.Error(bus) }

// standardEntries is the built-in Standard Vehicle Poll Series: the Mode 01
// PIDs obd2.Decode understands, polled continuously while the engine is
// running and at a slower cadence while merely awake.
func standardEntries(bus int) []poll.Entry {
	pids := []uint16{
		obd2.PIDRPM, obd2.PIDSpeed, obd2.PIDCoolantTemp,
		obd2.PIDEngineLoad, obd2.PIDThrottlePos, obd2.PIDIntakeMAP,
		obd2.PIDMAF, obd2.PIDIntakeTemp, obd2.PIDFuelPressure,
	}
	entries := make([]poll.Entry, 0, len(pids))
	for _, pid := range pids {
		interval := uint16(1)
		if pid == obd2.PIDFuelPressure || pid == obd2.PIDIntakeMAP {
			interval = 4
		}
		entries = append(entries, poll.Entry{
			Name:    obd2.Name(pid),
			TxID:    obdFunctionalTxID,
			RxID:    obdPhysicalRxID,
			Type:    0x01,
			PID:     pid,
			Payload: []byte{0x01, byte(pid)},
			Intervals: [4]uint16{
				poll.StateOff:      0,
				poll.StateAwake:    interval * 4,
				poll.StateRunning:  interval,
				poll.StateCharging: interval * 4,
			},
			BusIndex: bus,
			Protocol: poll.IsoTpStd,
		})
	}
	return entries
}

func loadDBCDir(store *dbc.Store, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if len(name) < 4 || name[len(name)-4:] != ".dbc" {
			continue
		}
		path := dir + "/" + name
		key := name[:len(name)-4]
		if _, warnings, err := store.Load(key, path); err != nil {
			log.Warn("candaemon: dbc load failed", "file", path, "err", err)
		} else {
			for _, w := range warnings {
				log.Debug("candaemon: dbc parse warning", "file", path, "warn", w)
			}
		}
	}
	return nil
}

func buildDatastore(cfg *config.Config) (datastore.Store, error) {
	if cfg.Datastore.SQLite.Path == "" {
		return nil, nil
	}
	store, err := datastore.NewStore(&datastore.Config{
		SQLitePath:     cfg.Datastore.SQLite.Path,
		InfluxDBURL:    cfg.Datastore.InfluxDB.URL,
		InfluxDBOrg:    cfg.Datastore.InfluxDB.Org,
		InfluxDBToken:  cfg.Datastore.InfluxDB.Token,
		InfluxDBBucket: cfg.Datastore.InfluxDB.Bucket,
	})
	if err != nil {
		return nil, fmt.Errorf("candaemon: datastore: %w", err)
	}
	return store, nil
}
