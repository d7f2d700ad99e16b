// Package integration wires the core pipeline end to end against
// testing/simulator's in-memory bus double, the way a real transceiver
// would drive it, to exercise the seam between every core component rather
// than any one of them in isolation.
package integration

import (
	"context"
	"testing"
	"time"

	"github.com/anodyne74/candaemon/internal/canbus"
	"github.com/anodyne74/candaemon/internal/canlog"
	"github.com/anodyne74/candaemon/internal/poll"
	"github.com/anodyne74/candaemon/internal/poll/obd2"
	"github.com/anodyne74/candaemon/internal/reqtransport"
	"github.com/anodyne74/candaemon/internal/vehicle"
	"github.com/anodyne74/candaemon/testing/simulator"
)

const (
	rxID = 0x7DF
	txID = 0x7E8
)

func standardEntries(bus int) []poll.Entry {
	return []poll.Entry{
		{
			Name: "rpm", TxID: rxID, RxID: txID, Type: 0x01, PID: obd2.PIDRPM,
			Payload:   []byte{0x01, byte(obd2.PIDRPM)},
			Intervals: [4]uint16{poll.StateOff: 0, poll.StateAwake: 1, poll.StateRunning: 1, poll.StateCharging: 1},
			BusIndex:  bus,
			Protocol:  poll.IsoTpStd,
		},
		{
			Name: "speed", TxID: rxID, RxID: txID, Type: 0x01, PID: obd2.PIDSpeed,
			Payload:   []byte{0x01, byte(obd2.PIDSpeed)},
			Intervals: [4]uint16{poll.StateOff: 0, poll.StateAwake: 1, poll.StateRunning: 1, poll.StateCharging: 1},
			BusIndex:  bus,
			Protocol:  poll.IsoTpStd,
		},
	}
}

func TestPipelineDeliversStandardPollRepliesToVehicleState(t *testing.T) {
	router := canbus.NewRouter(0, canlog.New())

	manager := vehicle.NewManager()
	if _, err := manager.RegisterVehicle("VIN123", "Honda", "Accord", 2021); err != nil {
		t.Fatalf("RegisterVehicle: %v", err)
	}
	manager.RegisterProfile("Honda", "Accord", vehicle.Profile{RedlineRPM: 6500})
	if err := manager.BindBus(0, "VIN123"); err != nil {
		t.Fatalf("BindBus: %v", err)
	}

	values := simulator.StaticValues(map[uint16]float64{
		obd2.PIDRPM:   3200,
		obd2.PIDSpeed: 55,
	})
	responder := simulator.OBD2Responder(rxID, txID, values)

	var busPort *canbus.BusPort
	driver := simulator.New(0, eventsAdapter{target: &busPort}, responder)
	busPort = canbus.NewBusPort(0, "test", router, driver, nil, nil, 8)

	transport := reqtransport.New()
	transport.AddBus(0, busPort, noopNotifier{}, nil)
	router.RegisterRxCallback("reqtransport", transport.HandleFrame)

	list := poll.NewList()
	list.InsertTail("standard", poll.NewStandardSeries(standardEntries(0), manager), false)
	engine := poll.NewBusEngine(0, list, transport, nil)
	engine.SetState(poll.StateRunning)

	if err := busPort.Start(canbus.ModeActive, 500, nil, ""); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go router.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		engine.Tick(poll.Primary)
		time.Sleep(time.Millisecond)

		v, err := manager.GetVehicle("VIN123")
		if err == nil && v.State.RPM == 3200 && v.State.Speed == 55 {
			return
		}
	}
	t.Fatalf("vehicle state was not updated from polled replies within the deadline")
}

// eventsAdapter lets the bus port be constructed after the driver needs an
// Events sink, same seam cmd/candaemon's wiring uses.
type eventsAdapter struct {
	target **canbus.BusPort
}

func (a eventsAdapter) RxAvailable(bus int) {
	if *a.target != nil {
		(*a.target).RxAvailable(bus)
	}
}
func (a eventsAdapter) TxComplete(bus int) {
	if *a.target != nil {
		(*a.target).TxComplete(bus)
	}
}
func (a eventsAdapter) Error(bus int) {
	if *a.target != nil {
		(*a.target).Error(bus)
	}
}

type noopNotifier struct{}

func (noopNotifier) NotifyResponse(bus int) {}
