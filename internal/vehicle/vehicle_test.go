package vehicle

import (
	"testing"

	"github.com/anodyne74/candaemon/internal/dbc"
	"github.com/anodyne74/candaemon/internal/poll"
	"github.com/anodyne74/candaemon/internal/poll/obd2"
)

func TestVehicleRegistrationAndProfile(t *testing.T) {
	manager := NewManager()

	vin := "1HGCM82633A123456"
	v, err := manager.RegisterVehicle(vin, "Honda", "Accord", 2023)
	if err != nil {
		t.Fatalf("Failed to register vehicle: %v", err)
	}
	if v.VIN != vin {
		t.Errorf("Expected VIN %s, got %s", vin, v.VIN)
	}

	if _, err := manager.RegisterVehicle(vin, "Honda", "Accord", 2023); err == nil {
		t.Error("Expected error on duplicate registration")
	}

	v2, err := manager.GetVehicle(vin)
	if err != nil {
		t.Fatalf("Failed to get vehicle: %v", err)
	}
	if v2.VIN != vin {
		t.Errorf("Expected VIN %s, got %s", vin, v2.VIN)
	}

	profile := Profile{
		RedlineRPM: 6000,
		CustomThresholds: map[string]float64{
			"coolant_temp": 100.0,
		},
	}
	manager.RegisterProfile("Honda", "Accord", profile)

	p, err := manager.GetProfile("Honda", "Accord")
	if err != nil {
		t.Fatalf("Failed to get profile: %v", err)
	}
	if p.RedlineRPM != profile.RedlineRPM {
		t.Errorf("Expected RedlineRPM %.1f, got %.1f", profile.RedlineRPM, p.RedlineRPM)
	}
}

func TestIncomingPollReplyUpdatesStateAndAlerts(t *testing.T) {
	manager := NewManager()
	vin := "1HGCM82633A123456"
	if _, err := manager.RegisterVehicle(vin, "Honda", "Accord", 2023); err != nil {
		t.Fatalf("register: %v", err)
	}
	manager.RegisterProfile("Honda", "Accord", Profile{RedlineRPM: 6000})
	if err := manager.BindBus(0, vin); err != nil {
		t.Fatalf("bind bus: %v", err)
	}

	if !manager.Ready() {
		t.Fatal("expected Ready() once a bus is bound")
	}

	var alerts []Alert
	manager.SetAlertSink(func(gotVIN string, a Alert) {
		if gotVIN != vin {
			t.Errorf("unexpected VIN in alert: %s", gotVIN)
		}
		alerts = append(alerts, a)
	})

	job := &poll.Job{Bus: 0, PID: obd2.PIDRPM}
	// RPM high/low bytes (SID and PID already stripped by the transport)
	// for 6200 rpm * 4 = 24800 = 0x60E0.
	manager.IncomingPollReply(job, []byte{0x60, 0xE0})

	v, _ := manager.GetVehicle(vin)
	if v.State.RPM != 6200 {
		t.Errorf("expected RPM 6200, got %v", v.State.RPM)
	}
	if len(alerts) == 0 {
		t.Fatal("expected a redline alert")
	}
	if alerts[0].Type != "RPM" || alerts[0].Severity != "critical" {
		t.Errorf("unexpected alert: %+v", alerts[0])
	}
}

func TestHandleDecodedMessageUpdatesSignalsAndCustomThreshold(t *testing.T) {
	manager := NewManager()
	vin := "1HGCM82633A123456"
	if _, err := manager.RegisterVehicle(vin, "Honda", "Accord", 2023); err != nil {
		t.Fatalf("register: %v", err)
	}
	manager.RegisterProfile("Honda", "Accord", Profile{
		CustomThresholds: map[string]float64{"BatteryVoltage": 14.8},
	})
	if err := manager.BindBus(1, vin); err != nil {
		t.Fatalf("bind bus: %v", err)
	}

	var alerts []Alert
	manager.SetAlertSink(func(_ string, a Alert) { alerts = append(alerts, a) })

	manager.HandleDecodedMessage(1, dbc.DecodedMessage{
		MessageID: 0x200,
		Name:      "BMS",
		Signals:   []dbc.DecodedSignal{{Name: "BatteryVoltage", Phys: 15.1}},
	})

	v, _ := manager.GetVehicle(vin)
	if v.State.Signals["BatteryVoltage"] != 15.1 {
		t.Errorf("expected signal recorded, got %v", v.State.Signals["BatteryVoltage"])
	}
	if len(alerts) != 1 || alerts[0].Type != "Custom" {
		t.Fatalf("expected one custom alert, got %+v", alerts)
	}
}

func TestServiceSchedule(t *testing.T) {
	schedule := DefaultServiceSchedule()
	if len(schedule.Items) == 0 {
		t.Error("Expected default service schedule to have items")
	}

	var oilChange *ServiceItem
	for i := range schedule.Items {
		if schedule.Items[i].Name == "Oil Change" {
			oilChange = &schedule.Items[i]
			break
		}
	}

	if oilChange == nil {
		t.Fatal("Expected to find oil change service")
	}

	if oilChange.IntervalMiles != 5000 {
		t.Errorf("Expected oil change interval of 5000 miles, got %.1f", oilChange.IntervalMiles)
	}

	if oilChange.Priority != "required" {
		t.Errorf("Expected oil change priority 'required', got '%s'", oilChange.Priority)
	}
}
