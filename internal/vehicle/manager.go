package vehicle

import (
	"fmt"
	"sync"
	"time"

	"github.com/anodyne74/candaemon/internal/analysis"
	"github.com/anodyne74/candaemon/internal/dbc"
	"github.com/anodyne74/candaemon/internal/poll"
	"github.com/anodyne74/candaemon/internal/poll/obd2"
	"github.com/charmbracelet/log"
)

// AlertSink receives every alert a Manager raises, keyed by the VIN whose
// state triggered it.
type AlertSink func(vin string, alert Alert)

// Manager handles vehicle connections and state management. It implements
// poll.VehicleSignal: a bus bound via BindBus feeds its Standard Vehicle
// Poll Series replies into the matching Vehicle's State, and its un-polled
// frames (decoded against a bound DBC file upstream, by the Frame Router)
// into the same Vehicle's Signals map via HandleDecodedMessage.
type Manager struct {
	vehicles  map[string]*Vehicle // VIN -> Vehicle mapping
	profiles  map[string]*Profile // Make/Model -> Profile mapping
	busVIN    map[int]string      // bus -> VIN mapping
	alertSink AlertSink
	mu        sync.RWMutex
}

// NewManager creates a new vehicle manager instance
func NewManager() *Manager {
	return &Manager{
		vehicles: make(map[string]*Vehicle),
		profiles: make(map[string]*Profile),
		busVIN:   make(map[int]string),
	}
}

// SetAlertSink installs the callback Manager delivers alerts through. A nil
// sink (the default) means alerts are logged but otherwise discarded.
func (m *Manager) SetAlertSink(sink AlertSink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alertSink = sink
}

// BindBus associates a bus index with a registered VIN, so poll replies and
// decoded signals arriving on that bus update the right Vehicle.
func (m *Manager) BindBus(bus int, vin string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.vehicles[vin]; !ok {
		return fmt.Errorf("vehicle: bind bus %d: VIN %s not registered", bus, vin)
	}
	m.busVIN[bus] = vin
	return nil
}

func (m *Manager) UnbindBus(bus int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.busVIN, bus)
}

// RegisterVehicle adds a new vehicle to the manager
func (m *Manager) RegisterVehicle(vin, make, model string, year int) (*Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.vehicles[vin]; exists {
		return nil, fmt.Errorf("vehicle with VIN %s already registered", vin)
	}

	v := &Vehicle{
		VIN:   vin,
		Make:  make,
		Model: model,
		Year:  year,
		Capabilities: Capabilities{
			SupportedPIDs: map[string]bool{},
		},
		State:       State{Signals: map[string]float64{}},
		LastUpdated: time.Now(),
	}

	m.vehicles[vin] = v
	return v, nil
}

// GetVehicle retrieves a vehicle by VIN
func (m *Manager) GetVehicle(vin string) (*Vehicle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, exists := m.vehicles[vin]
	if !exists {
		return nil, fmt.Errorf("vehicle with VIN %s not found", vin)
	}
	return v, nil
}

// RegisterProfile adds or updates a vehicle profile
func (m *Manager) RegisterProfile(make, model string, profile Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := fmt.Sprintf("%s-%s", make, model)
	m.profiles[key] = &profile
}

// GetProfile retrieves a vehicle profile by make and model
func (m *Manager) GetProfile(make, model string) (*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key := fmt.Sprintf("%s-%s", make, model)
	profile, exists := m.profiles[key]
	if !exists {
		return nil, fmt.Errorf("profile for %s %s not found", make, model)
	}
	return profile, nil
}

// vehicleForBus resolves bus to its bound Vehicle, if any. Caller must not
// hold m.mu.
func (m *Manager) vehicleForBus(bus int) *Vehicle {
	m.mu.RLock()
	vin, ok := m.busVIN[bus]
	if !ok {
		m.mu.RUnlock()
		return nil
	}
	v := m.vehicles[vin]
	m.mu.RUnlock()
	return v
}

// IncomingPollReply implements poll.VehicleSignal: decodes an OBD-II Mode
// 01 PID reply and folds the value into the bound Vehicle's State.
func (m *Manager) IncomingPollReply(job *poll.Job, data []byte) {
	v := m.vehicleForBus(job.Bus)
	if v == nil {
		return
	}
	// The transport has already stripped the positive-response SID and the
	// echoed PID, so data holds only the PID's value bytes (A, B, ...).
	value, ok := obd2.Decode(job.PID, data)
	if !ok {
		return
	}

	m.mu.Lock()
	applyPIDValue(&v.State, job.PID, value)
	v.State.LastDiagnostic = time.Now()
	v.LastUpdated = time.Now()
	m.mu.Unlock()

	m.raiseThresholdAlerts(v)
}

// IncomingPollError implements poll.VehicleSignal: logs the failure; a
// vehicle's State is left at its last known value rather than cleared.
func (m *Manager) IncomingPollError(job *poll.Job, code poll.ErrorCode) {
	log.Warn("vehicle: poll error", "bus", job.Bus, "pid", job.PID, "code", code)
}

// IncomingPollTxCallback implements poll.VehicleSignal.
func (m *Manager) IncomingPollTxCallback(job *poll.Job, ok bool) {
	if !ok {
		log.Warn("vehicle: poll tx failed", "bus", job.Bus, "pid", job.PID)
	}
}

// Ready implements poll.VehicleSignal: it reports true once any bus has a
// bound VIN. It takes no bus, so it does not tell buses apart.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.busVIN) > 0
}

// HandleDecodedMessage is the Frame Router's DBC decode sink for un-polled
// frames: it folds every decoded signal into the bound Vehicle's Signals
// map and checks custom thresholds against it.
func (m *Manager) HandleDecodedMessage(bus int, msg dbc.DecodedMessage) {
	v := m.vehicleForBus(bus)
	if v == nil {
		return
	}

	m.mu.Lock()
	for _, sig := range msg.Signals {
		v.State.Signals[sig.Name] = sig.Phys
	}
	v.LastUpdated = time.Now()
	m.mu.Unlock()

	m.raiseThresholdAlerts(v)
}

func applyPIDValue(s *State, pid uint16, value float64) {
	switch obd2.Name(pid) {
	case "rpm":
		s.RPM = value
		s.EngineRunning = value > 0
	case "speed":
		s.Speed = value
	case "coolant_temp":
		s.CoolantTemp = value
	case "intake_temp":
		s.IntakeTemp = value
	case "engine_load":
		s.EngineLoad = value
	case "throttle_pos":
		s.ThrottlePosition = value
	case "maf":
		s.MAF = value
	case "fuel_pressure":
		s.FuelPressure = value
	case "intake_map":
		s.IntakeMAP = value
	}
}

// raiseThresholdAlerts checks a vehicle's current State against its
// Profile's fixed and custom thresholds and delivers any new alerts
// through the installed AlertSink.
func (m *Manager) raiseThresholdAlerts(v *Vehicle) {
	profile, err := m.GetProfile(v.Make, v.Model)
	if err != nil {
		return
	}

	m.mu.RLock()
	state := v.State
	m.mu.RUnlock()

	now := time.Now()
	var alerts []Alert

	if profile.RedlineRPM > 0 && state.RPM > profile.RedlineRPM {
		alerts = append(alerts, Alert{
			Type:      "RPM",
			Severity:  "critical",
			Message:   fmt.Sprintf("engine RPM exceeds redline (%.0f > %.0f)", state.RPM, profile.RedlineRPM),
			Timestamp: now,
			Value:     state.RPM,
			Threshold: profile.RedlineRPM,
			Sources:   []string{"rpm"},
		})
	}
	if state.CoolantTemp > 105 {
		alerts = append(alerts, Alert{
			Type:      "Temperature",
			Severity:  "warning",
			Message:   fmt.Sprintf("engine temperature too high: %.1f C", state.CoolantTemp),
			Timestamp: now,
			Value:     state.CoolantTemp,
			Threshold: 105,
			Sources:   []string{"coolant_temp"},
		})
	}
	if state.EngineLoad > 90 {
		alerts = append(alerts, Alert{
			Type:      "Load",
			Severity:  "warning",
			Message:   fmt.Sprintf("high engine load: %.1f%%", state.EngineLoad),
			Timestamp: now,
			Value:     state.EngineLoad,
			Threshold: 90,
			Sources:   []string{"engine_load"},
		})
	}

	for name, threshold := range profile.CustomThresholds {
		value, ok := valueForSource(state, name)
		if ok && value > threshold {
			alerts = append(alerts, Alert{
				Type:      "Custom",
				Severity:  "warning",
				Message:   fmt.Sprintf("custom threshold exceeded for %s: %.2f > %.2f", name, value, threshold),
				Timestamp: now,
				Value:     value,
				Threshold: threshold,
				Sources:   []string{name},
			})
		}
	}

	if len(alerts) == 0 {
		return
	}

	m.mu.RLock()
	sink := m.alertSink
	m.mu.RUnlock()
	for _, a := range alerts {
		if sink != nil {
			sink(v.VIN, a)
		} else {
			log.Warn("vehicle: alert", "vin", v.VIN, "type", a.Type, "message", a.Message)
		}
	}
}

// valueForSource resolves a threshold key against either a known OBD-II
// field name or a DBC signal name.
func valueForSource(state State, name string) (float64, bool) {
	switch name {
	case "rpm":
		return state.RPM, true
	case "speed":
		return state.Speed, true
	case "engine_load":
		return state.EngineLoad, true
	case "coolant_temp":
		return state.CoolantTemp, true
	case "throttle_pos":
		return state.ThrottlePosition, true
	}
	if v, ok := state.Signals[name]; ok {
		return v, true
	}
	return 0, false
}

// AnalyzePerformance performs a detailed analysis of vehicle performance
func (m *Manager) AnalyzePerformance(analyzer *analysis.Analyzer) (*PerformanceReport, error) {
	results, err := analyzer.Analyze()
	if err != nil {
		return nil, fmt.Errorf("analysis failed: %w", err)
	}

	report := &PerformanceReport{
		Timestamp: time.Now(),
		Duration:  results.SessionInfo.Duration,
		Stats: PerformanceStats{
			AverageSpeed:    results.Performance.Speed.Mean,
			MaxSpeed:        results.Performance.Speed.Max,
			AverageRPM:      results.Performance.RPM.Mean,
			MaxRPM:          results.Performance.RPM.Max,
			IdleTimePercent: results.DrivingBehavior.IdleTime,
			RapidAccels:     results.DrivingBehavior.RapidAccel,
			RapidDecels:     results.DrivingBehavior.RapidDecel,
		},
		Alerts: make([]Alert, 0),
	}

	if results.Performance.Speed.Mean > 0 {
		report.Stats.EfficiencyScore = calculateEfficiencyScore(results)
	}

	return report, nil
}

// calculateEfficiencyScore generates a 0-100 score based on various metrics
func calculateEfficiencyScore(results *analysis.Analysis) float64 {
	score := 100.0

	if results.DrivingBehavior.IdleTime > 20 {
		score -= (results.DrivingBehavior.IdleTime - 20) * 0.5
	}

	score -= float64(results.DrivingBehavior.RapidAccel) * 2
	score -= float64(results.DrivingBehavior.RapidDecel) * 2

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	return score
}
