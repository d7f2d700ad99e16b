package analysis

import (
	"fmt"
	"math"
	"time"

	"github.com/anodyne74/candaemon/internal/capture"
	"github.com/anodyne74/candaemon/internal/dbc"
)

// SignalNames maps the DBC signal names this analyzer reads performance and
// driving-behavior data from; a capture made against a different DBC file
// supplies its own names rather than hard-coding OBD-II PID strings.
type SignalNames struct {
	RPM         string
	Speed       string
	CoolantTemp string
}

// DefaultSignalNames assumes the common vendor-DBC convention.
func DefaultSignalNames() SignalNames {
	return SignalNames{RPM: "EngineSpeed", Speed: "VehicleSpeed", CoolantTemp: "CoolantTemp"}
}

// Analyzer processes capture sessions to generate analysis results
type Analyzer struct {
	session     *capture.Session
	dbcFile     *dbc.File
	signalNames SignalNames
	analysis    *Analysis
	options     AnalyzerOptions
}

// AnalyzerOptions configures the analysis process
type AnalyzerOptions struct {
	RapidAccelThreshold float64       // km/h/s for rapid acceleration detection
	RapidDecelThreshold float64       // km/h/s for rapid deceleration detection
	IdleSpeedThreshold  float64       // km/h below which is considered idle
	CruiseThreshold     float64       // km/h/s variance for cruise detection
	MinPhaseTime        time.Duration // minimum duration for a driving phase
}

// DefaultOptions returns sensible default analyzer options
func DefaultOptions() AnalyzerOptions {
	return AnalyzerOptions{
		RapidAccelThreshold: 10.0, // 10 km/h per second
		RapidDecelThreshold: -8.0, // -8 km/h per second
		IdleSpeedThreshold:  3.0,  // 3 km/h
		CruiseThreshold:     2.0,  // 2 km/h/s variance
		MinPhaseTime:        3 * time.Second,
	}
}

// NewAnalyzer creates a new analyzer instance. dbcFile decodes every
// captured frame; names selects which decoded signals feed performance and
// driving-behavior analysis.
func NewAnalyzer(session *capture.Session, dbcFile *dbc.File, names SignalNames, options AnalyzerOptions) *Analyzer {
	return &Analyzer{
		session:     session,
		dbcFile:     dbcFile,
		signalNames: names,
		analysis:    &Analysis{},
		options:     options,
	}
}

// Analyze processes the session and returns analysis results
func (a *Analyzer) Analyze() (*Analysis, error) {
	if err := a.analyzeSessionInfo(); err != nil {
		return nil, fmt.Errorf("session info analysis failed: %w", err)
	}

	decoded := a.decodeAll()

	if err := a.analyzePerformance(decoded); err != nil {
		return nil, fmt.Errorf("performance analysis failed: %w", err)
	}

	if err := a.analyzeDrivingBehavior(decoded); err != nil {
		return nil, fmt.Errorf("driving behavior analysis failed: %w", err)
	}

	if err := a.analyzeCANActivity(); err != nil {
		return nil, fmt.Errorf("CAN activity analysis failed: %w", err)
	}

	if err := a.analyzeDiagnostics(decoded); err != nil {
		return nil, fmt.Errorf("diagnostics analysis failed: %w", err)
	}

	return a.analysis, nil
}

// timedSignals is one captured frame's decode result, or a zero-value
// DecodedMessage with ok=false when the frame's ID has no DBC message.
type timedSignals struct {
	offset time.Duration
	msg    dbc.DecodedMessage
	ok     bool
}

func (a *Analyzer) decodeAll() []timedSignals {
	if a.dbcFile == nil {
		return nil
	}
	out := make([]timedSignals, 0, len(a.session.Frames))
	for _, tf := range a.session.Frames {
		var data [8]byte
		copy(data[:], tf.Frame.Payload())
		msg, ok := a.dbcFile.DecodeFrame(tf.Frame.ID, data)
		out = append(out, timedSignals{offset: tf.Offset, msg: msg, ok: ok})
	}
	return out
}

func signalValue(msg dbc.DecodedMessage, name string) (float64, bool) {
	if name == "" {
		return 0, false
	}
	for _, s := range msg.Signals {
		if s.Name == name {
			return s.Phys, true
		}
	}
	return 0, false
}

func (a *Analyzer) analyzeSessionInfo() error {
	a.analysis.SessionInfo.StartTime = a.session.StartTime
	a.analysis.SessionInfo.EndTime = a.session.EndTime
	a.analysis.SessionInfo.Duration = a.session.Duration()
	a.analysis.SessionInfo.Source = a.session.Path
	a.analysis.SessionInfo.TotalFrames = len(a.session.Frames)
	return nil
}

func (a *Analyzer) analyzePerformance(decoded []timedSignals) error {
	var rpmValues, speedValues, tempValues []float64

	for _, d := range decoded {
		if !d.ok {
			continue
		}
		if v, ok := signalValue(d.msg, a.signalNames.RPM); ok {
			rpmValues = append(rpmValues, v)
		}
		if v, ok := signalValue(d.msg, a.signalNames.Speed); ok {
			speedValues = append(speedValues, v)
		}
		if v, ok := signalValue(d.msg, a.signalNames.CoolantTemp); ok {
			tempValues = append(tempValues, v)
		}
	}

	a.analysis.Performance.RPM = CalculateStats(rpmValues)
	a.analysis.Performance.Speed = CalculateStats(speedValues)
	a.analysis.Performance.Temperature = CalculateStats(tempValues)

	duration := a.analysis.SessionInfo.Duration.Seconds()
	if duration > 0 {
		a.analysis.Performance.DataRate = float64(len(a.session.Frames)) / duration
	}

	return nil
}

func (a *Analyzer) analyzeDrivingBehavior(decoded []timedSignals) error {
	var currentPhase *DrivingPhase
	var lastSpeed float64
	var haveLast bool
	var lastOffset time.Duration

	for _, d := range decoded {
		if !d.ok {
			continue
		}
		speed, ok := signalValue(d.msg, a.signalNames.Speed)
		if !ok {
			continue
		}

		if haveLast {
			timeDiff := (d.offset - lastOffset).Seconds()
			if timeDiff > 0 {
				acceleration := (speed - lastSpeed) / timeDiff
				phaseType := a.detectPhaseType(speed, acceleration)

				frameTime := a.session.StartTime.Add(d.offset)
				if currentPhase == nil || currentPhase.Type != phaseType {
					if currentPhase != nil {
						currentPhase.EndTime = frameTime
						currentPhase.Duration = currentPhase.EndTime.Sub(currentPhase.StartTime)
						if currentPhase.Duration >= a.options.MinPhaseTime {
							a.analysis.DrivingBehavior.Phases = append(a.analysis.DrivingBehavior.Phases, *currentPhase)
						}
					}
					currentPhase = &DrivingPhase{
						Type:      phaseType,
						StartTime: frameTime,
						Stats:     make(map[string]float64),
					}
				}

				if acceleration >= a.options.RapidAccelThreshold {
					a.analysis.DrivingBehavior.RapidAccel++
				} else if acceleration <= a.options.RapidDecelThreshold {
					a.analysis.DrivingBehavior.RapidDecel++
				}
			}
		}

		lastSpeed = speed
		lastOffset = d.offset
		haveLast = true
	}

	var idleTime time.Duration
	for _, phase := range a.analysis.DrivingBehavior.Phases {
		if phase.Type == "idle" {
			idleTime += phase.Duration
		}
	}

	totalDuration := a.analysis.SessionInfo.Duration
	if totalDuration > 0 {
		a.analysis.DrivingBehavior.IdleTime = float64(idleTime) / float64(totalDuration) * 100
	}

	return nil
}

func (a *Analyzer) detectPhaseType(speed, acceleration float64) string {
	if speed < a.options.IdleSpeedThreshold {
		return "idle"
	}
	if acceleration >= a.options.RapidAccelThreshold {
		return "acceleration"
	}
	if acceleration <= a.options.RapidDecelThreshold {
		return "deceleration"
	}
	if math.Abs(acceleration) < a.options.CruiseThreshold {
		return "cruise"
	}
	return "unknown"
}

func (a *Analyzer) analyzeCANActivity() error {
	idCounts := make(map[uint32]int)

	for _, tf := range a.session.Frames {
		idCounts[tf.Frame.ID]++
	}

	a.analysis.CANActivity.UniqueIDs = len(idCounts)
	a.analysis.CANActivity.IDCounts = idCounts

	totalBits := 0
	for _, tf := range a.session.Frames {
		totalBits += 108 + int(tf.Frame.DLC)*8
	}

	duration := a.analysis.SessionInfo.Duration.Seconds()
	if duration > 0 {
		bitsPerSecond := float64(totalBits) / duration
		a.analysis.CANActivity.BusLoad = bitsPerSecond / 1_000_000 * 100 // percentage of 1Mbps
	}

	return nil
}

// analyzeDiagnostics looks for decoded signals whose value-table mapping
// resolved to text: on most vendor DBCs, DTC/fault signals are the only
// ones with a populated value table, so a unique mapped string is treated
// as one observed diagnostic condition.
func (a *Analyzer) analyzeDiagnostics(decoded []timedSignals) error {
	seen := make(map[string]int)

	for _, d := range decoded {
		if !d.ok {
			continue
		}
		for _, sig := range d.msg.Signals {
			if sig.HasText {
				seen[sig.Mapping]++
			}
		}
	}

	a.analysis.Diagnostics.DTCCount = len(seen)
	for dtc := range seen {
		a.analysis.Diagnostics.UniqueDTCs = append(a.analysis.Diagnostics.UniqueDTCs, dtc)
	}

	return nil
}
