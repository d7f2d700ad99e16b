package poll

// VehicleSignal is the upward interface a Standard Poll Series reports
// through: the vehicle-state layer above poll consumes decoded replies,
// errors and TX feedback, and tells the engine whether it is ready to poll
// at all (e.g. DBC file not yet bound).
type VehicleSignal interface {
	IncomingPollReply(job *Job, data []byte)
	IncomingPollError(job *Job, code ErrorCode)
	IncomingPollTxCallback(job *Job, ok bool)
	Ready() bool
}

// NopVehicleSignal discards everything; useful for series under test or for
// buses with no attached vehicle-state consumer.
type NopVehicleSignal struct{}

func (NopVehicleSignal) IncomingPollReply(*Job, []byte)    {}
func (NopVehicleSignal) IncomingPollError(*Job, ErrorCode) {}
func (NopVehicleSignal) IncomingPollTxCallback(*Job, bool) {}
func (NopVehicleSignal) Ready() bool                       { return true }
