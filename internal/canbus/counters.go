package canbus

// Counters are the plain status fields of one Bus Port. The Frame Router's
// consumer goroutine updates most of them; BusPort.Write and the TX queue
// drain also update TxDelays, TxOverflow and TxErrors under BusPort.mu.
// Callers read a copy via BusPort.Status().
type Counters struct {
	Interrupts     uint32
	PacketsRx      uint32
	PacketsTx      uint32
	RxErrors       uint32
	TxErrors       uint32
	RxOverflow     uint32
	TxOverflow     uint32
	TxDelays       uint32
	WatchdogResets uint32
	ErrorFlags     uint32
}

// checksum sums the integer counters, used to suppress repeated Error-kind
// status log entries when nothing has actually changed.
func (c Counters) checksum() uint64 {
	return uint64(c.Interrupts) + uint64(c.PacketsRx) + uint64(c.PacketsTx) +
		uint64(c.RxErrors) + uint64(c.TxErrors) + uint64(c.RxOverflow) +
		uint64(c.TxOverflow) + uint64(c.TxDelays) + uint64(c.WatchdogResets) +
		uint64(c.ErrorFlags)
}
