package protocol

// DefaultImpedanceLimit is the impedance (ohms) at and above which electrode
// contact is considered too poor for a usable reading.
const DefaultImpedanceLimit = 3000

// Gate filters decoded messages down to the ones worth reporting.
type Gate struct {
	ImpedanceLimit int
}

// DefaultGate returns a Gate using DefaultImpedanceLimit.
func DefaultGate() Gate {
	return Gate{ImpedanceLimit: DefaultImpedanceLimit}
}

// Reportable reports whether msg has settled and its impedance is strictly
// below the limit. A zero limit falls back to DefaultImpedanceLimit.
func (g Gate) Reportable(msg Message) bool {
	limit := g.ImpedanceLimit
	if limit <= 0 {
		limit = DefaultImpedanceLimit
	}
	return msg.Stabilized && msg.Measurement.Impedance < limit
}

// IsReportable applies the default gate to msg.
func IsReportable(msg Message) bool {
	return DefaultGate().Reportable(msg)
}
