package tftp

import (
	"github.com/davecgh/go-spew/spew"

	"github.com/qvasi/tftp/internal/tlog"
)

// Tracer wires a tlog.Logger up as the optional on_packet_sent/
// on_packet_received hooks spec §9 describes, replacing the teacher's
// ad-hoc spew.Dump call site in snoop.go with a structured log line that
// carries the dump as a field. Both SendOperation and ReceiveOperation
// accept the resulting funcs directly as OnPacketSent/OnPacketReceived.
type Tracer struct {
	Logger tlog.Logger
}

// NewTracer returns a Tracer logging through l. A nil l uses tlog.Noop.
func NewTracer(l tlog.Logger) *Tracer {
	if l == nil {
		l = tlog.Noop
	}
	return &Tracer{Logger: l}
}

// OnSent is suitable for SendOperationConfig.OnPacketSent / ClientConfig.OnPacketSent.
func (t *Tracer) OnSent(p Packet) {
	t.Logger.Debug("sent", tlog.Fields{"opcode": p.Opcode().String(), "packet": spew.Sdump(p)})
}

// OnReceived is suitable for *.OnPacketReceived.
func (t *Tracer) OnReceived(p Packet) {
	t.Logger.Debug("received", tlog.Fields{"opcode": p.Opcode().String(), "packet": spew.Sdump(p)})
}
