package tftp

import (
	"net/netip"
	"time"

	"github.com/qvasi/tftp/internal/metrics"
	"github.com/qvasi/tftp/internal/tlog"
)

// ReceiveOperationConfig configures a ReceiveOperation — the receiving
// side of a transfer: WRQ on the server, RRQ on the client. Symmetric to
// SendOperationConfig per spec §4.6's mirror of §4.5.
type ReceiveOperationConfig struct {
	Conn       *Conn
	Sink       Sink
	Blksize    int
	Timeout    time.Duration
	MaxRetries int

	// InitialSend, if non-nil, is sent once before entering the wait
	// loop: an OACK (options were negotiated) or an ACK(0) (server WRQ,
	// no options). Nil when the first incoming packet has already
	// arrived as PendingData (client RRQ, no options: the server replies
	// to the RRQ directly with DATA(1), no handshake packet precedes it).
	InitialSend []byte

	// PendingData, if non-nil, is the first DATA block already read off
	// the wire (by the client's initial RRQ handshake) and is processed
	// as if just received, before the wait loop begins.
	PendingData *DataPacket

	// AnnouncedTsize, if non-nil, is the tsize value negotiated for this
	// transfer; the sink's AcceptTransferSize is consulted with it before
	// any DATA is processed (spec §4.4's "called once, before any data").
	AnnouncedTsize *uint64

	Logger           tlog.Logger
	Metrics          *metrics.Registry
	OnPacketSent     func(Packet)
	OnPacketReceived func(Packet)
	Kind             string
}

// ReceiveOperation drives the receiving side of a transfer.
type ReceiveOperation struct {
	cfg ReceiveOperationConfig

	expected      BlockNumber
	lastSentAck   []byte
	attempts      int
	cancelled     bool
	bytesReceived int64
	done          bool
	outcome       Outcome
}

// NewReceiveOperation constructs a ReceiveOperation ready to Run.
func NewReceiveOperation(cfg ReceiveOperationConfig) *ReceiveOperation {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.Logger == nil {
		cfg.Logger = tlog.Noop
	}
	return &ReceiveOperation{cfg: cfg, expected: 1}
}

// Cancel sets the immediate-abort flag. Idempotent.
func (op *ReceiveOperation) Cancel() { op.cancelled = true }

func (op *ReceiveOperation) trace(sent bool, p Packet) {
	if p == nil {
		return
	}
	if sent && op.cfg.OnPacketSent != nil {
		op.cfg.OnPacketSent(p)
	}
	if !sent && op.cfg.OnPacketReceived != nil {
		op.cfg.OnPacketReceived(p)
	}
}

func (op *ReceiveOperation) sendAck(block BlockNumber) {
	p := &AckPacket{Block: block}
	b := p.Marshal()
	op.lastSentAck = b
	op.trace(true, p)
	op.cfg.Conn.Send(b)
}

// processData hands payload to the sink and acknowledges it, advancing
// expected or finishing the transfer. Returns true if the operation is
// now done (outcome populated).
func (op *ReceiveOperation) processData(block BlockNumber, payload []byte) bool {
	if err := op.cfg.Sink.Receive(payload); err != nil {
		op.cfg.Conn.Send(newErrorPacket(NotDefined, "sink error: %v", err).Marshal())
		op.done = true
		op.outcome = Outcome{Kind: OutcomeHandlerReject, Message: err.Error(), BytesTransferred: op.bytesReceived}
		return true
	}
	op.bytesReceived += int64(len(payload))
	if op.cfg.Metrics != nil {
		op.cfg.Metrics.BytesTransferred(op.cfg.Kind, int64(len(payload)))
	}
	short := len(payload) < op.cfg.Blksize
	op.sendAck(block)
	op.attempts = 0
	if short {
		op.done = true
		op.outcome = Outcome{Kind: OutcomeOK, BytesTransferred: op.bytesReceived}
		return true
	}
	op.expected = block.Next()
	return false
}

// Run executes the state machine to completion.
func (op *ReceiveOperation) Run() Outcome {
	op.cfg.Sink.Reset()
	defer op.cfg.Sink.Finished()

	if op.cancelled {
		return Outcome{Kind: OutcomeCancelled}
	}

	if op.cfg.Metrics != nil {
		op.cfg.Metrics.OperationStarted()
		defer op.cfg.Metrics.OperationEnded()
	}

	if op.cfg.AnnouncedTsize != nil && !op.cfg.Sink.AcceptTransferSize(*op.cfg.AnnouncedTsize) {
		op.cfg.Conn.Send(newErrorPacket(DiskFull, "transfer size rejected").Marshal())
		return Outcome{Kind: OutcomeHandlerReject, Message: "sink rejected announced transfer size"}
	}

	if op.cfg.PendingData != nil {
		if op.cfg.PendingData.Block != op.expected {
			op.cfg.Conn.Send(newErrorPacket(IllegalOperation, "unexpected initial block").Marshal())
			return Outcome{Kind: OutcomeProtocolError, Message: "unexpected initial block number"}
		}
		if op.processData(op.expected, op.cfg.PendingData.Data) {
			return op.outcome
		}
	} else if op.cfg.InitialSend != nil {
		op.lastSentAck = op.cfg.InitialSend
		op.cfg.Conn.Send(op.cfg.InitialSend)
	}

	buf := make([]byte, op.cfg.Blksize+4+64)
	for {
		if op.cancelled {
			return Outcome{Kind: OutcomeCancelled, BytesTransferred: op.bytesReceived}
		}

		op.cfg.Conn.SetReadDeadline(op.cfg.Timeout)
		n, from, err := op.cfg.Conn.Receive(buf)
		if err != nil {
			if err == ErrUnexpectedTID {
				op.handleForeignTID(from)
				continue
			}
			if isTimeout(err) {
				if op.attempts >= op.cfg.MaxRetries {
					if op.cfg.Metrics != nil {
						op.cfg.Metrics.TimedOut()
					}
					return Outcome{Kind: OutcomeTimeout, BytesTransferred: op.bytesReceived}
				}
				op.attempts++
				if op.cfg.Metrics != nil {
					op.cfg.Metrics.Retransmitted()
				}
				if op.lastSentAck != nil {
					op.cfg.Conn.Send(op.lastSentAck)
				}
				continue
			}
			return Outcome{Kind: OutcomeProtocolError, Message: err.Error(), BytesTransferred: op.bytesReceived}
		}

		maxPayload := op.cfg.Blksize
		pkt, leftover, derr := Decode(buf[:n], maxPayload)
		if leftover != "" {
			op.cfg.Logger.Debug("tolerated trailing bytes", tlog.Fields{"op": "receive", "detail": leftover})
		}
		if derr != nil {
			op.cfg.Logger.Warn("malformed packet", tlog.Fields{"op": "receive", "err": derr.Error()})
			continue
		}
		op.trace(false, pkt)

		switch p := pkt.(type) {
		case *DataPacket:
			switch {
			case p.Block == op.expected:
				if op.processData(p.Block, p.Data) {
					return op.outcome
				}
			case p.Block == op.expected-1:
				// duplicate of the previous block: re-send the exact
				// last-sent ACK, attempts unchanged.
				if op.lastSentAck != nil {
					op.cfg.Conn.Send(op.lastSentAck)
				}
			default:
				// neither n nor n-1: ignore
			}
		case *AckPacket:
			// a confirmatory ACK(0) from a sender that acked our OACK
			// before starting to send DATA: reset the retry timer and
			// keep waiting, do not advance state.
			op.attempts = 0
		case *ErrorPacket:
			return Outcome{Kind: OutcomePeerError, Code: p.Code, Message: p.Message, BytesTransferred: op.bytesReceived}
		default:
			op.cfg.Conn.Send((&ErrorPacket{Code: IllegalOperation, Message: "unexpected packet"}).Marshal())
			return Outcome{Kind: OutcomeProtocolError, Message: "unexpected packet type from peer", BytesTransferred: op.bytesReceived}
		}
	}
}

func (op *ReceiveOperation) handleForeignTID(from netip.AddrPort) {
	op.cfg.Conn.SendTo((&ErrorPacket{Code: UnknownTransferID, Message: "unknown transfer ID"}).Marshal(), from)
}
