package tftp

import (
	"net/netip"
	"time"

	"github.com/qvasi/tftp/internal/metrics"
	"github.com/qvasi/tftp/internal/tlog"
)

// sendState is the state of a SendOperation, spec §4.5.
type sendState int

const (
	sendAwaitingAck0 sendState = iota // OACK was sent, waiting for ACK(0)
	sendPreparing                     // need to pull the next block from the source
	sendWaitingAck                    // DATA(block) sent, waiting for ACK(block)
	sendDallying                      // ACK(final) received, one extra RTT for a retransmitted one
	sendTerminal
)

// SendOperationConfig configures a SendOperation. It is shared by the
// server's RRQ responder and the client's WRQ sender — spec §4.5's note
// that read and write are "mirror[ed]" symmetric is realized here: one
// state machine drives whichever side is transmitting DATA blocks.
type SendOperationConfig struct {
	Conn       *Conn
	Source     Source
	Blksize    int
	Timeout    time.Duration
	MaxRetries int
	Dally      time.Duration // 0 defaults to Timeout (design note: 1x negotiated timeout)

	// OACKToSend is non-nil when options were negotiated; the operation
	// sends it and waits for ACK(0) before fetching the first block. When
	// nil, the operation sends DATA(1) immediately.
	OACKToSend *Options

	Logger           tlog.Logger
	Metrics          *metrics.Registry
	OnPacketSent     func(Packet)
	OnPacketReceived func(Packet)
	Kind             string // "read" or "write", for metrics labeling
}

// SendOperation drives the transmitting side of a transfer: RRQ on the
// server, WRQ on the client.
type SendOperation struct {
	cfg SendOperationConfig

	state          sendState
	block          BlockNumber
	lastSent       []byte
	lastBlockShort bool // the most recently sent block was short: end of file
	attempts       int
	cancelled      bool
	bytesSent      int64
}

// NewSendOperation constructs a SendOperation ready to Run.
func NewSendOperation(cfg SendOperationConfig) *SendOperation {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.Dally <= 0 {
		cfg.Dally = cfg.Timeout
	}
	if cfg.Logger == nil {
		cfg.Logger = tlog.Noop
	}
	op := &SendOperation{cfg: cfg}
	if cfg.OACKToSend != nil {
		op.state = sendAwaitingAck0
	} else {
		op.state = sendPreparing
	}
	return op
}

// Cancel sets the immediate-abort flag (spec §5). Idempotent.
func (op *SendOperation) Cancel() { op.cancelled = true }

func (op *SendOperation) logFields(extra tlog.Fields) tlog.Fields {
	f := tlog.Fields{"op": "send"}
	for k, v := range extra {
		f[k] = v
	}
	return f
}

func (op *SendOperation) trace(sent bool, p Packet) {
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

func (op *SendOperation) send(p Packet) error {
	b := p.Marshal()
	op.lastSent = b
	op.trace(true, p)
	_, err := op.cfg.Conn.Send(b)
	return err
}

// Run executes the state machine to completion and returns the outcome.
// It blocks until the transfer finishes, errors, times out, or is
// cancelled.
func (op *SendOperation) Run() Outcome {
	op.cfg.Source.Reset()
	defer op.cfg.Source.Finished()

	if op.cancelled {
		return Outcome{Kind: OutcomeCancelled}
	}

	if op.cfg.Metrics != nil {
		op.cfg.Metrics.OperationStarted()
		defer op.cfg.Metrics.OperationEnded()
	}

	if op.state == sendAwaitingAck0 {
		if err := op.send(&OAckPacket{Options: op.cfg.OACKToSend}); err != nil {
			return Outcome{Kind: OutcomeProtocolError, Message: err.Error()}
		}
	}

	buf := make([]byte, op.cfg.Blksize+4+64)
	for {
		if op.cancelled {
			return Outcome{Kind: OutcomeCancelled, BytesTransferred: op.bytesSent}
		}

		switch op.state {
		case sendPreparing:
			chunk, err := op.cfg.Source.NextBlock(op.cfg.Blksize)
			if err != nil {
				op.send(newErrorPacket(NotDefined, "source error: %v", err))
				return Outcome{Kind: OutcomeHandlerReject, Message: err.Error(), BytesTransferred: op.bytesSent}
			}
			op.block = op.block.Next()
			if err := op.send(&DataPacket{Block: op.block, Data: chunk}); err != nil {
				return Outcome{Kind: OutcomeProtocolError, Message: err.Error(), BytesTransferred: op.bytesSent}
			}
			op.bytesSent += int64(len(chunk))
			if op.cfg.Metrics != nil {
				op.cfg.Metrics.BytesTransferred(op.cfg.Kind, int64(len(chunk)))
			}
			op.attempts = 0
			op.lastBlockShort = len(chunk) < op.cfg.Blksize
			op.state = sendWaitingAck
			continue
		case sendTerminal:
			return Outcome{Kind: OutcomeOK, BytesTransferred: op.bytesSent}
		}

		waitFor := op.cfg.Timeout
		if op.state == sendDallying {
			waitFor = op.cfg.Dally
		}
		op.cfg.Conn.SetReadDeadline(waitFor)
		n, from, err := op.cfg.Conn.Receive(buf)
		if err != nil {
			if err == ErrUnexpectedTID {
				op.handleForeignTID(from)
				continue
			}
			if isTimeout(err) {
				if op.state == sendDallying {
					return Outcome{Kind: OutcomeOK, BytesTransferred: op.bytesSent}
				}
				if op.attempts >= op.cfg.MaxRetries {
					if op.cfg.Metrics != nil {
						op.cfg.Metrics.TimedOut()
					}
					return Outcome{Kind: OutcomeTimeout, BytesTransferred: op.bytesSent}
				}
				op.attempts++
				if op.cfg.Metrics != nil {
					op.cfg.Metrics.Retransmitted()
				}
				op.cfg.Conn.Send(op.lastSent)
				continue
			}
			return Outcome{Kind: OutcomeProtocolError, Message: err.Error(), BytesTransferred: op.bytesSent}
		}

		pkt, leftover, derr := Decode(buf[:n], 0)
		if leftover != "" {
			op.cfg.Logger.Debug("tolerated trailing bytes", op.logFields(tlog.Fields{"detail": leftover}))
		}
		if derr != nil {
			op.cfg.Logger.Warn("malformed packet", op.logFields(tlog.Fields{"err": derr.Error()}))
			continue
		}
		op.trace(false, pkt)

		switch p := pkt.(type) {
		case *AckPacket:
			if op.state == sendDallying {
				if p.Block == op.block {
					// a retransmitted ACK(final): the peer didn't see our
					// terminal DATA (or our previous dally reply), resend once.
					op.cfg.Conn.Send(op.lastSent)
				}
				continue
			}
			if p.Block != op.block {
				continue // duplicate/stale ACK: ignore, do not reset retry counter
			}
			if op.lastBlockShort {
				// expected ACK(final): consumed normally, no resend. Linger
				// one more RTT in case the peer didn't get it and retries.
				op.state = sendDallying
			} else {
				op.state = sendPreparing
			}
		case *ErrorPacket:
			return Outcome{Kind: OutcomePeerError, Code: p.Code, Message: p.Message, BytesTransferred: op.bytesSent}
		default:
			// anything else from the established peer is a protocol
			// violation; terminate gracefully.
			op.cfg.Conn.Send((&ErrorPacket{Code: IllegalOperation, Message: "unexpected packet"}).Marshal())
			return Outcome{Kind: OutcomeProtocolError, Message: "unexpected packet type from peer", BytesTransferred: op.bytesSent}
		}
	}
}

func (op *SendOperation) handleForeignTID(from netip.AddrPort) {
	op.cfg.Conn.SendTo((&ErrorPacket{Code: UnknownTransferID, Message: "unknown transfer ID"}).Marshal(), from)
}

// isTimeout reports whether err is a network timeout.
func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	te, ok := err.(timeouter)
	return ok && te.Timeout()
}
