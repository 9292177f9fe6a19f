package tftp

// Sink is the narrow contract a caller supplies to receive a file over
// TFTP (server handling a WRQ, or client handling a RRQ). The core calls
// Reset exactly once before the first byte is handled and Finished exactly
// once before the operation is discarded, regardless of outcome.
type Sink interface {
	// Reset prepares the sink for a new transfer.
	Reset()

	// AcceptTransferSize is called once, before any data, if the peer
	// announced a tsize option. Returning false aborts the operation with
	// a HandlerReject outcome.
	AcceptTransferSize(size uint64) bool

	// Receive hands the sink the next chunk of file data, in order.
	Receive(chunk []byte) error

	// Finished is called exactly once, success or failure, before the
	// operation is discarded.
	Finished()
}

// Source is the narrow contract a caller supplies to send a file over TFTP
// (server handling a RRQ, or client handling a WRQ).
type Source interface {
	// Reset prepares the source for a new transfer.
	Reset()

	// TransferSize reports the total byte count, if known, to be echoed
	// via the tsize option.
	TransferSize() (size uint64, ok bool)

	// NextBlock returns up to maxLen bytes of the next chunk. A chunk
	// shorter than maxLen (including zero bytes) signals end of file and
	// is the terminal DATA payload; if the file length is an exact
	// multiple of the block size, an explicit empty chunk must still be
	// produced on the following call.
	NextBlock(maxLen int) ([]byte, error)

	// Finished is called exactly once, success or failure, before the
	// operation is discarded.
	Finished()
}
