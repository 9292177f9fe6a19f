package datasink

// NullSink discards every chunk it receives. Useful for /dev/null-style
// benchmarking writes and for tests exercising only control flow.
type NullSink struct {
	total uint64
}

func NewNullSink() *NullSink { return &NullSink{} }

func (s *NullSink) Reset()                            { s.total = 0 }
func (s *NullSink) AcceptTransferSize(uint64) bool     { return true }
func (s *NullSink) Receive(chunk []byte) error         { s.total += uint64(len(chunk)); return nil }
func (s *NullSink) Finished()                          {}

// Total returns the number of bytes discarded across the last transfer.
func (s *NullSink) Total() uint64 { return s.total }

// ZeroSource serves size zero bytes, for benchmarking reads that only
// exercise control flow and not real file content.
type ZeroSource struct {
	size      uint64
	remaining uint64
}

// NewZeroSource returns a Source that yields size zero bytes total.
func NewZeroSource(size uint64) *ZeroSource {
	return &ZeroSource{size: size}
}

func (s *ZeroSource) Reset()                 { s.remaining = s.size }
func (s *ZeroSource) TransferSize() (uint64, bool) { return s.size, true }

func (s *ZeroSource) NextBlock(maxLen int) ([]byte, error) {
	n := maxLen
	if uint64(n) > s.remaining {
		n = int(s.remaining)
	}
	s.remaining -= uint64(n)
	return make([]byte, n), nil
}

func (s *ZeroSource) Finished() {}
