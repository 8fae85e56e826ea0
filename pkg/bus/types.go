package bus

// Subscriber is one live stream connection owned by the Registry.
//
// Open must report false once the connection starts closing. Send writes one
// complete message and must be safe to call from several goroutines. Close
// must be idempotent.
type Subscriber interface {
	ID() string
	Open() bool
	Send(payload []byte) error
	Close() error
}

// Result summarizes one broadcast pass.
type Result struct {
	Attempted int
	Delivered int
	Skipped   int
	Failed    int
}

// Removed is the number of subscribers dropped by the pass.
func (r Result) Removed() int {
	return r.Skipped + r.Failed
}
