package roomgraph

// Observer receives distribution and lifecycle counts. Implementations must
// be safe for concurrent use and must not block.
type Observer interface {
	EventSeen(room string)
	EventForwarded(src, dst string)
	ForwardFailed(src, dst, reason string)
	DecodeFailed(room string)
	RoomJoined(room string)
	RoomLeft(room string)
	SessionStarted(src, dst string)
	SessionStopped(src, dst string)
}

// Forward failure reasons reported to Observer.ForwardFailed
const (
	ReasonNotJoined = "not_joined"
	ReasonSend      = "send"
	ReasonTimeout   = "timeout"
)

type nopObserver struct{}

func (nopObserver) EventSeen(string)                     {}
func (nopObserver) EventForwarded(string, string)        {}
func (nopObserver) ForwardFailed(string, string, string) {}
func (nopObserver) DecodeFailed(string)                  {}
func (nopObserver) RoomJoined(string)                    {}
func (nopObserver) RoomLeft(string)                      {}
func (nopObserver) SessionStarted(string, string)        {}
func (nopObserver) SessionStopped(string, string)        {}
