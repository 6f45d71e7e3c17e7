package domain

// Worker identifies a backend process by the local port it listens on.
// All workers are assumed to be reachable on loopback; only the port varies.
type Worker struct {
	Port int
}

// UnknownClientCount marks a worker whose last status poll failed or has
// never completed. Such workers are excluded from quota rebuilds' maxClients
// calculation but may still carry a non-positive target quota of their own.
const UnknownClientCount = -1

// WorkerStatus is a worker's most recently observed state.
type WorkerStatus struct {
	Port        int
	ClientCount int // UnknownClientCount if the last poll failed
}

// Known reports whether the last poll for this worker succeeded.
func (w WorkerStatus) Known() bool {
	return w.ClientCount != UnknownClientCount
}

// Target is a resolved proxy destination: always loopback, only the port
// varies between workers.
type Target struct {
	Host string
	Port int
}
