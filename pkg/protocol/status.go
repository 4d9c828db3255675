package protocol

// Status codes carried in Response.Status.
const (
	StatusOK    = 0
	StatusError = -1

	DefaultAuthStatus     = 1
	DefaultAuthStatusInfo = "token expired, re-authenticate"
)

// Status messages produced by the server boundary.
const (
	InfoServicePaused = "service paused by user"
	InfoQueueFull     = "queue is full"
)

// Response headers reporting node load.
const (
	HeaderServiceAvailable = "service_available"
	HeaderServiceCPU       = "service_cpu"
	HeaderServiceTaskNum   = "service_task_num"
	HeaderServiceMaxQueue  = "service_max_queue"
	HeaderServiceHop       = "service_hop"
)

// StatusPair is a (status, status_info) tuple.
type StatusPair struct {
	Status int
	Info   string
}

// AuthFailure returns the default auth failure pair.
func AuthFailure() StatusPair {
	return StatusPair{Status: DefaultAuthStatus, Info: DefaultAuthStatusInfo}
}
