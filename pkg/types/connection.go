package types

// ConnectionInfo is written to the discovery file when the kernel runs
// as a service, and read back by clients that connect over the
// network transport.
type ConnectionInfo struct {
	Transport       string `json:"transport"` // "tcp" | "ipc"
	IP              string `json:"ip"`
	ShellPort       int    `json:"shell_port"`
	IOPubPort       int    `json:"iopub_port"`
	StdinPort       int    `json:"stdin_port"`
	ControlPort     int    `json:"control_port"`
	HBPort          int    `json:"hb_port"`
	SignatureScheme string `json:"signature_scheme"` // "hmac-sha256"
	Key             string `json:"key"`
	KernelName      string `json:"kernel_name"`
}
