package fsm

// UpdateRequest is the FSM input
type UpdateRequest struct {
	RunID       string
	ManifestURL string
}

// UpdateResponse is the FSM output (accumulated across transitions)
type UpdateResponse struct {
	// From Download
	OTAPath      string
	RecoveryPath string
	RecoveryHash string
	RecoveryLen  int64

	// From FlashRecovery
	RecoveryFlashed bool

	// From Reboot/Failed
	Status       string
	ErrorMessage string
}

// State names
const (
	StateBatteryGateDownload = "battery_gate_download"
	StateDownload            = "download"
	StateBatteryGateInstall  = "battery_gate_install"
	StateFlashRecovery       = "flash_recovery"
	StateReboot              = "reboot"
	StateFailed              = "failed"
)

// Response status values
const (
	StatusStaged    = "staged"
	StatusFlashed   = "flashed"
	StatusRebooting = "rebooting"
	StatusFailed    = "failed"
)
