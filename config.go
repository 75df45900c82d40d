package ztl

import "github.com/behrlich/zns-ztl/internal/constants"

// Re-exported tuning constants, mirroring the internal values a Config
// defaults to.
const (
	DefaultSecMCMD      = constants.SecMCMD
	DefaultSecMCMDMin   = constants.SecMCMDMin
	DefaultIOMaxMCMD    = constants.IOMaxMCMD
	DefaultProStripe    = constants.ProStripe
	DefaultProTypes     = constants.ProTypes
	DefaultAppendEnable = constants.DefaultWriteAppend
)

// Config bundles the parameters needed to open a Core. A zero-value
// Config is invalid; DefaultConfig fills in sensible values, and callers
// override only what they need.
type Config struct {
	// DeviceName identifies the backing MediaDevice to Open.
	DeviceName string

	// Groups and CapacityPerZone feed the provisioner; zero means "derive
	// from the registered device geometry".
	Groups          int
	CapacityPerZone uint64

	// AppendEnabled selects zone-append (device-assigned offset) over
	// plain sequential WRITE for every submitted UserCmd.
	AppendEnabled bool

	// QueueDepth sizes the writer's submit queue and the async
	// completion channel.
	QueueDepth int

	// MempoolSlots is carried in the Config but Open does not pass it on:
	// the writer's mcmd mempool always holds constants.DefaultMempoolSlots
	// entries per (pool-type, sub-id).
	MempoolSlots int
}

// DefaultConfig returns a Config with the tuning defaults the provisioner
// and writer were designed around.
func DefaultConfig(deviceName string) Config {
	return Config{
		DeviceName:      deviceName,
		Groups:          0,
		CapacityPerZone: 0,
		AppendEnabled:   DefaultAppendEnable,
		QueueDepth:      256,
		MempoolSlots:    constants.DefaultMempoolSlots,
	}
}
