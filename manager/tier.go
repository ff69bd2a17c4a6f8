package manager

import (
	"strconv"
	"strings"
	"time"

	"github.com/c360/healthbridge/types"
)

// DeviceTier is the coarse device-performance class. Low-tier devices get
// fewer retries, longer cache TTLs, and smaller batches so the subsystem
// stays responsive on constrained hardware.
type DeviceTier string

// Device tiers
const (
	TierHigh DeviceTier = "high"
	TierMid  DeviceTier = "mid"
	TierLow  DeviceTier = "low"
)

// tierProfile is the operating profile applied per tier.
type tierProfile struct {
	Tier           DeviceTier
	RetryAttempts  int
	ResponseTTL    time.Duration
	AttemptTimeout time.Duration
	BatchSize      int
	CacheEntries   int
}

var tierProfiles = map[DeviceTier]tierProfile{
	TierHigh: {Tier: TierHigh, RetryAttempts: 3, ResponseTTL: 30 * time.Second, AttemptTimeout: 10 * time.Second, BatchSize: 500, CacheEntries: 512},
	TierMid:  {Tier: TierMid, RetryAttempts: 3, ResponseTTL: 60 * time.Second, AttemptTimeout: 15 * time.Second, BatchSize: 250, CacheEntries: 256},
	TierLow:  {Tier: TierLow, RetryAttempts: 2, ResponseTTL: 2 * time.Minute, AttemptTimeout: 20 * time.Second, BatchSize: 100, CacheEntries: 128},
}

// detectTier classifies a device from its OS major version. The heuristic is
// deliberately coarse; it only has to separate current hardware from the
// long tail of old builds.
func detectTier(info types.DeviceInfo) DeviceTier {
	major := osMajorVersion(info.OSVersion)

	switch info.Platform {
	case types.PlatformApple:
		switch {
		case major >= 16:
			return TierHigh
		case major >= 14:
			return TierMid
		default:
			return TierLow
		}
	case types.PlatformGoogle:
		switch {
		case major >= 13:
			return TierHigh
		case major >= 11:
			return TierMid
		default:
			return TierLow
		}
	}
	return TierMid
}

// osMajorVersion parses the leading integer of a version string; 0 if none.
func osMajorVersion(version string) int {
	version = strings.TrimSpace(version)
	end := 0
	for end < len(version) && version[end] >= '0' && version[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0
	}
	major, _ := strconv.Atoi(version[:end])
	return major
}
