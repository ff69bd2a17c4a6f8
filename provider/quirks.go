package provider

import (
	"strings"
	"time"

	"github.com/c360/healthbridge/types"
)

// QuirkProfile configures adapter behavior for device builds that need
// special handling. Some vendor-customized platform builds need settling
// time after service initialization before reads are reliable.
type QuirkProfile struct {
	Name                   string
	StabilizationDelay     time.Duration
	ConservativeValidation bool
	MaxReinitAttempts      int
}

// defaultQuirkProfile is used when no quirk entry matches.
var defaultQuirkProfile = QuirkProfile{
	Name:              "standard",
	MaxReinitAttempts: 10,
}

// quirkTable maps manufacturer/model substrings to profiles. Matching is
// case-insensitive substring match against manufacturer then model.
var quirkTable = []struct {
	manufacturer string
	model        string
	profile      QuirkProfile
}{
	{
		manufacturer: "tecno",
		profile: QuirkProfile{
			Name:                   "tecno",
			StabilizationDelay:     3 * time.Second,
			ConservativeValidation: true,
			MaxReinitAttempts:      5,
		},
	},
	{
		manufacturer: "infinix",
		profile: QuirkProfile{
			Name:                   "infinix",
			StabilizationDelay:     3 * time.Second,
			ConservativeValidation: true,
			MaxReinitAttempts:      5,
		},
	},
	{
		manufacturer: "itel",
		profile: QuirkProfile{
			Name:                   "itel",
			StabilizationDelay:     2 * time.Second,
			ConservativeValidation: true,
			MaxReinitAttempts:      5,
		},
	},
	{
		manufacturer: "xiaomi",
		profile: QuirkProfile{
			Name:               "xiaomi",
			StabilizationDelay: time.Second,
			MaxReinitAttempts:  8,
		},
	},
	{
		model: "go edition",
		profile: QuirkProfile{
			Name:                   "android-go",
			StabilizationDelay:     2 * time.Second,
			ConservativeValidation: true,
			MaxReinitAttempts:      5,
		},
	},
}

// DetectQuirks selects a quirk profile for the device.
func DetectQuirks(info types.DeviceInfo) QuirkProfile {
	manufacturer := strings.ToLower(info.Manufacturer)
	model := strings.ToLower(info.Model)

	for _, entry := range quirkTable {
		if entry.manufacturer != "" && strings.Contains(manufacturer, entry.manufacturer) {
			return entry.profile
		}
		if entry.model != "" && strings.Contains(model, entry.model) {
			return entry.profile
		}
	}
	return defaultQuirkProfile
}
