package anticheat

import (
	"strings"

	"github.com/chainpass/core/internal/models"
	"github.com/chainpass/core/internal/pkg/fault"
)

// WifiReading is the access point a client reports being connected to.
type WifiReading struct {
	BSSID string
	SSID  string
}

// CheckWifi validates a reported access point against the session allowlist.
// A nil policy accepts everything. A missing reading passes unless the
// policy is mandatory. A present reading must match the allowlist.
func CheckWifi(policy *models.WifiPolicy, reading *WifiReading) error {
	if policy == nil {
		return nil
	}
	if reading == nil || (reading.BSSID == "" && reading.SSID == "") {
		if policy.Mandatory {
			return fault.New(fault.KindAntiCheat, fault.CodeWifiViolation, "wi-fi reading required for this session")
		}
		return nil
	}
	if reading.BSSID != "" && containsFold(policy.AllowedBSSIDs, reading.BSSID) {
		return nil
	}
	if reading.SSID != "" && containsFold(policy.AllowedSSIDs, reading.SSID) {
		return nil
	}
	return fault.New(fault.KindAntiCheat, fault.CodeWifiViolation, "access point is not in the session allowlist")
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(strings.TrimSpace(item), strings.TrimSpace(v)) {
			return true
		}
	}
	return false
}
