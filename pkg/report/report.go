// Package report builds the reserved reporting topic names published by
// client and bridge nodes when reporting is enabled.
package report

import (
	"fmt"

	"github.com/davidb137/spsp/pkg/spspaddr"
)

// Version is the SPSP protocol version string this implementation
// reports in PROBE_RES replies and in the bridge's version report.
// Discovery does not check the version a responder reports.
const Version = "1.0"

// RSSITopic returns the reserved topic a report of peer's signal strength
// is published on.
func RSSITopic(peer spspaddr.Addr) string {
	return fmt.Sprintf("_report/rssi/%s", peer.Hex())
}

// ProbePayloadTopic returns the reserved topic a peer's PROBE_REQ payload
// (typically its firmware version) is published on.
func ProbePayloadTopic(peer spspaddr.Addr) string {
	return fmt.Sprintf("_report/probe_payload/%s", peer.Hex())
}

// VersionTopic is the reserved topic a bridge publishes its own SPSP
// version on at construction.
const VersionTopic = "_report/version"

// RSSIPayload formats an RSSI value (dBm) as the report payload.
func RSSIPayload(rssi int) []byte {
	return []byte(fmt.Sprintf("%d", rssi))
}
