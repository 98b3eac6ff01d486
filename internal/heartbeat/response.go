package heartbeat

import (
	"encoding/json"

	"github.com/openshift/autoscale-core/internal/apis/fleet"
)

// Response is what Orchestrator.Handle hands back to the dispatcher: an HTTP
// status and the exact response body string §6 requires.
type Response struct {
	Status int
	Body   string
}

// encodeMasterIP renders the master-ip-changed body (§4.6 step 10, §6).
func encodeMasterIP(ip string) string {
	return mustJSON(fleet.HeartbeatResponseBody{MasterIP: ip})
}

// encodeShutdown renders the shutdown-directive body (§4.6 step 11, §6).
func encodeShutdown() string {
	return mustJSON(fleet.HeartbeatResponseBody{Action: fleet.ShutdownAction})
}

func mustJSON(body fleet.HeartbeatResponseBody) string {
	b, err := json.Marshal(body)
	if err != nil {
		// HeartbeatResponseBody only ever holds plain strings; marshaling
		// it cannot fail.
		panic(err)
	}
	return string(b)
}
