package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/openshift/autoscale-core/internal/apis/fleet"
	"github.com/openshift/autoscale-core/internal/dispatch"
	"github.com/openshift/autoscale-core/internal/platform/memory"
	"github.com/openshift/autoscale-core/internal/proxy"
	"github.com/openshift/autoscale-core/lib/resourceapply"
	"github.com/openshift/autoscale-core/pkg/version"
)

var startOpts struct {
	addr          string
	metricsAddr   string
	handlerBudget time.Duration
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Starts autoscale-core behind a bare HTTP listener",
	Long:  "Runs the request dispatcher against the in-memory reference platform adapter. Intended for local/standalone use; a real deployment wires its own platform.Adapter and embeds the dispatcher directly instead of running this binary.",
	Run:   runStartCmd,
}

func init() {
	rootCmd.AddCommand(startCmd)
	startCmd.PersistentFlags().StringVar(&startOpts.addr, "listen-addr", ":8443", "address the request handler listens on")
	startCmd.PersistentFlags().StringVar(&startOpts.metricsAddr, "metrics-addr", ":8080", "address the Prometheus /metrics endpoint listens on")
	startCmd.PersistentFlags().DurationVar(&startOpts.handlerBudget, "handler-budget", 25*time.Second, "remaining-execution-time budget handed to the proxy adapter per request")
}

func runStartCmd(cmd *cobra.Command, args []string) {
	klog.Infof("starting %s v%s", componentName, version.Version.String())

	adapter := memory.New()
	defaults := []fleet.SettingItem{
		{Key: fleet.SettingDeploymentSettingsSaved, Value: "true"},
		{Key: fleet.SettingMasterScalingGroupName, Value: "primary-group"},
		{Key: fleet.SettingHeartbeatInterval, Value: "30"},
		{Key: fleet.SettingHeartbeatLossCount, Value: "3"},
		{Key: fleet.SettingHeartbeatDelayAllowance, Value: "2"},
		{Key: fleet.SettingMasterElectionTimeout, Value: "300"},
	}
	if _, err := resourceapply.ApplySettings(context.Background(), adapter, defaults); err != nil {
		klog.Fatalf("error seeding default settings: %v", err)
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		klog.Infof("metrics listening on %s", startOpts.metricsAddr)
		if err := http.ListenAndServe(startOpts.metricsAddr, mux); err != nil {
			klog.Errorf("metrics server exited: %v", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/request", func(w http.ResponseWriter, r *http.Request) {
		handleRequest(w, r, adapter)
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		handleStatus(w, r, adapter)
	})
	mux.HandleFunc("/license", func(w http.ResponseWriter, r *http.Request) {
		handleLicense(w, r, adapter)
	})

	klog.Infof("request handler listening on %s", startOpts.addr)
	if err := http.ListenAndServe(startOpts.addr, mux); err != nil {
		klog.Fatalf("request server exited: %v", err)
	}
}

// newDispatcher wires a request-scoped Dispatcher and Proxy Adapter the
// same way handleRequest/handleStatus/handleLicense each need.
func newDispatcher(adapter *memory.Adapter) (*dispatch.Dispatcher, proxy.Adapter) {
	px := proxy.NewKlogAdapter(startOpts.handlerBudget)
	return &dispatch.Dispatcher{
		Adapter:          adapter,
		Proxy:            px,
		LicenseContainer: "licenses",
		LicenseDir:       "fgt/",
		LicenseProduct:   "fortigate",
	}, px
}

func handleRequest(w http.ResponseWriter, r *http.Request, adapter *memory.Adapter) {
	q := r.URL.Query()
	interval := fleet.UseExistingInterval
	if v := q.Get("interval"); v != "" && v != "use-existing" {
		if n, err := strconv.Atoi(v); err == nil {
			interval = n
		}
	}

	info := fleet.RequestInfo{
		Type:       fleet.ReqType(q.Get("type")),
		InstanceID: q.Get("instance-id"),
		Interval:   interval,
		Status:     q.Get("status"),
	}

	d, px := newDispatcher(adapter)

	resp, err := d.Dispatch(context.Background(), info)
	if err != nil {
		klog.Errorf("dispatch error for %s: %v", info.InstanceID, err)
		if resp.Status == 0 {
			resp.Status = 500
		}
		if resp.Body == "" {
			if b, merr := json.Marshal(map[string]string{"message": err.Error()}); merr == nil {
				resp.Body = string(b)
			}
		}
	}

	writeFormatted(w, px, resp)
}

// handleStatus exposes the supplemented status summary (SPEC_FULL.md §5) as
// its own endpoint, separate from /request, so the documented StatusMessage
// response contract on /request stays untouched.
func handleStatus(w http.ResponseWriter, r *http.Request, adapter *memory.Adapter) {
	d, _ := newDispatcher(adapter)
	summary, err := d.Status(context.Background())
	if err != nil {
		klog.Errorf("status error: %v", err)
		w.WriteHeader(500)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(summary)
}

// handleLicense runs C7 for the requesting instance and hands the result
// through the same FormatResponse path /request uses, so a license body's
// Secret flag is consulted by the transport exactly like any other response.
func handleLicense(w http.ResponseWriter, r *http.Request, adapter *memory.Adapter) {
	vmID := r.URL.Query().Get("instance-id")
	if vmID == "" {
		w.WriteHeader(403)
		_, _ = w.Write([]byte("missing instance-id"))
		return
	}

	d, px := newDispatcher(adapter)
	result, err := d.AssignLicense(context.Background(), vmID)
	if err != nil {
		klog.Errorf("license assignment error for %s: %v", vmID, err)
		writeFormatted(w, px, dispatch.Response{Status: 500, Body: err.Error()})
		return
	}
	writeFormatted(w, px, dispatch.Response{Status: 200, Body: string(result.Content), Secret: result.Secret})
}

// writeFormatted hands resp to the proxy adapter's FormatResponse — the
// single place a response gets rendered — and renders whatever it returns
// onto the wire. The default KlogAdapter returns the plain map documented on
// FormatResponse; any other return shape is ignored and resp is written
// as-is.
func writeFormatted(w http.ResponseWriter, px proxy.Adapter, resp dispatch.Response) {
	formatted := px.FormatResponse(resp.Status, resp.Body, resp.Secret, resp.Headers)
	m, ok := formatted.(map[string]any)
	if !ok {
		w.WriteHeader(resp.Status)
		if resp.Body != "" {
			_, _ = w.Write([]byte(resp.Body))
		}
		return
	}
	if hdrs, ok := m["headers"].(map[string]string); ok {
		for k, v := range hdrs {
			w.Header().Set(k, v)
		}
	}
	status, _ := m["status"].(int)
	if status == 0 {
		status = resp.Status
	}
	w.WriteHeader(status)
	if body, _ := m["body"].(string); body != "" {
		_, _ = w.Write([]byte(body))
	}
}
