package promsource

import (
	"fmt"
	"strings"
)

// BuildAPIFilter renders the PromQL handler filter for the configured API
// allow-list, excluding the catch-all /v2/ and /ui/ handlers.
func BuildAPIFilter(apiList []string) string {
	if len(apiList) == 0 {
		return ""
	}
	trimmed := make([]string, 0, len(apiList))
	for _, api := range apiList {
		trimmed = append(trimmed, strings.TrimSpace(api))
	}
	include := fmt.Sprintf("handler=~%q", "("+strings.Join(trimmed, "|")+")")
	exclude := `handler!="/v2/", handler!="/ui/"`
	return include + ", " + exclude
}

// RequestCountQuery totals HTTP request counts per method/handler/service/status.
func RequestCountQuery(apiFilter, stepRange string) string {
	return fmt.Sprintf(
		"sum(increase(http_request_duration_seconds_count{%s}[%s])) by (method, handler, service, status_code)",
		apiFilter, stepRange,
	)
}

// MeshRequestQuery totals service-mesh requests per destination service and
// response code, as reported by the destination proxy.
func MeshRequestQuery(stepRange string) string {
	return fmt.Sprintf(
		`sum(increase(istio_requests_total{destination_service_name!="istio-telemetry", reporter="destination"}[%s])) by (destination_service_name, response_code)`,
		stepRange,
	)
}

// PodCPUQuery yields per-pod CPU usage as a percentage of the pod's resource
// request. selector narrows the pod names (regex); empty means all pods.
func PodCPUQuery(namespace, selector string) string {
	if selector == "" {
		selector = ".*"
	}
	return fmt.Sprintf(
		`sum(rate(container_cpu_usage_seconds_total{namespace=%q, image!="", container!="POD", pod=~%q}[1m])) by (pod, node) / 2 / sum(kube_pod_container_resource_requests{unit="core", namespace=%q, container!="POD", pod=~%q}) by (pod, node) * 100`,
		namespace, selector, namespace, selector,
	)
}

// PodMemoryQuery yields per-pod working-set memory as a percentage of the
// pod's resource request.
func PodMemoryQuery(namespace, selector string) string {
	if selector == "" {
		selector = ".*"
	}
	return fmt.Sprintf(
		`sum(container_memory_working_set_bytes{namespace=%q, image!="", container!="POD", pod=~%q}) by (pod, node) / 2 / sum(kube_pod_container_resource_requests{unit="byte", namespace=%q, container!="POD", pod=~%q}) by (pod, node) * 100`,
		namespace, selector, namespace, selector,
	)
}

// APIErrorQuery totals 5xx responses for the named services, per
// method/handler/service/status, for error-rate breach detection.
func APIErrorQuery(services []string) string {
	return fmt.Sprintf(
		`sum(increase(http_request_duration_seconds_count{service=~%q, status_code=~"5[0-9]{2}"}[1m])) by (method, handler, service, status_code)`,
		strings.Join(services, "|"),
	)
}
