package vmservice

import (
	"fmt"
	"net/http"
)

// proxyTransport rewrites every request fcapi.Client issues into a call
// against one Agent's "/v1/vmm/{vm_id}/fcapi" route, so the same fcapi
// command builder the Agent uses against its local Unix socket also
// works from the Manager, which never dials a VM's socket directly.
type proxyTransport struct {
	base     http.RoundTripper
	agentURL string
	vmID     string
}

func newProxyTransport(agentURL, vmID string) http.RoundTripper {
	return &proxyTransport{base: http.DefaultTransport, agentURL: agentURL, vmID: vmID}
}

func (t *proxyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	u, err := http.NewRequest(req.Method, fmt.Sprintf("%s/v1/vmm/%s/fcapi%s", t.agentURL, t.vmID, req.URL.Path), req.Body)
	if err != nil {
		return nil, err
	}
	u.Header = req.Header
	return t.base.RoundTrip(u)
}
