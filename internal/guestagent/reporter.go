package guestagent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/vishvananda/netlink"
)

// guestIPReport is the body posted to manager_url/vms/{vm_id}/guest-ip.
type guestIPReport struct {
	IP string `json:"ip"`
}

// Reporter detects the guest's primary-interface IP and posts it to the
// Manager every ReportInterval, and immediately whenever it changes —
// matching the teacher's worker heartbeat loop shape (tick, do the thing,
// remember what changed) but over plain HTTP instead of gRPC.
type Reporter struct {
	cfg    Config
	client *http.Client

	// ipFunc defaults to PrimaryIP; overridable so tests don't depend on
	// the test runner's own network interfaces.
	ipFunc func() (string, error)
}

func NewReporter(cfg Config) *Reporter {
	return &Reporter{cfg: cfg, client: &http.Client{Timeout: 5 * time.Second}, ipFunc: PrimaryIP}
}

// Run blocks until ctx is cancelled, reporting the guest IP on every tick
// and whenever the detected IP changes between ticks.
func (r *Reporter) Run(ctx context.Context) {
	interval := r.cfg.ReportInterval
	if interval <= 0 {
		interval = DefaultReportInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastIP string
	poll := time.NewTicker(2 * time.Second)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.report(ctx)
		case <-poll.C:
			ip, err := r.ipFunc()
			if err != nil || ip == "" || ip == lastIP {
				continue
			}
			lastIP = ip
			r.report(ctx)
		}
	}
}

func (r *Reporter) report(ctx context.Context) {
	ip, err := r.ipFunc()
	if err != nil {
		log.Printf("guestagent: detect primary ip: %v", err)
		return
	}
	if ip == "" {
		return
	}

	body, err := json.Marshal(guestIPReport{IP: ip})
	if err != nil {
		return
	}
	url := fmt.Sprintf("%s/vms/%s/guest-ip", r.cfg.ManagerURL, r.cfg.VMID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		log.Printf("guestagent: report guest ip: %v", err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Printf("guestagent: report guest ip: manager returned %d", resp.StatusCode)
	}
}

// PrimaryIP returns the first non-loopback, up interface's first IPv4
// address. VMs in this system are single-NIC by default (spec.md §4.8
// auto-registers exactly one Network per VM), so "first" is unambiguous
// in practice; a multi-NIC guest would need an explicit interface name,
// which is out of scope for this loop.
func PrimaryIP() (string, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return "", fmt.Errorf("list links: %w", err)
	}
	for _, link := range links {
		attrs := link.Attrs()
		if attrs.Flags&net.FlagLoopback != 0 {
			continue
		}
		if attrs.OperState != netlink.OperUp {
			continue
		}
		addrs, err := netlink.AddrList(link, netlink.FAMILY_V4)
		if err != nil || len(addrs) == 0 {
			continue
		}
		return addrs[0].IP.String(), nil
	}
	return "", nil
}
