package debugserver

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/glidecore/valkeycore/client"
	"github.com/glidecore/valkeycore/config"
)

func Test_Server_Health_ReportsPools(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	tcpAddr := ln.Addr().(*net.TCPAddr)

	cfg := config.Defaults()
	cfg.Addresses = []config.Address{{Host: tcpAddr.IP.String(), Port: tcpAddr.Port}}
	cfg.RequestTimeoutMs = 200

	c, err := client.New(context.Background(), &cfg, nil)
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}
	defer c.Close()

	s := New(c, "valkeycore-debug", 1<<20)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp, err := s.App.Test(req, -1)
	if err != nil {
		t.Fatalf("App.Test() error = %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		Pools []interface{} `json:"pools"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func Test_Server_Topology_ReportsNotFoundOutsideClusterMode(t *testing.T) {
	cfg := config.Defaults()
	cfg.Addresses = []config.Address{{Host: "127.0.0.1", Port: 1}}

	c, err := client.New(context.Background(), &cfg, nil)
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}
	defer c.Close()

	s := New(c, "valkeycore-debug", 1<<20)

	req := httptest.NewRequest(http.MethodGet, "/topology", nil)
	resp, err := s.App.Test(req, -1)
	if err != nil {
		t.Fatalf("App.Test() error = %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}
