package ffi

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"
)

// singleCommandServer accepts one connection, fails HELLO to force RESP2,
// then replies +PONG to any PING it receives.
func singleCommandServer(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		r := bufio.NewReader(c)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			if line[0] != '*' {
				continue
			}
			// Drain the rest of the frame.
			drainArgs(r, line)
			c.Write([]byte("-ERR unknown command 'HELLO'\r\n"))
			break
		}
		for {
			line, err := r.ReadString('\n')
			if err != nil || line[0] != '*' {
				return
			}
			drainArgs(r, line)
			c.Write([]byte("+PONG\r\n"))
		}
	}()
	return ln
}

// drainArgs reads the bulk-string arguments announced by an array header
// line such as "*2\r\n", leaving the reader at the start of the next frame.
func drainArgs(r *bufio.Reader, header string) {
	n := 0
	for _, ch := range header[1 : len(header)-2] {
		n = n*10 + int(ch-'0')
	}
	for i := 0; i < n; i++ {
		r.ReadString('\n') // $len
		r.ReadString('\n') // data
	}
}

func encodeMinimalConfig(host string, port int) []byte {
	// Mirrors config.Decode's wire layout with one address and no auth.
	buf := []byte{0, 0, 1} // cluster_mode=0, tls_mode=NoTls, protocol=Resp3
	buf = append(buf, 0, 0, 0, 0)       // database_id = 0
	buf = append(buf, 0xD0, 0x07, 0, 0) // request_timeout_ms = 2000
	buf = append(buf, 0xFA, 0, 0, 0)    // connection_timeout_ms = 250
	buf = append(buf, 1, 0)             // address_count = 1
	buf = append(buf, byte(len(host)), 0)
	buf = append(buf, host...)
	buf = append(buf, byte(port), byte(port>>8))
	buf = append(buf, 0, 0, 0, 0, 0, 0) // empty username/password/client_name
	return buf
}

func Test_CreateClient_CommandCloseClient(t *testing.T) {
	ln := singleCommandServer(t)
	defer ln.Close()

	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	var port int
	for _, c := range portStr {
		port = port*10 + int(c-'0')
	}

	resp := CreateClient(context.Background(), encodeMinimalConfig(host, port), nil)
	if resp.Err != nil {
		t.Fatalf("CreateClient() error = %v", resp.Err.Message)
	}

	done := make(chan *CommandResponse, 1)
	failed := make(chan *ResponseError, 1)

	Command(context.Background(), resp.ClientID, 42, "PING", nil,
		func(channelPtr uintptr, r *CommandResponse) { done <- r },
		func(channelPtr uintptr, e *ResponseError) { failed <- e },
	)

	select {
	case r := <-done:
		if string(r.Value.Str) != "PONG" {
			t.Fatalf("PING reply = %q, want PONG", r.Value.Str)
		}
	case e := <-failed:
		t.Fatalf("Command() failed: %v", e.Message)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for callback")
	}

	CloseClient(resp.ClientID)

	failed2 := make(chan *ResponseError, 1)
	Command(context.Background(), resp.ClientID, 42, "PING", nil,
		func(channelPtr uintptr, r *CommandResponse) { t.Fatal("onSuccess called for unknown client id") },
		func(channelPtr uintptr, e *ResponseError) { failed2 <- e },
	)
	select {
	case e := <-failed2:
		if e.Kind != Disconnect {
			t.Fatalf("Kind = %v, want Disconnect", e.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for post-close callback")
	}
}
