package pool

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/glidecore/valkeycore/internal/conn"
)

// pingServer answers HELLO with an error (forcing RESP2) and every
// subsequent command with +PONG, looping forever per accepted connection.
func pingServer(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				r := bufio.NewReader(c)
				first := true
				for {
					if !skipCommand(r) {
						return
					}
					if first {
						c.Write([]byte("-ERR unknown command\r\n"))
						first = false
						continue
					}
					c.Write([]byte("+PONG\r\n"))
				}
			}(c)
		}
	}()
	return ln
}

func skipCommand(r *bufio.Reader) bool {
	line, err := r.ReadString('\n')
	if err != nil || len(line) < 3 || line[0] != '*' {
		return false
	}
	n := 0
	for _, ch := range line[1 : len(line)-2] {
		n = n*10 + int(ch-'0')
	}
	for i := 0; i < n; i++ {
		header, err := r.ReadString('\n')
		if err != nil {
			return false
		}
		length := 0
		for _, ch := range header[1 : len(header)-2] {
			length = length*10 + int(ch-'0')
		}
		buf := make([]byte, length+2)
		if _, err := r.Read(buf); err != nil {
			return false
		}
	}
	return true
}

func Test_Pool_PickRoundRobin(t *testing.T) {
	ln := pingServer(t)
	defer ln.Close()

	dialer := func(ctx context.Context) (*conn.Connection, error) {
		return conn.Open(ctx, conn.Options{Endpoint: ln.Addr().String(), PreferredProto: conn.RESP3, ConnectTimeout: time.Second})
	}

	p := New(context.Background(), dialer, Options{Size: 2, HealthCheckInterval: time.Hour})
	defer p.Close()

	deadline := time.Now().Add(2 * time.Second)
	for p.HealthyCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if p.HealthyCount() != 2 {
		t.Fatalf("HealthyCount() = %d, want 2", p.HealthyCount())
	}

	seen := map[*conn.Connection]bool{}
	for i := 0; i < 4; i++ {
		c, err := p.Pick()
		if err != nil {
			t.Fatalf("Pick() error = %v", err)
		}
		seen[c] = true
	}
	if len(seen) != 2 {
		t.Fatalf("round robin visited %d distinct connections, want 2", len(seen))
	}
}

func Test_Pool_PickSkipsBlockingReserved(t *testing.T) {
	ln := pingServer(t)
	defer ln.Close()

	dialer := func(ctx context.Context) (*conn.Connection, error) {
		return conn.Open(ctx, conn.Options{Endpoint: ln.Addr().String(), PreferredProto: conn.RESP3, ConnectTimeout: time.Second})
	}

	p := New(context.Background(), dialer, Options{Size: 1, HealthCheckInterval: time.Hour})
	defer p.Close()

	deadline := time.Now().Add(2 * time.Second)
	for p.HealthyCount() < 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	c, err := p.Pick()
	if err != nil {
		t.Fatalf("Pick() error = %v", err)
	}
	c.MarkReservedForBlocking(true)

	if _, err := p.Pick(); err != ErrNoHealthyConnection {
		t.Fatalf("Pick() error = %v, want ErrNoHealthyConnection", err)
	}
}

func Test_Backoff_Delay_CapsAtNumberOfRetries(t *testing.T) {
	b := Backoff{NumberOfRetries: 2, Factor: 10, ExponentBase: 2}

	if got, want := b.Delay(0), 10*time.Millisecond; got != want {
		t.Fatalf("Delay(0) = %v, want %v", got, want)
	}
	if got, want := b.Delay(5), b.Delay(2); got != want {
		t.Fatalf("Delay(5) = %v, want capped value %v", got, want)
	}
}
