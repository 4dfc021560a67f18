package client

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"testing"

	"github.com/glidecore/valkeycore/config"
	"github.com/glidecore/valkeycore/internal/router"
)

// readCommand reads and returns the verb and args of one RESP
// array-of-bulk-strings frame.
func readCommand(r *bufio.Reader) (string, []string, bool) {
	line, err := r.ReadString('\n')
	if err != nil || len(line) == 0 || line[0] != '*' {
		return "", nil, false
	}
	n, _ := strconv.Atoi(strings.TrimSpace(line[1:]))
	parts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		header, err := r.ReadString('\n')
		if err != nil {
			return "", nil, false
		}
		length, _ := strconv.Atoi(strings.TrimSpace(header[1:]))
		buf := make([]byte, length+2)
		if _, err := r.Read(buf); err != nil {
			return "", nil, false
		}
		parts = append(parts, string(buf[:length]))
	}
	if len(parts) == 0 {
		return "", nil, false
	}
	return strings.ToUpper(parts[0]), parts[1:], true
}

func bulk(s string) string   { return fmt.Sprintf("$%d\r\n%s\r\n", len(s), s) }
func integer(n int) string   { return fmt.Sprintf(":%d\r\n", n) }
func array(n int) string     { return fmt.Sprintf("*%d\r\n", n) }
func simple(s string) string { return fmt.Sprintf("+%s\r\n", s) }
func errLine(s string) string { return fmt.Sprintf("-%s\r\n", s) }

func clusterShardsReply(ip string, port int) string {
	var b strings.Builder
	b.WriteString(array(1)) // one shard
	b.WriteString(array(4))
	b.WriteString(bulk("slots"))
	b.WriteString(array(2))
	b.WriteString(integer(0))
	b.WriteString(integer(16383))
	b.WriteString(bulk("nodes"))
	b.WriteString(array(1))
	b.WriteString(array(8))
	b.WriteString(bulk("id"))
	b.WriteString(bulk("node-a"))
	b.WriteString(bulk("port"))
	b.WriteString(integer(port))
	b.WriteString(bulk("ip"))
	b.WriteString(bulk(ip))
	b.WriteString(bulk("role"))
	b.WriteString(bulk("master"))
	return b.String()
}

// singleNodeCluster runs one listener that: fails HELLO (forcing RESP2),
// answers CLUSTER SHARDS describing itself as the sole primary owning
// every slot, and answers SET/GET against an in-memory map.
func singleNodeCluster(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)

	store := map[string]string{}

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				r := bufio.NewReader(c)
				for {
					verb, args, ok := readCommand(r)
					if !ok {
						return
					}
					switch verb {
					case "HELLO":
						c.Write([]byte(errLine("ERR unknown command 'HELLO'")))
					case "CLUSTER":
						c.Write([]byte(clusterShardsReply("127.0.0.1", port)))
					case "SET":
						store[args[0]] = args[1]
						c.Write([]byte(simple("OK")))
					case "GET":
						v, ok := store[args[0]]
						if !ok {
							c.Write([]byte("$-1\r\n"))
							continue
						}
						c.Write([]byte(bulk(v)))
					case "PING":
						c.Write([]byte(simple("PONG")))
					default:
						c.Write([]byte(errLine("ERR unknown command")))
					}
				}
			}(c)
		}
	}()

	return ln
}

func Test_Client_Cluster_SetThenGet(t *testing.T) {
	ln := singleNodeCluster(t)
	defer ln.Close()

	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)

	cfg := config.Defaults()
	cfg.ClusterMode = true
	cfg.Addresses = []config.Address{{Host: host, Port: port}}
	cfg.RequestTimeoutMs = 2000

	ctx := context.Background()
	cl, err := New(ctx, &cfg, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer cl.Close()

	if _, err := cl.Command(ctx, "SET", [][]byte{[]byte("foo"), []byte("bar")}, nil, router.Primary); err != nil {
		t.Fatalf("SET error = %v", err)
	}

	v, err := cl.Command(ctx, "GET", [][]byte{[]byte("foo")}, nil, router.Primary)
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	if string(v.Str) != "bar" {
		t.Fatalf("GET = %q, want bar", v.Str)
	}
}

func Test_Client_Cluster_CommandAfterCloseFails(t *testing.T) {
	ln := singleNodeCluster(t)
	defer ln.Close()

	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)

	cfg := config.Defaults()
	cfg.ClusterMode = true
	cfg.Addresses = []config.Address{{Host: host, Port: port}}

	ctx := context.Background()
	cl, err := New(ctx, &cfg, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	cl.Close()

	_, err = cl.Command(ctx, "GET", [][]byte{[]byte("foo")}, nil, router.Primary)
	if err == nil {
		t.Fatalf("Command() after Close() error = nil, want ClientClosed")
	}
}
