package pubsub

import (
	"bufio"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/glidecore/valkeycore/internal/conn"
)

// fakeSubServer accepts connections, replies to HELLO with an error
// (forcing RESP2), acks SUBSCRIBE, then pushes one "message" frame for
// channel "news".
func fakeSubServer(t *testing.T) net.Listener {
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

				readCmd(r) // HELLO
				c.Write([]byte("-ERR unknown command\r\n"))

				readCmd(r) // SUBSCRIBE news
				c.Write([]byte("*3\r\n$9\r\nsubscribe\r\n$4\r\nnews\r\n:1\r\n"))

				c.Write([]byte("*3\r\n$7\r\nmessage\r\n$4\r\nnews\r\n$5\r\nhello\r\n"))

				time.Sleep(2 * time.Second)
			}(c)
		}
	}()
	return ln
}

func readCmd(r *bufio.Reader) {
	line, err := r.ReadString('\n')
	if err != nil || len(line) == 0 || line[0] != '*' {
		return
	}
	n := 0
	for _, ch := range line[1 : len(line)-2] {
		n = n*10 + int(ch-'0')
	}
	for i := 0; i < n; i++ {
		header, err := r.ReadString('\n')
		if err != nil {
			return
		}
		length := 0
		for _, ch := range header[1 : len(header)-2] {
			length = length*10 + int(ch-'0')
		}
		buf := make([]byte, length+2)
		r.Read(buf)
	}
}

func Test_Subscriber_DeliversMessage(t *testing.T) {
	ln := fakeSubServer(t)
	defer ln.Close()

	var mu sync.Mutex
	var got []Message

	s := New(context.Background(), Options{
		Endpoint: ln.Addr().String(),
		Base:     conn.Options{PreferredProto: conn.RESP3, ConnectTimeout: time.Second},
	}, Subscription{
		Channels: []string{"news"},
		Callback: func(m Message) {
			mu.Lock()
			got = append(got, m)
			mu.Unlock()
		},
	})
	defer s.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("delivered %d messages, want 1", len(got))
	}
	if got[0].Channel != "news" || string(got[0].Payload) != "hello" {
		t.Fatalf("message = %+v, want channel=news payload=hello", got[0])
	}
}
