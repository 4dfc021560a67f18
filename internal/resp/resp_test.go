package resp

import (
	"bytes"
	"testing"
)

func Test_Encode(t *testing.T) {
	got := Encode("GET", [][]byte{[]byte("foo")})
	want := "*2\r\n$3\r\nGET\r\n$3\r\nfoo\r\n"

	if string(got) != want {
		t.Fatalf("Encode() = %q, want %q", got, want)
	}
}

func Test_Decode_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		wire string
		kind Kind
	}{
		{"simple string", "+OK\r\n", KindSimpleString},
		{"error", "-WRONGTYPE Operation against a key\r\n", KindError},
		{"integer", ":1000\r\n", KindInteger},
		{"bulk", "$5\r\nhello\r\n", KindBulkString},
		{"nil bulk", "$-1\r\n", KindNil},
		{"array", "*2\r\n$3\r\nfoo\r\n$3\r\nbar\r\n", KindArray},
		{"nil array", "*-1\r\n", KindNil},
		{"null resp3", "_\r\n", KindNil},
		{"double", ",3.14\r\n", KindDouble},
		{"boolean true", "#t\r\n", KindBoolean},
		{"bignum", "(3492890328409238509324850943850943825024385\r\n", KindBigNumber},
		{"verbatim", "=15\r\ntxt:Some string\r\n", KindVerbatimString},
		{"map", "%1\r\n$3\r\nkey\r\n$3\r\nval\r\n", KindMap},
		{"set", "~2\r\n:1\r\n:2\r\n", KindSet},
		{"push", ">2\r\n$7\r\nmessage\r\n$5\r\nhello\r\n", KindPush},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDecoder()
			d.Feed([]byte(tt.wire))

			v, err := d.Next()
			if err != nil {
				t.Fatalf("Next() error = %v", err)
			}
			if v.Kind != tt.kind {
				t.Fatalf("Kind = %v, want %v", v.Kind, tt.kind)
			}
			if d.Buffered() != 0 {
				t.Fatalf("Buffered() = %d, want 0", d.Buffered())
			}
		})
	}
}

func Test_Decode_Incomplete_DoesNotAdvance(t *testing.T) {
	d := NewDecoder()
	d.Feed([]byte("$5\r\nhel"))

	if _, err := d.Next(); err != ErrIncomplete {
		t.Fatalf("Next() error = %v, want ErrIncomplete", err)
	}
	if d.Buffered() != len("$5\r\nhel") {
		t.Fatalf("buffer was consumed on incomplete frame")
	}

	d.Feed([]byte("lo\r\n"))
	v, err := d.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if !bytes.Equal(v.Str, []byte("hello")) {
		t.Fatalf("Str = %q, want %q", v.Str, "hello")
	}
}

func Test_Decode_EmptyArray(t *testing.T) {
	d := NewDecoder()
	d.Feed([]byte("*0\r\n"))

	v, err := d.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if v.Kind != KindArray || len(v.Array) != 0 {
		t.Fatalf("got %+v, want empty array", v)
	}
}

func Test_Decode_DeepNesting(t *testing.T) {
	var buf bytes.Buffer
	depth := 8
	for i := 0; i < depth; i++ {
		buf.WriteString("*1\r\n")
	}
	buf.WriteString(":1\r\n")

	d := NewDecoder()
	d.Feed(buf.Bytes())

	v, err := d.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}

	cur := v
	for i := 0; i < depth; i++ {
		if cur.Kind != KindArray || len(cur.Array) != 1 {
			t.Fatalf("depth %d: got %+v", i, cur)
		}
		cur = cur.Array[0]
	}
	if cur.Kind != KindInteger || cur.Int != 1 {
		t.Fatalf("innermost value = %+v", cur)
	}
}

func Test_Decode_MalformedFrame(t *testing.T) {
	d := NewDecoder()
	d.Feed([]byte("?unknown\r\n"))

	if _, err := d.Next(); err != ErrProtocol {
		t.Fatalf("Next() error = %v, want ErrProtocol", err)
	}
}

func Test_ErrorValue_Code(t *testing.T) {
	d := NewDecoder()
	d.Feed([]byte("-MOVED 7000 10.0.0.2:6379\r\n"))

	v, err := d.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if v.Code != "MOVED" {
		t.Fatalf("Code = %q, want MOVED", v.Code)
	}
	if string(v.Str) != "7000 10.0.0.2:6379" {
		t.Fatalf("Str = %q", v.Str)
	}
}
