package resp

import (
	"strconv"
)

// Encode frames a command as a RESP array of bulk strings: the first bulk
// string is the command verb, the rest are opaque argument bytes. No
// escaping, no charset assumption
func Encode(verb string, args [][]byte) []byte {
	n := len(args) + 1
	buf := make([]byte, 0, 32+estimateLen(args))

	buf = append(buf, '*')
	buf = strconv.AppendInt(buf, int64(n), 10)
	buf = append(buf, '\r', '\n')

	buf = appendBulk(buf, []byte(verb))
	for _, a := range args {
		buf = appendBulk(buf, a)
	}

	return buf
}

// EncodeRaw frames an arbitrary arg list as a RESP array of bulk strings,
// with no distinguished verb: the verb, if any, is just the first argument.
func EncodeRaw(args [][]byte) []byte {
	buf := make([]byte, 0, 32+estimateLen(args))

	buf = append(buf, '*')
	buf = strconv.AppendInt(buf, int64(len(args)), 10)
	buf = append(buf, '\r', '\n')

	for _, a := range args {
		buf = appendBulk(buf, a)
	}

	return buf
}

func appendBulk(buf, b []byte) []byte {
	buf = append(buf, '$')
	buf = strconv.AppendInt(buf, int64(len(b)), 10)
	buf = append(buf, '\r', '\n')
	buf = append(buf, b...)
	buf = append(buf, '\r', '\n')
	return buf
}

func estimateLen(args [][]byte) int {
	n := 0
	for _, a := range args {
		n += len(a) + 16
	}
	return n
}
