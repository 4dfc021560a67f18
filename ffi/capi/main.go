// Command ffi/capi is the cgo C-ABI boundary: a thin shim that
// marshals the five exported functions (create_client, command,
// close_client, free_connection_response, free_command_response) to and
// from the pure-Go ffi package. Built with `go build -buildmode=c-shared`
// (or c-archive), it is never run as a standalone process.
package main

/*
#include <stdint.h>
#include <stdlib.h>

typedef enum {
	Unspecified = 0,
	ExecAbort = 1,
	Timeout = 2,
	Disconnect = 3
} RequestErrorType;

typedef struct {
	uint64_t client_id;
	const char *error_message;
} ConnectionResponse;

typedef struct {
	const char *kind;
	const uint8_t *bytes;
	int32_t bytes_len;
	int64_t int_value;
} CommandResponse;

typedef void (*SuccessCallback)(uintptr_t channel_ptr, CommandResponse *response);
typedef void (*FailureCallback)(uintptr_t channel_ptr, const char *message, RequestErrorType err_type);

static inline void invokeSuccess(SuccessCallback cb, uintptr_t channel_ptr, CommandResponse *response) {
	cb(channel_ptr, response);
}

static inline void invokeFailure(FailureCallback cb, uintptr_t channel_ptr, const char *message, RequestErrorType err_type) {
	cb(channel_ptr, message, err_type);
}
*/
import "C"

import (
	"context"
	"unsafe"

	"github.com/glidecore/valkeycore/ffi"
)

func main() {} // unused; required by -buildmode=c-shared

//export create_client
func create_client(confBytesPtr *C.uint8_t, confBytesLen C.int32_t, onSuccess C.SuccessCallback, onFailure C.FailureCallback) *C.ConnectionResponse {
	confBytes := C.GoBytes(unsafe.Pointer(confBytesPtr), C.int(confBytesLen))

	resp := ffi.CreateClient(context.Background(), confBytes, nil)

	out := (*C.ConnectionResponse)(C.malloc(C.size_t(unsafe.Sizeof(C.ConnectionResponse{}))))
	out.client_id = C.uint64_t(resp.ClientID)
	if resp.Err != nil {
		out.error_message = C.CString(resp.Err.Message)
	}
	return out
}

//export command
func command(clientID C.uint64_t, channelPtr C.uintptr_t, requestType *C.char, argc C.int32_t, argv **C.uint8_t, argLens *C.int32_t, onSuccess C.SuccessCallback, onFailure C.FailureCallback) {
	verb := C.GoString(requestType)
	n := int(argc)

	argPtrs := unsafe.Slice(argv, n)
	argSizes := unsafe.Slice(argLens, n)
	args := make([][]byte, n)
	for i := 0; i < n; i++ {
		args[i] = C.GoBytes(unsafe.Pointer(argPtrs[i]), C.int(argSizes[i]))
	}

	cPtr := uintptr(channelPtr)

	ffi.Command(context.Background(), uint64(clientID), cPtr, verb, args,
		func(channelPtr uintptr, response *ffi.CommandResponse) {
			cr := (*C.CommandResponse)(C.malloc(C.size_t(unsafe.Sizeof(C.CommandResponse{}))))
			fillResponse(cr, response)
			C.invokeSuccess(onSuccess, C.uintptr_t(channelPtr), cr)
		},
		func(channelPtr uintptr, respErr *ffi.ResponseError) {
			msg := C.CString(respErr.Message)
			defer C.free(unsafe.Pointer(msg))
			C.invokeFailure(onFailure, C.uintptr_t(channelPtr), msg, C.RequestErrorType(respErr.Kind))
		},
	)
}

//export close_client
func close_client(clientID C.uint64_t) {
	ffi.CloseClient(uint64(clientID))
}

//export free_connection_response
func free_connection_response(r *C.ConnectionResponse) {
	if r == nil {
		return
	}
	if r.error_message != nil {
		C.free(unsafe.Pointer(r.error_message))
	}
	C.free(unsafe.Pointer(r))
}

//export free_command_response
func free_command_response(r *C.CommandResponse) {
	if r == nil {
		return
	}
	if r.kind != nil {
		C.free(unsafe.Pointer(r.kind))
	}
	if r.bytes != nil {
		C.free(unsafe.Pointer(r.bytes))
	}
	C.free(unsafe.Pointer(r))
}

// fillResponse flattens a resp.Value into the flat C struct: exactly one
// of bytes/int_value is meaningful, selected by kind.
func fillResponse(cr *C.CommandResponse, response *ffi.CommandResponse) {
	v := response.Value
	cr.kind = C.CString(v.Kind.String())
	switch {
	case len(v.Str) > 0:
		cr.bytes = (*C.uint8_t)(C.CBytes(v.Str))
		cr.bytes_len = C.int32_t(len(v.Str))
	case v.Int != 0:
		cr.int_value = C.int64_t(v.Int)
	}
}
