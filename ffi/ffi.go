// Package ffi implements the pure-Go half of the C-ABI surface: an
// opaque-pointer client registry and the request/response shapes the
// cgo boundary (ffi/capi) marshals to and from C.
//
// channel_ptr is treated as an untouched token throughout this package:
// it is threaded through to the callback unmodified and never
// dereferenced on the Go side.
package ffi

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/glidecore/valkeycore/apierrors"
	"github.com/glidecore/valkeycore/client"
	"github.com/glidecore/valkeycore/config"
	"github.com/glidecore/valkeycore/events"
	"github.com/glidecore/valkeycore/internal/resp"
	"github.com/glidecore/valkeycore/internal/router"
)

// RequestErrorType mirrors the FFI enum of the same name.
type RequestErrorType int

const (
	Unspecified RequestErrorType = iota
	ExecAbort
	Timeout
	Disconnect
)

// ConnectionResponse is what create_client returns.
type ConnectionResponse struct {
	ClientID uint64
	Err      *ResponseError
}

// CommandResponse is what a successful command callback receives.
type CommandResponse struct {
	Value resp.Value
}

// ResponseError is what a failure callback receives.
type ResponseError struct {
	Message string
	Kind    RequestErrorType
}

// OnSuccess and OnFailure mirror the FFI callback signatures. channelPtr
// is opaque and passed through unmodified.
type OnSuccess func(channelPtr uintptr, response *CommandResponse)
type OnFailure func(channelPtr uintptr, err *ResponseError)

// registry maps client IDs to live Clients, the Go-side analogue of the
// C ABI's *ConnectionResponse opaque pointer.
var registry = struct {
	mu      sync.Mutex
	clients map[uint64]*client.Client
	nextID  uint64
}{clients: map[uint64]*client.Client{}}

// CreateClient decodes conf and establishes the underlying Client,
// registering it under a new client ID.
func CreateClient(ctx context.Context, confBytes []byte, sink events.Sink) *ConnectionResponse {
	cfg, err := config.Decode(confBytes)
	if err != nil {
		return &ConnectionResponse{Err: &ResponseError{Message: err.Error(), Kind: Unspecified}}
	}

	c, err := client.New(ctx, cfg, sink)
	if err != nil {
		return &ConnectionResponse{Err: &ResponseError{Message: err.Error(), Kind: Unspecified}}
	}

	id := atomic.AddUint64(&registry.nextID, 1)
	registry.mu.Lock()
	registry.clients[id] = c
	registry.mu.Unlock()

	return &ConnectionResponse{ClientID: id}
}

func lookup(clientID uint64) (*client.Client, bool) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	c, ok := registry.clients[clientID]
	return c, ok
}

// Command dispatches one request asynchronously, invoking exactly one of
// onSuccess/onFailure on a background goroutine. An unknown clientID fails
// synchronously, on the caller's goroutine, with Disconnect.
func Command(ctx context.Context, clientID uint64, channelPtr uintptr, verb string, args [][]byte, onSuccess OnSuccess, onFailure OnFailure) {
	c, ok := lookup(clientID)
	if !ok {
		onFailure(channelPtr, &ResponseError{Message: "unknown client id", Kind: Disconnect})
		return
	}

	go func() {
		v, err := c.Command(ctx, verb, args, nil, router.Primary)
		if err != nil {
			onFailure(channelPtr, toResponseError(err))
			return
		}
		onSuccess(channelPtr, &CommandResponse{Value: v})
	}()
}

// CloseClient disposes the Client registered under clientID, removing it
// from the registry so no further Command calls can reach it.
func CloseClient(clientID uint64) {
	registry.mu.Lock()
	c, ok := registry.clients[clientID]
	delete(registry.clients, clientID)
	registry.mu.Unlock()

	if ok {
		c.Close()
	}
}

// FreeCommandResponse and FreeConnectionResponse exist to mirror the C
// ABI's explicit free functions; Go's GC reclaims these values once
// unreferenced, so both are no-ops kept for API-shape symmetry.
func FreeCommandResponse(*CommandResponse)       {}
func FreeConnectionResponse(*ConnectionResponse) {}

func toResponseError(err error) *ResponseError {
	var apiErr *apierrors.Error
	if !errors.As(err, &apiErr) {
		return &ResponseError{Message: err.Error(), Kind: Unspecified}
	}

	kind := Unspecified
	switch apiErr.Kind {
	case apierrors.Timeout:
		kind = Timeout
	case apierrors.ConnectionClosed, apierrors.Disconnect:
		kind = Disconnect
	case apierrors.ExecAbort:
		kind = ExecAbort
	}
	return &ResponseError{Message: apiErr.Error(), Kind: kind}
}
