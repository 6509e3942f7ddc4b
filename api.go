package fractal

import (
	"context"
)

// Kernel computes the raster for one request. progress may be nil.
type Kernel interface {
	Render(ctx context.Context, req Request, progress func(Progress)) (*Raster, error)
}

// ResponseHandler receives the responses of one posted request.
type ResponseHandler func(Response)

// Worker carries requests to a kernel asynchronously. Post never waits for the
// computation; responses are delivered to h from the worker's goroutine.
// Workers do not multiplex: callers keep at most one request outstanding.
type Worker interface {
	Post(req Request, h ResponseHandler) error
	Close() error
}
