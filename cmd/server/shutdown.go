package main

import (
	"context"
	"errors"
)

type httpServer interface {
	Shutdown(ctx context.Context) error
}

type controlPlane interface {
	Shutdown(ctx context.Context)
}

// drain stops intake, tears down cameras and viewers, then stops the event
// bus and waits for it to flush what teardown emitted.
func drain(ctx context.Context, srv httpServer, cp controlPlane, stopBus context.CancelFunc, busDone <-chan struct{}) error {
	err := srv.Shutdown(ctx)
	cp.Shutdown(ctx)
	stopBus()
	select {
	case <-busDone:
	case <-ctx.Done():
		err = errors.Join(err, ctx.Err())
	}
	return err
}
