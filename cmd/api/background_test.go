package main

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBackgroundStopWaitsForTasks(t *testing.T) {
	bg := newBackground()
	var exited atomic.Int32

	for i := 0; i < 3; i++ {
		bg.Go(func(ctx context.Context) {
			<-ctx.Done()
			exited.Add(1)
		})
	}

	bg.Stop()
	require.Equal(t, int32(3), exited.Load())
	bg.Stop()
}

func TestShutdownStopsBackgroundBeforeClosingClients(t *testing.T) {
	var order []string
	bg := newBackground()
	bg.Go(func(ctx context.Context) {
		<-ctx.Done()
		order = append(order, "subscriber")
	})

	func() {
		defer func() { order = append(order, "redis") }()
		defer bg.Stop()
	}()

	require.Equal(t, []string{"subscriber", "redis"}, order)
}
