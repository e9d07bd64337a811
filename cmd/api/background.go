package main

import (
	"context"
	"sync"
)

// background agrupa as goroutines que vivem até o shutdown
type background struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newBackground() *background {
	ctx, cancel := context.WithCancel(context.Background())
	return &background{ctx: ctx, cancel: cancel}
}

func (b *background) Go(fn func(ctx context.Context)) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn(b.ctx)
	}()
}

// Stop cancela e espera todas as goroutines saírem. Deve rodar antes de
// fechar os clientes que elas usam.
func (b *background) Stop() {
	b.cancel()
	b.wg.Wait()
}
