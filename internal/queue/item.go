package queue

import (
	"sync"
	"time"

	"rinha-payment-gateway/internal/domain"
)

type Mode int

const (
	// NoWait: o chamador já recebeu o ack, o resultado é descartado
	NoWait Mode = iota
	// WaitForResult: o chamador aguarda o Handle ser resolvido
	WaitForResult
)

// Item é um pagamento aguardando um worker
type Item struct {
	Request    domain.PaymentRequest
	EnqueuedAt time.Time
	Mode       Mode
	handle     *Handle
}

// Handle devolve o resultado, só existe em itens WaitForResult
func (it Item) Handle() *Handle {
	return it.handle
}

// Handle é resolvido no máximo uma vez. O primeiro Resolve ou Cancel vence.
type Handle struct {
	once   sync.Once
	done   chan struct{}
	result domain.PaymentResult
}

func newHandle() *Handle {
	return &Handle{done: make(chan struct{})}
}

// Resolve entrega o resultado; retorna false se o handle já estava resolvido
func (h *Handle) Resolve(result domain.PaymentResult) bool {
	resolved := false
	h.once.Do(func() {
		h.result = result
		close(h.done)
		resolved = true
	})
	return resolved
}

// Cancel resolve o handle como cancelado
func (h *Handle) Cancel() bool {
	return h.Resolve(domain.Failed(domain.ReasonCancelled))
}

func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Result só é válido depois de Done
func (h *Handle) Result() domain.PaymentResult {
	<-h.done
	return h.result
}
