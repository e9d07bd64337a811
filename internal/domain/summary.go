package domain

import "github.com/shopspring/decimal"

// ProcessorSummary representa estatísticas de um processor específico
type ProcessorSummary struct {
	TotalRequests int64           `json:"totalRequests"`
	TotalAmount   decimal.Decimal `json:"totalAmount"`
}

// PaymentsSummary representa o resumo completo de pagamentos
type PaymentsSummary struct {
	Default  ProcessorSummary `json:"default"`
	Fallback ProcessorSummary `json:"fallback"`
}

// Add acumula um registro no resumo do processor correspondente
func (s *PaymentsSummary) Add(processor string, amount decimal.Decimal) {
	switch processor {
	case ProcessorDefault:
		s.Default.TotalRequests++
		s.Default.TotalAmount = s.Default.TotalAmount.Add(amount)
	case ProcessorFallback:
		s.Fallback.TotalRequests++
		s.Fallback.TotalAmount = s.Fallback.TotalAmount.Add(amount)
	}
}

// Stats são os números de diagnóstico do repositório
type Stats struct {
	TotalPayments    int64           `json:"totalPayments"`
	DefaultPayments  int64           `json:"defaultPayments"`
	FallbackPayments int64           `json:"fallbackPayments"`
	TotalAmount      decimal.Decimal `json:"totalAmount"`
}
