package payouts

import (
	"context"

	"go.uber.org/zap"
)

// NewLoggingProcessor returns a processor that records each handoff instead
// of calling a payment rail. Deployments without processor credentials run
// with this one; requests still move to processing and are settled through
// the admin advance endpoint.
func NewLoggingProcessor(logger *zap.Logger) Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return ProcessorFunc(func(_ context.Context, payout Payout) error {
		logger.Info("payout handed to processor",
			zap.String("payout_id", payout.ID),
			zap.String("reference", payout.ReferenceNumber),
			zap.Float64("net_amount", payout.NetAmount),
			zap.String("currency", payout.CryptoCurrency))
		return nil
	})
}
