package payment

import (
	"context"
	"fmt"
	"log/slog"
)

type monitor struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// StartMonitoring watches reference until StopMonitoring is called and pushes
// a single Confirmation onto events once the payment is confirmed. The watch
// outlives ctx's cancellation; only StopMonitoring or Close end it.
func (c *Client) StartMonitoring(ctx context.Context, reference string, events chan<- Confirmation) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.monitors[reference]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyMonitoring, reference)
	}

	mctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m := &monitor{cancel: cancel, done: make(chan struct{})}
	c.monitors[reference] = m

	go c.watch(mctx, reference, events, m.done)

	c.logger.Info("Payment monitoring started",
		slog.String("payment_reference", truncate(reference)),
	)
	return nil
}

// StopMonitoring ends the watch for reference and waits for it to exit.
func (c *Client) StopMonitoring(reference string) error {
	c.mu.Lock()
	m, ok := c.monitors[reference]
	delete(c.monitors, reference)
	c.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotMonitoring, reference)
	}

	m.cancel()
	<-m.done

	c.logger.Info("Payment monitoring stopped",
		slog.String("payment_reference", truncate(reference)),
	)
	return nil
}

// Close stops every active watch.
func (c *Client) Close() {
	c.mu.Lock()
	refs := make([]string, 0, len(c.monitors))
	for ref := range c.monitors {
		refs = append(refs, ref)
	}
	c.mu.Unlock()

	for _, ref := range refs {
		_ = c.StopMonitoring(ref)
	}
}

// watch polls the on-chain state on a ticker.
func (c *Client) watch(ctx context.Context, reference string, events chan<- Confirmation, done chan<- struct{}) {
	defer close(done)

	ticker := c.clock.NewTicker(c.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.Chan():
			state, err := c.onChainState(ctx, reference)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				c.logger.Warn("Failed to check payment status",
					slog.String("payment_reference", truncate(reference)),
					slog.String("error", err.Error()),
				)
				continue
			}

			if !confirmedStates[state] {
				c.logger.Debug("Payment not confirmed yet",
					slog.String("payment_reference", truncate(reference)),
					slog.String("on_chain_state", state),
				)
				continue
			}

			select {
			case events <- Confirmation{Reference: reference, At: c.clock.Now()}:
				c.logger.Info("Payment confirmed",
					slog.String("payment_reference", truncate(reference)),
					slog.String("on_chain_state", state),
				)
			case <-ctx.Done():
				return
			}

			// one confirmation per watch; wait to be stopped
			<-ctx.Done()
			return
		}
	}
}
