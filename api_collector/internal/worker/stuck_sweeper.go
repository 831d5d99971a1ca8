package worker

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"billingstack/api_collector/internal/flows"
	"billingstack/api_collector/internal/service"
	"billingstack/pkg/logging"
	"billingstack/pkg/models"
)

// StuckSweeper periodically reports entities left in a non-terminal state.
// It only observes; operators resolve stuck rows through the admin API.
type StuckSweeper struct {
	finder    stuckFinder
	gauge     *prometheus.GaugeVec
	logger    logging.Logger
	interval  time.Duration
	threshold time.Duration
}

type stuckFinder interface {
	FindStuck(ctx context.Context, olderThan time.Duration) (*service.Stuck, error)
}

func NewStuckSweeper(finder stuckFinder, gauge *prometheus.GaugeVec, logger logging.Logger, interval, threshold time.Duration) *StuckSweeper {
	return &StuckSweeper{
		finder:    finder,
		gauge:     gauge,
		logger:    logger,
		interval:  interval,
		threshold: threshold,
	}
}

func (s *StuckSweeper) Start(ctx context.Context) {
	s.logger.WithField("threshold", s.threshold.String()).Info("Starting stuck entity sweeper")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Stopping stuck entity sweeper")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *StuckSweeper) sweep(ctx context.Context) {
	stuck, err := s.finder.FindStuck(ctx, s.threshold)
	if err != nil {
		s.logger.WithError(err).Error("Stuck entity sweep failed")
		return
	}

	counts := map[string]map[models.State]int{
		flows.EntityPGConfig:      {},
		flows.EntityPaymentMethod: {},
	}
	for _, st := range service.StuckPGConfigStates {
		counts[flows.EntityPGConfig][st] = 0
	}
	for _, st := range service.StuckPaymentMethodStates {
		counts[flows.EntityPaymentMethod][st] = 0
	}
	for _, c := range stuck.PGConfigs {
		counts[flows.EntityPGConfig][c.State]++
		s.logger.WithFields(logging.Fields{
			"pg_config_id": c.ID,
			"merchant_id":  c.MerchantID,
			"state":        c.State,
			"since":        c.UpdatedAt,
		}).Warn("Gateway config stuck")
	}
	for _, pm := range stuck.PaymentMethods {
		counts[flows.EntityPaymentMethod][pm.State]++
		s.logger.WithFields(logging.Fields{
			"payment_method_id": pm.ID,
			"customer_id":       pm.CustomerID,
			"state":             pm.State,
			"since":             pm.UpdatedAt,
		}).Warn("Payment method stuck")
	}

	if s.gauge != nil {
		for entity, byState := range counts {
			for st, n := range byState {
				s.gauge.WithLabelValues(entity, string(st)).Set(float64(n))
			}
		}
	}
	if total := len(stuck.PGConfigs) + len(stuck.PaymentMethods); total > 0 {
		s.logger.WithField("stuck", total).Info("Stuck entity sweep completed")
	}
}
