package billing

import (
	"log/slog"
	"maps"
	"time"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// WithClock injects the time source. Every reconciliation and accounting
// decision reads now exactly once from this function, so tests can pin
// timestamps deterministically.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithPetCounter registers the active-pet counter used by the capacity gate.
func WithPetCounter(fn PetCounterFunc) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.petCount = fn
		}
	}
}

// WithTenantLocker replaces the in-process keyed mutex, e.g. with the Redis
// locker for multi-process deployments.
func WithTenantLocker(locker TenantLocker) ServiceOption {
	return func(s *Service) {
		if locker != nil {
			s.locker = locker
		}
	}
}

// WithMaintenance registers the store maintenance hook run by the startup
// sweep (sequence repair and friends).
func WithMaintenance(m Maintenance) ServiceOption {
	return func(s *Service) {
		s.maintenance = m
	}
}

// WithAddOnPriceIDs sets the provider price ID of the add-on slot item per
// mode. Required before SetAddOnSlots can talk to the provider.
func WithAddOnPriceIDs(ids map[Mode]string) ServiceOption {
	return func(s *Service) {
		if len(ids) > 0 {
			s.addOnPriceIDs = maps.Clone(ids)
		}
	}
}

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) ServiceOption {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithSweepConcurrency bounds how many tenants the startup sweep reconciles
// in parallel.
func WithSweepConcurrency(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.sweepWorkers = n
		}
	}
}
