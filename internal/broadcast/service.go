package broadcast

import (
	"golang.org/x/time/rate"

	"relaybot/internal/translate"
	logx "relaybot/pkg/logx"
)

const defaultRatePerSec = 10

func New(cfg Config, dir Directory, tr translate.Translator, out Deliverer, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{dir: dir, tr: tr, out: out, log: log}
	s.Apply(cfg)
	return s
}

// Apply swaps pacing and retry settings. Fan-outs already running keep the
// limiter they started with.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	s.cfg = cfg
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = defaultRatePerSec
	}
	s.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	s.log.Debug("broadcast pacing applied", logx.Int("rps", rps), logx.Int("retry_max", cfg.RetryMax))
}
