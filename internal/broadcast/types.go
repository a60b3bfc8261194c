package broadcast

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"relaybot/internal/subscriber"
	"relaybot/internal/translate"
	logx "relaybot/pkg/logx"
)

type Config struct {
	RatePerSec int
	RetryMax   int
	Timeout    time.Duration // per delivery attempt; 0 means no deadline
}

// Deliverer hands one message to the outbound messaging service and returns its
// delivery id.
type Deliverer interface {
	Deliver(ctx context.Context, to, body string, media []string) (string, error)
}

// Directory lists the current subscribers.
type Directory interface {
	List() []subscriber.Subscriber
}

// Result summarizes one fan-out.
type Result struct {
	Total     int
	Delivered int
	Failed    int
	Failures  []string // contacts
	Languages int      // distinct translations produced
	Took      time.Duration
}

type Service struct {
	mu sync.Mutex

	cfg     Config
	dir     Directory
	tr      translate.Translator
	out     Deliverer
	limiter *rate.Limiter
	log     logx.Logger
}
