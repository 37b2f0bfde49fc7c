/*
sweeper.go - Background payment-intent expiry

PURPOSE:
  Periodically sweeps abandoned payment intents: 'created' intents
  older than the TTL move to 'expired' so a stale pay link can never be
  confirmed weeks later. The sweep never touches the ledger.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - The status CAS makes the sweep safe against concurrent
    confirmations: whichever transition lands first wins
  - Expired counts are logged and exported for operators

USAGE:
  sweeper := NewIntentSweeper(gateway, ttl)
  sweeper.Start()
  // ... later
  sweeper.Stop()

SEE ALSO:
  - payment/gateway.go: ExpireStale
  - cmd/server/main.go: wiring
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/learnxtrade/credit-engine/payment"
)

var intentsExpired = promauto.NewCounter(prometheus.CounterOpts{
	Name: "credit_engine_intents_expired_total",
	Help: "Payment intents swept to expired after the TTL.",
})

// IntentSweeper expires abandoned payment intents in the background.
type IntentSweeper struct {
	Gateway       *payment.Gateway
	TTL           time.Duration
	CheckInterval time.Duration

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewIntentSweeper creates a sweeper. Intents older than ttl are
// expired on each pass.
func NewIntentSweeper(gateway *payment.Gateway, ttl time.Duration) *IntentSweeper {
	return &IntentSweeper{
		Gateway:       gateway,
		TTL:           ttl,
		CheckInterval: 5 * time.Minute,
		stop:          make(chan bool),
	}
}

// Start begins the sweeper.
func (s *IntentSweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.TTL <= 0 {
		log.Println("[Sweeper] No intent TTL configured, not starting")
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.wg.Add(1)

	go s.run()

	log.Printf("[Sweeper] Started with TTL %v, check interval %v", s.TTL, s.CheckInterval)
}

// Stop stops the sweeper.
func (s *IntentSweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		log.Println("[Sweeper] Stopped")
	}
}

func (s *IntentSweeper) run() {
	defer s.wg.Done()

	// Run immediately on start
	s.sweep()

	for {
		select {
		case <-s.ticker.C:
			s.sweep()
		case <-s.stop:
			return
		}
	}
}

func (s *IntentSweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	expired, err := s.Gateway.ExpireStale(ctx, s.TTL)
	if err != nil {
		log.Printf("[Sweeper] Sweep failed: %v", err)
		return
	}
	if expired > 0 {
		intentsExpired.Add(float64(expired))
		log.Printf("[Sweeper] Expired %d stale payment intents", expired)
	}
}
