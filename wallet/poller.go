package wallet

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/unicitynetwork/token-wallet/internal/config"
	"github.com/unicitynetwork/token-wallet/oracle"
)

// pollingJob tracks one in-flight commitment awaiting an aggregator
// inclusion proof (§4.7).
type pollingJob struct {
	tokenID       string
	commitment    oracle.Commitment
	startedAt     time.Time
	attempts      int
	lastAttemptAt time.Time
	onProof       func(oracle.Proof)
}

// proofPoller is a single periodic-timer job queue that non-blockingly
// checks the aggregator for inclusion proofs of submitted commitments.
type proofPoller struct {
	mu      sync.Mutex
	jobs    map[string]*pollingJob
	cfg     config.Config
	oracle  oracle.Provider
	onGiveUp func(tokenID string)

	timer   *time.Timer
	stopped bool
}

func newProofPoller(cfg config.Config, o oracle.Provider, onGiveUp func(tokenID string)) *proofPoller {
	return &proofPoller{
		jobs:     make(map[string]*pollingJob),
		cfg:      cfg,
		oracle:   o,
		onGiveUp: onGiveUp,
	}
}

// Enqueue registers a commitment for polling. onProof is invoked exactly
// once, from the poller's own tick goroutine, when a proof is observed.
func (p *proofPoller) Enqueue(tokenID string, c oracle.Commitment, onProof func(oracle.Proof)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.jobs[tokenID] = &pollingJob{tokenID: tokenID, commitment: c, startedAt: time.Now(), onProof: onProof}
	if p.timer == nil {
		p.armLocked()
	}
}

// armLocked starts the single periodic timer. Caller must hold mu.
func (p *proofPoller) armLocked() {
	p.timer = time.AfterFunc(p.cfg.Poller.TickInterval, p.tick)
}

func (p *proofPoller) tick() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	jobs := make([]*pollingJob, 0, len(p.jobs))
	for _, j := range p.jobs {
		jobs = append(jobs, j)
	}
	p.mu.Unlock()

	for _, j := range jobs {
		p.checkOne(j)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	if len(p.jobs) == 0 {
		// Self-cancel when the job map empties (§4.7).
		p.timer = nil
		return
	}
	p.armLocked()
}

func (p *proofPoller) checkOne(j *pollingJob) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.Poller.QuickTimeout)
	defer cancel()

	proofCh := make(chan *oracle.Proof, 1)
	go func() {
		proof, err := p.oracle.GetProof(ctx, j.commitment.RequestIDHex)
		if err != nil {
			proofCh <- nil
			return
		}
		proofCh <- proof
	}()

	var proof *oracle.Proof
	select {
	case proof = <-proofCh:
	case <-ctx.Done():
	}

	j.attempts++
	j.lastAttemptAt = time.Now()

	if proof != nil {
		p.mu.Lock()
		delete(p.jobs, j.tokenID)
		p.mu.Unlock()
		j.onProof(*proof)
		return
	}

	if j.attempts >= p.cfg.Poller.MaxAttempts {
		log.WithField("token_id", j.tokenID).Warn("proof poller: giving up after max attempts")
		pollerGiveUpsTotal.Inc()
		p.mu.Lock()
		delete(p.jobs, j.tokenID)
		p.mu.Unlock()
		if p.onGiveUp != nil {
			p.onGiveUp(j.tokenID)
		}
	}
}

func (p *proofPoller) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.jobs = make(map[string]*pollingJob)
}

// onPollerInvalid marks a token invalid after the poller exhausts its
// attempts (§4.7, §7).
func (w *Wallet) onPollerInvalid(tokenID string) {
	w.repo.UpdateToken(tokenID, func(t *Token) {
		t.Status = StatusInvalid
	})
}
