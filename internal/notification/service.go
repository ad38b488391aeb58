package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/recoverguard/platform/internal/alert"
	"github.com/recoverguard/platform/internal/detection"
	"github.com/recoverguard/platform/internal/patient"
	"github.com/recoverguard/platform/internal/shared/config"
	"github.com/recoverguard/platform/internal/shared/metrics"
	"github.com/recoverguard/platform/internal/shared/types"
)

// Channel is the delivery route for a dispatch
type Channel string

const (
	ChannelNurseQueue    Channel = "nurse_queue"
	ChannelPhysicianPage Channel = "physician_page"
)

// Status of a dispatch attempt
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Dispatch is one outbound care-team notification for a surfaced alert
type Dispatch struct {
	ID          types.ID  `json:"id"`
	AlertID     types.ID  `json:"alert_id"`
	PatientID   types.ID  `json:"patient_id"`
	PatientName string    `json:"patient_name"`
	Channel     Channel   `json:"channel"`
	Severity    string    `json:"severity"`
	Message     string    `json:"message"`
	Status      Status    `json:"status"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
}

// Provider delivers a dispatch over one channel
type Provider interface {
	Send(ctx context.Context, d *Dispatch) error
}

// Service fans surfaced alerts out to the care team over a small worker
// pool. Delivery is best-effort: the alert repositories, not this service,
// are the source of truth.
type Service struct {
	providers map[Channel]Provider

	mu      sync.RWMutex
	history []*Dispatch

	ch      chan *Dispatch
	workers int
	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func NewService(providers map[Channel]Provider, cfg config.NotifyConfig) *Service {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	buffer := cfg.BufferSize
	if buffer <= 0 {
		buffer = 64
	}
	return &Service{
		providers: providers,
		ch:        make(chan *Dispatch, buffer),
		workers:   workers,
		stopCh:    make(chan struct{}),
	}
}

// Start launches the delivery workers
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("notification service already started")
	}
	s.started = true
	s.mu.Unlock()

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}
	return nil
}

// Stop drains the workers
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
}

// Notify implements alert.Notifier: it routes the recommended action to the
// matching channel. Monitor and dismiss need no outbound delivery.
func (s *Service) Notify(ctx context.Context, a *alert.Alert, p *patient.Patient) {
	var channel Channel
	switch a.RecommendedAction {
	case detection.ActionNurseCall:
		channel = ChannelNurseQueue
	case detection.ActionPhysicianEscalate:
		channel = ChannelPhysicianPage
	case detection.ActionMonitor, detection.ActionDismiss:
		return
	default:
		return
	}

	d := &Dispatch{
		ID:          types.NewID(),
		AlertID:     a.ID,
		PatientID:   p.ID,
		PatientName: p.Name,
		Channel:     channel,
		Severity:    string(a.Severity),
		Message: fmt.Sprintf("%s alert for %s: %s",
			a.Severity, p.Name, a.Reason),
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.history = append(s.history, d)
	s.mu.Unlock()

	select {
	case s.ch <- d:
	default:
		// buffer full; the alert is already persisted and visible in the queue
		s.fail(d, "notification buffer full")
	}
}

func (s *Service) worker(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case d := <-s.ch:
			s.deliver(ctx, d)
		}
	}
}

func (s *Service) deliver(ctx context.Context, d *Dispatch) {
	provider, ok := s.providers[d.Channel]
	if !ok {
		s.fail(d, fmt.Sprintf("no provider for channel %s", d.Channel))
		return
	}

	if err := provider.Send(ctx, d); err != nil {
		s.fail(d, err.Error())
		return
	}

	s.mu.Lock()
	now := time.Now().UTC()
	d.Status = StatusSent
	d.SentAt = &now
	s.mu.Unlock()
	metrics.RecordNotification(string(d.Channel), string(StatusSent))
}

func (s *Service) fail(d *Dispatch, reason string) {
	s.mu.Lock()
	d.Status = StatusFailed
	d.Error = reason
	s.mu.Unlock()
	metrics.RecordNotification(string(d.Channel), string(StatusFailed))
}

// History returns a snapshot of all dispatches, newest last
func (s *Service) History() []Dispatch {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Dispatch, len(s.history))
	for i, d := range s.history {
		out[i] = *d
	}
	return out
}

// LogProvider records deliveries in memory. Stands in for the pager and
// work-queue integrations in development.
type LogProvider struct {
	mu   sync.Mutex
	sent []Dispatch
}

func NewLogProvider() *LogProvider {
	return &LogProvider{}
}

func (p *LogProvider) Send(_ context.Context, d *Dispatch) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, *d)
	return nil
}

// Sent returns the dispatches delivered so far
func (p *LogProvider) Sent() []Dispatch {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Dispatch, len(p.sent))
	copy(out, p.sent)
	return out
}
