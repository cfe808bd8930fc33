package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mqxerror/qa-guardian-sub011/internal/models"
	"github.com/mqxerror/qa-guardian-sub011/pkg/utils"
)

// Payload kinds
const (
	PayloadAlert      = "alert"
	PayloadSummary    = "summary"
	PayloadEscalation = "escalation"
	PayloadTest       = "test"
)

// Payload is the channel-independent notification content
type Payload struct {
	Kind      string                 `json:"kind"`
	OrgID     string                 `json:"org_id"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Severity  models.Severity        `json:"severity,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// Notifier defines the notification dispatch interface. Dispatch never
// throws into the pipeline: enqueue failures are reported through stats
// and logs only.
type Notifier interface {
	// Lifecycle management
	Start(ctx context.Context) error
	Stop() error
	IsHealthy() bool

	// Dispatch
	Enqueue(dest models.Destination, payload *Payload) bool
	Send(ctx context.Context, dest models.Destination, payload *Payload) error

	// Statistics
	GetStats() *DispatchStats
}

// DispatcherConfig holds dispatcher configuration
type DispatcherConfig struct {
	Workers       int                `json:"workers"`
	QueueSize     int                `json:"queue_size"`
	SendTimeout   time.Duration      `json:"send_timeout"`
	RetryAttempts int                `json:"retry_attempts"`
	RetryDelay    time.Duration      `json:"retry_delay"`
	Email         *EmailSenderConfig `json:"email,omitempty"`
}

// DispatchStats provides dispatcher statistics
type DispatchStats struct {
	TotalDispatched uint64            `json:"total_dispatched"`
	TotalFailed     uint64            `json:"total_failed"`
	TotalDropped    uint64            `json:"total_dropped"`
	ByType          map[string]uint64 `json:"by_type"`
	QueueLength     int               `json:"queue_length"`
	LastError       *string           `json:"last_error,omitempty"`
	LastErrorTime   *time.Time        `json:"last_error_time,omitempty"`
}

type dispatchJob struct {
	dest    models.Destination
	payload *Payload
}

// Dispatcher implements Notifier with a buffered queue and worker
// goroutines so a slow destination cannot stall the rule-evaluation
// path.
type Dispatcher struct {
	config *DispatcherConfig
	logger *logrus.Entry

	mu      sync.RWMutex
	running bool
	stats   *DispatchStats

	queue    chan dispatchJob
	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup

	// Senders
	webhookSender *WebhookSender
	emailSender   *EmailSender
}

// NewDispatcher creates a new notification dispatcher
func NewDispatcher(config *DispatcherConfig) *Dispatcher {
	if config.Workers <= 0 {
		config.Workers = 2
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 100
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = 30 * time.Second
	}

	d := &Dispatcher{
		config:   config,
		logger:   utils.ComponentLogger("dispatcher"),
		stats:    &DispatchStats{ByType: make(map[string]uint64)},
		queue:    make(chan dispatchJob, config.QueueSize),
		stopChan: make(chan struct{}),
	}

	d.webhookSender = NewWebhookSender(config)
	d.emailSender = NewEmailSender(config)

	return d
}

// Start starts the dispatch workers
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return utils.NewAppError(utils.ErrCodeInternal, "Dispatcher already running", "")
	}
	d.running = true

	for i := 0; i < d.config.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}

	d.logger.WithFields(logrus.Fields{
		"workers":    d.config.Workers,
		"queue_size": d.config.QueueSize,
	}).Info("Notification dispatcher started")
	return nil
}

// Stop drains outstanding work and stops the workers
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.mu.Unlock()

	d.stopOnce.Do(func() {
		close(d.stopChan)
	})
	d.wg.Wait()

	d.logger.Info("Notification dispatcher stopped")
	return nil
}

// IsHealthy returns whether the dispatcher is running
func (d *Dispatcher) IsHealthy() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.running
}

// Enqueue hands a notification off asynchronously. A full queue drops
// the notification; the drop is counted and logged, never propagated.
func (d *Dispatcher) Enqueue(dest models.Destination, payload *Payload) bool {
	select {
	case d.queue <- dispatchJob{dest: dest, payload: payload}:
		return true
	default:
		d.mu.Lock()
		d.stats.TotalDropped++
		d.mu.Unlock()
		d.logger.WithFields(logrus.Fields{
			"destination": dest.Type,
			"org_id":      payload.OrgID,
		}).Warn("Notification queue full, dropping notification")
		return false
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case job := <-d.queue:
			ctx, cancel := context.WithTimeout(context.Background(), d.config.SendTimeout)
			err := d.Send(ctx, job.dest, job.payload)
			cancel()
			if err != nil {
				d.logger.WithError(err).WithFields(logrus.Fields{
					"destination": job.dest.Type,
					"org_id":      job.payload.OrgID,
				}).Error("Notification dispatch failed")
			}
		case <-d.stopChan:
			// Drain whatever is already queued before exiting.
			for {
				select {
				case job := <-d.queue:
					ctx, cancel := context.WithTimeout(context.Background(), d.config.SendTimeout)
					if err := d.Send(ctx, job.dest, job.payload); err != nil {
						d.logger.WithError(err).Warn("Notification dispatch failed during drain")
					}
					cancel()
				default:
					return
				}
			}
		}
	}
}

// Send delivers one notification synchronously
func (d *Dispatcher) Send(ctx context.Context, dest models.Destination, payload *Payload) error {
	var err error
	switch dest.Type {
	case models.DestinationLog:
		d.logger.WithFields(logrus.Fields{
			"org_id":   payload.OrgID,
			"kind":     payload.Kind,
			"title":    payload.Title,
			"severity": payload.Severity,
		}).Info(payload.Message)
	case models.DestinationEmail:
		err = d.emailSender.Send(ctx, dest.Email, payload)
	case models.DestinationOnCall:
		// On-call destinations are resolved to a concrete member by the
		// engine before dispatch; one arriving here is a config error.
		err = utils.NewAppError(utils.ErrCodeConfiguration,
			"Unresolved on-call destination", dest.OnCall.ScheduleID)
	default:
		var req *WebhookRequest
		req, err = BuildWebhookRequest(dest, payload)
		if err == nil {
			err = d.webhookSender.Send(ctx, req)
		}
	}

	d.recordResult(dest, err)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDispatch,
			fmt.Sprintf("Failed to dispatch %s notification", dest.Type), err.Error())
	}
	return nil
}

func (d *Dispatcher) recordResult(dest models.Destination, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stats.TotalDispatched++
	d.stats.ByType[string(dest.Type)]++
	if err != nil {
		d.stats.TotalFailed++
		errStr := err.Error()
		d.stats.LastError = &errStr
		now := time.Now()
		d.stats.LastErrorTime = &now
	}
}

// GetStats returns dispatcher statistics
func (d *Dispatcher) GetStats() *DispatchStats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	stats := &DispatchStats{
		TotalDispatched: d.stats.TotalDispatched,
		TotalFailed:     d.stats.TotalFailed,
		TotalDropped:    d.stats.TotalDropped,
		ByType:          make(map[string]uint64, len(d.stats.ByType)),
		QueueLength:     len(d.queue),
		LastError:       d.stats.LastError,
		LastErrorTime:   d.stats.LastErrorTime,
	}
	for k, v := range d.stats.ByType {
		stats.ByType[k] = v
	}
	return stats
}
