package notify

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// PresenterMetrics decouples the NATS presenter from the metrics package.
type PresenterMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	NATSSetConnected(connected bool)
}

// NATSPresenter presents notifications as NATS messages: Show publishes on
// reminders.notify.<id>, Withdraw on reminders.withdraw.<id>. A subscription
// on reminders.dismiss.<id> carries the user's dismissal back to the alert's
// dismiss action.
type NATSPresenter struct {
	nc          *nats.Conn
	logSubjects bool
	metrics     PresenterMetrics

	mu   sync.Mutex
	subs map[int64]*nats.Subscription
}

func NewNATSPresenter(url string, logSubjects bool, m PresenterMetrics) (*NATSPresenter, error) {
	nc, err := nats.Connect(url,
		nats.Name("trip-reminders"),
		nats.DisconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			log.Printf("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return &NATSPresenter{nc: nc, logSubjects: logSubjects, metrics: m, subs: make(map[int64]*nats.Subscription)}, nil
}

// Conn exposes the underlying connection so the host can attach additional
// subscriptions (e.g. the reminder-creation intake).
func (p *NATSPresenter) Conn() *nats.Conn { return p.nc }

func (p *NATSPresenter) Close() {
	p.mu.Lock()
	for id, sub := range p.subs {
		_ = sub.Unsubscribe()
		delete(p.subs, id)
	}
	p.mu.Unlock()
	if p.nc != nil {
		p.nc.Drain()
		p.nc.Close()
	}
}

type NotificationMessage struct {
	AlertID   int64     `json:"alertId"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

func (p *NATSPresenter) Show(alertID int64, text string, dismiss func()) error {
	subject := fmt.Sprintf("reminders.notify.%d", alertID)
	b, err := json.Marshal(NotificationMessage{AlertID: alertID, Text: text, Timestamp: time.Now()})
	if err != nil {
		return err
	}
	if p.logSubjects {
		log.Printf("nats publish subject=%s", subject)
	}

	// One dismiss subscription per visible alert id.
	p.mu.Lock()
	if _, ok := p.subs[alertID]; !ok {
		sub, serr := p.nc.Subscribe(fmt.Sprintf("reminders.dismiss.%d", alertID), func(_ *nats.Msg) {
			dismiss()
		})
		if serr != nil {
			p.mu.Unlock()
			return serr
		}
		p.subs[alertID] = sub
	}
	p.mu.Unlock()

	err = p.nc.Publish(subject, b)
	if p.metrics != nil {
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	return err
}

func (p *NATSPresenter) Withdraw(alertID int64) error {
	p.mu.Lock()
	if sub, ok := p.subs[alertID]; ok {
		_ = sub.Unsubscribe()
		delete(p.subs, alertID)
	}
	p.mu.Unlock()

	subject := fmt.Sprintf("reminders.withdraw.%d", alertID)
	if p.logSubjects {
		log.Printf("nats publish subject=%s", subject)
	}
	err := p.nc.Publish(subject, nil)
	if p.metrics != nil {
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	return err
}
