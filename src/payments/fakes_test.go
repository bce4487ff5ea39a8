package payments

import (
	"context"
	"fmt"
	"sync"

	"esm/src/lib/khalti"
)

type fakeGateway struct {
	mu          sync.Mutex
	seq         int
	initiated   []khalti.InitiateRequest
	initiateErr error
	statuses    map[string]string
	lookupErr   error
	lookups     int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{statuses: map[string]string{}}
}

func (g *fakeGateway) Initiate(ctx context.Context, req khalti.InitiateRequest) (*khalti.InitiateResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.initiated = append(g.initiated, req)
	if g.initiateErr != nil {
		return nil, g.initiateErr
	}
	g.seq++
	pidx := fmt.Sprintf("pidx%04dKhaltiTest", g.seq)
	url := "https://test-pay.khalti.com/?pidx=" + pidx
	raw := fmt.Sprintf(`{"pidx":%q,"payment_url":%q,"expires_in":1800}`, pidx, url)
	return &khalti.InitiateResponse{Pidx: pidx, PaymentURL: url, Raw: []byte(raw)}, nil
}

func (g *fakeGateway) Lookup(ctx context.Context, pidx string) (*khalti.LookupResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lookups++
	if g.lookupErr != nil {
		return nil, g.lookupErr
	}
	status, ok := g.statuses[pidx]
	if !ok {
		status = "Pending"
	}
	raw := fmt.Sprintf(`{"pidx":%q,"total_amount":50000,"status":%q,"transaction_id":"T-%s","fee":0,"refunded":false}`, pidx, status, pidx)
	return &khalti.LookupResponse{Pidx: pidx, Status: status, TransactionID: "T-" + pidx, Raw: []byte(raw)}, nil
}

func (g *fakeGateway) setStatus(pidx, status string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses[pidx] = status
}

func (g *fakeGateway) lookupCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lookups
}

type recordingAlerter struct {
	mu      sync.Mutex
	alerts  []string
	message []string
}

func (a *recordingAlerter) Alert(ctx context.Context, subject string, message string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, subject)
	a.message = append(a.message, message)
	return nil
}

func (a *recordingAlerter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.alerts)
}

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	events []PaymentEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, topic string, key string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	if ev, ok := payload.(PaymentEvent); ok {
		p.events = append(p.events, ev)
	}
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.topics)
}

type busyLocker struct{}

func (busyLocker) Acquire(ctx context.Context, key string) (func(context.Context) error, bool, error) {
	return nil, false, nil
}
