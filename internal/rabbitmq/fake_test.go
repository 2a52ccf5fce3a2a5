package rabbitmq

import (
	"context"
	"errors"
	"io"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	mu         sync.Mutex
	calls      []string
	published  []published
	closeCh    chan *amqp.Error
	deliveries chan amqp.Delivery
	publishErr error
	declareErr error
	qos        int
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{deliveries: make(chan amqp.Delivery, 8)}
}

func (f *fakeChannel) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeChannel) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeChannel) Published() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.published...)
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (f *fakeChannel) QueueDeclare(name string, durable, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	f.record("queue_declare:" + name)
	if f.declareErr != nil {
		return amqp.Queue{}, f.declareErr
	}
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, _, _, _, _ bool, _ amqp.Table) error {
	f.record("exchange_declare:" + name + ":" + kind)
	return nil
}

func (f *fakeChannel) Qos(prefetchCount, _ int, _ bool) error {
	f.mu.Lock()
	f.qos = prefetchCount
	f.mu.Unlock()
	f.record("qos")
	return nil
}

func (f *fakeChannel) Consume(queue, _ string, autoAck, _, _, _ bool, _ amqp.Table) (<-chan amqp.Delivery, error) {
	if autoAck {
		return nil, errors.New("auto ack not allowed")
	}
	f.record("consume:" + queue)
	return f.deliveries, nil
}

func (f *fakeChannel) NotifyClose(c chan *amqp.Error) chan *amqp.Error {
	f.mu.Lock()
	f.closeCh = c
	f.mu.Unlock()
	return c
}

// drop simulates the broker closing the channel.
func (f *fakeChannel) drop() {
	f.mu.Lock()
	c := f.closeCh
	f.mu.Unlock()
	if c != nil {
		c <- &amqp.Error{Code: 320, Reason: "CONNECTION_FORCED"}
	}
}

func (f *fakeChannel) Close() error { return nil }

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// fakeDialer hands out the queued channels in order, failing while the
// queue is empty.
type fakeDialer struct {
	mu       sync.Mutex
	channels []*fakeChannel
	dials    int
}

func (d *fakeDialer) Dial(string) (Channel, io.Closer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.channels) == 0 {
		return nil, nil, errors.New("connection refused")
	}
	ch := d.channels[0]
	d.channels = d.channels[1:]
	return ch, nopCloser{}, nil
}

func (d *fakeDialer) push(ch *fakeChannel) {
	d.mu.Lock()
	d.channels = append(d.channels, ch)
	d.mu.Unlock()
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}
