// Package relt implements transport.Transport over github.com/jabolina/relt,
// the teacher's own reliable-broadcast library, grounded directly on
// core/transport.go's ReliableTransport: a relt.Relt instance, a buffered
// producer channel fed by a background poll loop, and JSON-over-the-wire
// encoding of the envelope.
package relt

import (
	"context"
	"encoding/json"

	"github.com/jabolina/relt/pkg/relt"

	"github.com/ridgeline-sim/netsync/pkg/netsync/definition"
	"github.com/ridgeline-sim/netsync/pkg/netsync/transport"
)

// Transport adapts a relt.Relt group into transport.Transport.
type Transport struct {
	log definition.Logger

	relt     *relt.Relt
	exchange relt.GroupAddress

	producer chan transport.Envelope

	ctx    context.Context
	cancel context.CancelFunc
}

// New joins the relt group named by exchange under local identity name and
// starts polling for inbound envelopes in the background via invoker.
func New(name, exchange string, invoker definition.Invoker, log definition.Logger) (*Transport, error) {
	if log == nil {
		log = definition.NewDefaultLogger()
	}
	if invoker == nil {
		invoker = definition.NewGoroutineInvoker()
	}

	conf := relt.DefaultReltConfiguration()
	conf.Name = name
	conf.Exchange = relt.GroupAddress(exchange)
	r, err := relt.NewRelt(*conf)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		log:      log,
		relt:     r,
		exchange: conf.Exchange,
		producer: make(chan transport.Envelope, 256),
		ctx:      ctx,
		cancel:   cancel,
	}
	invoker.Spawn(t.poll)
	return t, nil
}

// Send implements transport.Transport by broadcasting the JSON-encoded
// envelope to the relt group; relt itself fans it out to every member.
func (t *Transport) Send(env transport.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		t.log.Errorf("netsync/relt: failed marshalling envelope %s: %v", env.Kind, err)
		return err
	}
	return t.relt.Broadcast(t.ctx, relt.Send{Address: t.exchange, Data: data})
}

// Inbound implements transport.Transport.
func (t *Transport) Inbound() <-chan transport.Envelope {
	return t.producer
}

// Close implements transport.Transport.
func (t *Transport) Close() error {
	t.cancel()
	return t.relt.Close()
}

// poll drains relt's own consume channel, decoding each delivery into an
// Envelope and republishing it on producer. It runs until ctx is
// cancelled by Close.
func (t *Transport) poll() {
	listener, err := t.relt.Consume()
	if err != nil {
		t.log.Errorf("netsync/relt: failed starting consume loop: %v", err)
		return
	}
	for {
		select {
		case <-t.ctx.Done():
			return
		case recv, ok := <-listener:
			if !ok {
				return
			}
			t.consume(recv)
		}
	}
}

func (t *Transport) consume(recv relt.Recv) {
	if recv.Error != nil {
		t.log.Errorf("netsync/relt: delivery error: %v", recv.Error)
		return
	}
	if recv.Data == nil {
		return
	}
	var env transport.Envelope
	if err := json.Unmarshal(recv.Data, &env); err != nil {
		t.log.Errorf("netsync/relt: failed unmarshalling envelope: %v", err)
		return
	}
	select {
	case t.producer <- env:
	case <-t.ctx.Done():
	}
}
