// Package actor provides the FIFO single-writer mailbox primitive every
// component (block store manager, contract processor, protocol observer,
// supervisor) is built on: one buffered channel, one consumer goroutine, so
// a component's state is touched by exactly one goroutine at a time while
// distinct components still run concurrently with each other.
package actor

import "sync"

// Mailbox drains messages of type M through handler, one at a time, in
// send order. It is the realization of the "single-writer-per-actor,
// multi-actor" scheduling model: parallel across Mailboxes, sequential
// within one.
type Mailbox[M any] struct {
	handler func(M)
	ch      chan M
	done    chan struct{}
	once    sync.Once
}

// NewMailbox starts a new mailbox backed by a channel of the given buffer
// size, with handler invoked for every enqueued message on a dedicated
// goroutine.
func NewMailbox[M any](bufSize int, handler func(M)) *Mailbox[M] {
	m := &Mailbox[M]{
		handler: handler,
		ch:      make(chan M, bufSize),
		done:    make(chan struct{}),
	}
	go m.run()
	return m
}

func (m *Mailbox[M]) run() {
	defer close(m.done)
	for msg := range m.ch {
		m.handler(msg)
	}
}

// Tell enqueues a message for asynchronous processing.
func (m *Mailbox[M]) Tell(msg M) {
	m.ch <- msg
}

// Stop closes the mailbox and blocks until every already-enqueued message
// has been handled and the consumer goroutine has exited.
func (m *Mailbox[M]) Stop() {
	m.once.Do(func() { close(m.ch) })
	<-m.done
}

// Request pairs a request payload with a reply channel, modeling the
// request/reply-channel pattern the query interface uses: a caller sends a
// Request into a mailbox and blocks on Reply for the single response
// message.
type Request[Req any, Resp any] struct {
	Payload Req
	Reply   chan Resp
}

// NewRequest builds a Request wrapping payload, with a reply channel of
// capacity 1 so the responding actor never blocks trying to send a reply
// nobody is still waiting for.
func NewRequest[Req any, Resp any](payload Req) Request[Req, Resp] {
	return Request[Req, Resp]{Payload: payload, Reply: make(chan Resp, 1)}
}
