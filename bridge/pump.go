//  pump.go
//  ZoneClient Bridge
//
//  Copyright (c) 2025 Relative Companies, Inc.
//  Personal, non-commercial use only.
//
//  A channel-backed conduit between the session and the host listener. It is
//  the session's UI executor: every listener and intent callback runs on the
//  pump goroutine, one at a time and in order.

package bridge

import (
	"go.uber.org/zap"

	"github.com/relativeprotocol/zoneclient/log"
)

const pumpDepth = 1024

type eventPump struct {
	tasks  chan func()
	closed chan struct{}
	done   chan struct{}
}

func newEventPump() *eventPump {
	p := &eventPump{
		tasks:  make(chan func(), pumpDepth),
		closed: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

// Post queues task for the host goroutine. It blocks while the queue is
// full and drops the task once the pump is closed.
func (p *eventPump) Post(task func()) {
	select {
	case <-p.closed:
		return
	default:
	}
	select {
	case <-p.closed:
	case p.tasks <- task:
	}
}

func (p *eventPump) run() {
	defer close(p.done)
	for {
		select {
		case task := <-p.tasks:
			p.invoke(task)
		case <-p.closed:
			// Deliver what was queued before Close.
			for {
				select {
				case task := <-p.tasks:
					p.invoke(task)
				default:
					return
				}
			}
		}
	}
}

func (p *eventPump) invoke(task func()) {
	defer func() {
		if r := recover(); r != nil {
			log.L().Error("host callback panicked", zap.Any("panic", r))
		}
	}()
	task()
}

// Close stops the pump after the queued tasks ran.
func (p *eventPump) Close() {
	select {
	case <-p.closed:
	default:
		close(p.closed)
	}
	<-p.done
}

// Done is closed once the pump goroutine exited.
func (p *eventPump) Done() <-chan struct{} {
	return p.done
}
