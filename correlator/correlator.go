//  correlator.go
//  ZoneClient Core
//
//  Copyright (c) 2025 Relative Companies, Inc.
//  Personal, non-commercial use only.
//
//  Matches responses to the commands that caused them. Every command's
//  callback fires exactly once: with its response, a timeout, a send failure
//  or the loss of the connection.

package correlator

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/relativeprotocol/zoneclient/log"
	"github.com/relativeprotocol/zoneclient/model"
	"github.com/relativeprotocol/zoneclient/notify"
	"github.com/relativeprotocol/zoneclient/protocol"
)

var (
	// ErrConnectionLost fails commands still pending when the connection
	// drops.
	ErrConnectionLost = errors.New("connection lost before response")
	// ErrTimeout fails commands that were not answered in time.
	ErrTimeout = errors.New("command timed out")
)

// DefaultTimeout bounds the wait for a response.
const DefaultTimeout = 30 * time.Second

// Callback receives the outcome of a command. Exactly one of body and err is
// set. A server rejection is a *protocol.CommandError.
type Callback func(body protocol.ResponseBody, err error)

// Sender writes encoded frames.
type Sender interface {
	Send(frame []byte) error
}

type pending struct {
	kind  protocol.Kind
	cb    Callback
	timer *time.Timer
}

// Correlator tracks outstanding commands. It is not safe for concurrent use:
// every method must run on exec, the executor that also receives timeouts.
type Correlator struct {
	sender  Sender
	exec    notify.Executor
	timeout time.Duration
	logger  *zap.Logger

	nextID  int64
	pending map[int64]*pending
}

// New returns a correlator writing to sender. A non-positive timeout selects
// DefaultTimeout.
func New(sender Sender, exec notify.Executor, timeout time.Duration, logger *zap.Logger) *Correlator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Correlator{
		sender:  sender,
		exec:    exec,
		timeout: timeout,
		logger:  log.Or(logger).Named("correlator"),
		pending: make(map[int64]*pending),
	}
}

// Pending reports the number of commands awaiting a response.
func (c *Correlator) Pending() int {
	return len(c.pending)
}

// Send validates and sends cmd, returning its correlation id, or zero when
// the command failed before it was sent. cb is never invoked synchronously.
func (c *Correlator) Send(zoneID model.ZoneID, cmd protocol.Command, cb Callback) int64 {
	if cb == nil {
		cb = func(protocol.ResponseBody, error) {}
	}
	if err := protocol.Validate(cmd); err != nil {
		c.exec.Post(func() { cb(nil, err) })
		return 0
	}

	c.nextID++
	id := c.nextID
	frame, err := protocol.EncodeCommand(id, zoneID, cmd)
	if err != nil {
		c.exec.Post(func() { cb(nil, err) })
		return 0
	}

	p := &pending{kind: cmd.Kind(), cb: cb}
	c.pending[id] = p
	p.timer = time.AfterFunc(c.timeout, func() {
		c.exec.Post(func() { c.expire(id, p) })
	})

	if err := c.sender.Send(frame); err != nil {
		delete(c.pending, id)
		p.timer.Stop()
		err = fmt.Errorf("send %s: %w", cmd.Kind(), err)
		c.exec.Post(func() { cb(nil, err) })
		return 0
	}
	c.logger.Debug("command sent", zap.Int64("correlation_id", id), zap.String("kind", string(cmd.Kind())))
	return id
}

func (c *Correlator) expire(id int64, p *pending) {
	if c.pending[id] != p {
		return
	}
	delete(c.pending, id)
	c.logger.Warn("command timed out", zap.Int64("correlation_id", id), zap.String("kind", string(p.kind)))
	p.cb(nil, fmt.Errorf("%s: %w", p.kind, ErrTimeout))
}

// HandleResponse resolves the command with the response's correlation id.
// Responses for unknown ids are dropped. A response whose kind does not match
// its command fails that command and is returned as a *protocol.ProtocolError.
func (c *Correlator) HandleResponse(resp protocol.Response) error {
	p, ok := c.pending[resp.CorrelationID]
	if !ok {
		c.logger.Info("dropping response with unknown correlation id",
			zap.Int64("correlation_id", resp.CorrelationID),
			zap.String("kind", string(resp.Kind)))
		return nil
	}
	delete(c.pending, resp.CorrelationID)
	p.timer.Stop()

	if resp.Kind != p.kind {
		err := protocol.Violation("response kind %s does not match command %s", resp.Kind, p.kind)
		p.cb(nil, err)
		return err
	}
	if resp.Err != nil {
		p.cb(nil, resp.Err)
		return nil
	}
	if resp.Body == nil {
		err := protocol.Violation("empty %s response", resp.Kind)
		p.cb(nil, err)
		return err
	}
	p.cb(resp.Body, nil)
	return nil
}

// Reset fails every pending command with ErrConnectionLost, in the order they
// were sent, and restarts correlation ids for the next connection.
func (c *Correlator) Reset() {
	ids := make([]int64, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	outstanding := c.pending
	c.pending = make(map[int64]*pending)
	c.nextID = 0

	for _, id := range ids {
		p := outstanding[id]
		p.timer.Stop()
		p.cb(nil, fmt.Errorf("%s: %w", p.kind, ErrConnectionLost))
	}
}
