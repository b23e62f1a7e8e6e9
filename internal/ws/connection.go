package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"miyav/internal/models"
	"sync"
)

const outboundBuffer = 64

type wsConnection interface {
	Close() error
	WriteJSON(v any) error
	ReadMessage() (messageType int, p []byte, err error)
}

type messageHub interface {
	Dispatch(c client, msg models.ClientMessage)
	Unregister(c client)
}

// Connection is one authenticated websocket. It implements registry.Handle.
type Connection struct {
	ws         wsConnection
	hub        messageHub
	session    models.UserSummary
	fromClient chan models.ClientMessage
	fromServer chan models.ServerMessage
	errorCh    chan error
	done       chan struct{}
	closeOnce  sync.Once
}

func NewConnection(
	hub messageHub,
	ws wsConnection,
	session models.UserSummary,
) *Connection {
	return &Connection{
		ws:         ws,
		hub:        hub,
		session:    session,
		fromClient: make(chan models.ClientMessage),
		fromServer: make(chan models.ServerMessage, outboundBuffer),
		errorCh:    make(chan error, 2),
		done:       make(chan struct{}),
	}
}

func (c *Connection) Session() models.UserSummary {
	return c.session
}

// Send queues msg without blocking. Frames are dropped when the buffer is full
// or the connection is closed.
func (c *Connection) Send(msg models.ServerMessage) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.fromServer <- msg:
		return true
	default:
		return false
	}
}

// Close stops the connection loops. It is safe to call more than once.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

func (c *Connection) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		_ = c.Close()
		c.hub.Unregister(c)
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- c.pumpMessages(ctx)
		cancel()
	})

	wg.Go(func() {
		c.errorCh <- c.mainLoop(ctx)
		cancel()
	})

	var err error
	select {
	case err = <-c.errorCh:
	case <-ctx.Done():
	}
	cancel()
	_ = c.ws.Close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func (c *Connection) pumpMessages(ctx context.Context) error {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return err
		}

		var msg models.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.Send(models.ErrorMessage(models.ServerMessageTypeError, "malformed message"))
			continue
		}

		select {
		case c.fromClient <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connection) mainLoop(ctx context.Context) error {
	for {
		select {
		case msg := <-c.fromClient:
			c.processClientMessage(msg)
		case msg := <-c.fromServer:
			if err := c.ws.WriteJSON(msg); err != nil {
				return err
			}
		case <-c.done:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Connection) processClientMessage(msg models.ClientMessage) {
	if err := msg.Validate(); err != nil {
		slog.Debug("rejected client message", "user_id", c.session.ID, "error", err)
		c.Send(models.ErrorMessage(models.ServerMessageTypeError, err.Error()))
		return
	}
	c.hub.Dispatch(c, msg)
}
