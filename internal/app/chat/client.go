package chat

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"ykchat/internal/app/user"
	"ykchat/internal/pkg/errs"
	"ykchat/internal/pkg/logx"
)

const (
	// timeout duration for writing to the WebSocket connection.
	writeWait = 10 * time.Second

	// maximum time allowed for the server to wait for a Pong message from the client.
	pongWait = 60 * time.Second

	// frequency at which the server sends a Ping message.
	pingPeriod = (pongWait * 9) / 10

	// frameOverhead is the room left in a frame beyond a base64 image payload.
	frameOverhead = 16 << 10

	// sendTimeout bounds one inbound send, upload included.
	sendTimeout = 30 * time.Second
)

// FrameType tags WebSocket frames in both directions.
type FrameType string

const (
	// FrameSnapshot carries the full RoomState after every change.
	FrameSnapshot FrameType = "snapshot"

	// FrameError carries a failure the client should surface.
	FrameError FrameType = "error"

	// FrameText asks the server to send a text message to the current room.
	FrameText FrameType = "text"

	// FrameImage asks the server to send an image message to the current room.
	FrameImage FrameType = "image"

	// FrameSwitch moves the connection to another room; an empty room id unsubscribes.
	FrameSwitch FrameType = "switch"
)

// InboundFrame is a frame received from the client.
type InboundFrame struct {
	Type    FrameType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// OutboundFrame is a frame sent to the client.
type OutboundFrame struct {
	Type    FrameType `json:"type"`
	Payload any       `json:"payload,omitempty"`
}

// SenderFields are optional sender overrides for unauthenticated clients.
type SenderFields struct {
	SenderID   string `json:"senderId,omitempty"`
	SenderName string `json:"senderName,omitempty"`
}

// TextPayload is the payload of FrameText.
type TextPayload struct {
	Text string `json:"text"`
	SenderFields
}

// ImagePayload is the payload of FrameImage. Data is base64 in JSON.
type ImagePayload struct {
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
	Data        []byte `json:"data"`
	SenderFields
}

// SwitchPayload is the payload of FrameSwitch.
type SwitchPayload struct {
	RoomID string `json:"roomId"`
}

// ErrorPayload is the payload of FrameError.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Client connects one WebSocket to one Session: session updates go out as
// snapshot frames and inbound frames become session operations.
type Client struct {
	session *Session
	conn    *websocket.Conn

	// sender is the default identity for messages from this connection.
	sender user.User

	// verified is set when sender comes from an identity token and must not be overridden.
	verified bool

	// a buffered channel used to queue frames waiting to be sent to the client.
	send chan []byte

	// stop tells WritePump to send a close frame and exit.
	stop     chan struct{}
	stopOnce sync.Once

	// done is closed when WritePump has exited.
	done chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	logger zerolog.Logger
}

// NewClient binds conn to session. verified marks sender as coming from an identity token.
func NewClient(session *Session, conn *websocket.Conn, sender user.User, verified bool) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		session:  session,
		conn:     conn,
		sender:   sender,
		verified: verified,
		send:     make(chan []byte, 64),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		logger: logx.Logger().With().
			Str("session_id", session.ID).
			Str("client_id", sender.ID).
			Logger(),
	}
}

// Run starts the write side and the snapshot forwarder, then reads until the
// connection ends. The session is closed on return.
func (c *Client) Run() {
	go c.WritePump()
	go c.forwardUpdates()

	c.ReadPump()
}

// ReadPump reads inbound frames until the connection fails or closes.
func (c *Client) ReadPump() {
	defer c.cleanupOnDisconnect()

	c.conn.SetReadLimit(c.session.opts.maxImageSize*4/3 + frameOverhead)

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frameBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info().Err(err).Msg("Error reading frame (client close/going away)")
			}
			break
		}

		c.processInboundFrame(frameBytes)
	}
}

// cleanupOnDisconnect closes the session, which in turn stops WritePump.
func (c *Client) cleanupOnDisconnect() {
	c.logger.Info().Msg("Client connection cleanup starting.")

	c.cancel()
	c.session.Close()

	if err := c.conn.Close(); err != nil {
		c.logger.Debug().Err(err).Msg("Client connection close error")
	}
}

func (c *Client) processInboundFrame(frameBytes []byte) {
	var frame InboundFrame
	if err := json.Unmarshal(frameBytes, &frame); err != nil {
		c.logger.Warn().Err(err).Int("frame_size", len(frameBytes)).Msg("Client sent invalid JSON")
		c.SendError(errs.NewError(errs.ErrInvalidJSONFormat))
		return
	}

	switch frame.Type {
	case FrameText:
		c.handleText(frame.Payload)

	case FrameImage:
		c.handleImage(frame.Payload)

	case FrameSwitch:
		c.handleSwitch(frame.Payload)

	default:
		c.logger.Warn().Str("frame_type", string(frame.Type)).Msg("Client sent unsupported frame type")
		c.SendError(errs.NewError(errs.ErrInvalidParams))
	}
}

// handleText sends to the currently subscribed room. Failures reach the client
// through the next snapshot, since text send errors live in RoomState only.
func (c *Client) handleText(payloadBytes json.RawMessage) {
	var payload TextPayload
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		c.logger.Warn().Err(err).Msg("Client sent invalid text payload")
		c.SendError(errs.NewError(errs.ErrInvalidParams))
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, sendTimeout)
	defer cancel()

	c.session.SendMessage(ctx, c.session.State().RoomID, payload.Text, c.resolveSender(payload.SenderFields))
}

func (c *Client) handleImage(payloadBytes json.RawMessage) {
	var payload ImagePayload
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		c.logger.Warn().Err(err).Msg("Client sent invalid image payload")
		c.SendError(errs.NewError(errs.ErrInvalidParams))
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, sendTimeout)
	defer cancel()

	img := Image{
		FileName:    payload.FileName,
		ContentType: payload.ContentType,
		Data:        payload.Data,
	}

	if cerr := c.session.SendImage(ctx, c.session.State().RoomID, img, c.resolveSender(payload.SenderFields)); cerr != nil {
		c.SendError(cerr)
	}
}

func (c *Client) handleSwitch(payloadBytes json.RawMessage) {
	var payload SwitchPayload
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		c.logger.Warn().Err(err).Msg("Client sent invalid switch payload")
		c.SendError(errs.NewError(errs.ErrInvalidParams))
		return
	}

	if cerr := c.session.Subscribe(payload.RoomID); cerr != nil {
		c.SendError(cerr)
		return
	}

	c.logger.Info().Str("room_id", payload.RoomID).Msg("Client switched room.")
}

// resolveSender applies per-frame sender fields unless the identity was verified.
func (c *Client) resolveSender(fields SenderFields) user.User {
	if c.verified {
		return c.sender
	}

	id, name := c.sender.ID, c.sender.Name
	if fields.SenderID != "" {
		id = fields.SenderID
	}
	if fields.SenderName != "" {
		name = fields.SenderName
	}

	return user.New(id, name)
}

// forwardUpdates turns session updates into snapshot frames until the session closes.
func (c *Client) forwardUpdates() {
	defer c.stopOnce.Do(func() { close(c.stop) })

	for range c.session.Updates() {
		frame, err := json.Marshal(OutboundFrame{Type: FrameSnapshot, Payload: c.session.State()})
		if err != nil {
			c.logger.Error().Err(err).Msg("Error marshaling snapshot frame")
			continue
		}

		select {
		case c.send <- frame:
		case <-c.done:
			return
		}
	}
}

// WritePump writes queued frames and pings until stopped or a write fails.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		close(c.done)

		// ensure the connection is closed on exit
		if err := c.conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Client connection close error in WritePump")
		}
	}()

	for {
		select {
		case frame := <-c.send:
			if !c.writeFrame(websocket.TextMessage, frame) {
				return
			}

		case <-c.stop:
			c.writeFrame(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-ticker.C:
			if !c.writeFrame(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

// writeFrame reports whether WritePump should continue.
func (c *Client) writeFrame(messageType int, data []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline")
		return false
	}

	if err := c.conn.WriteMessage(messageType, data); err != nil {
		c.logger.Debug().Err(err).Int("message_type", messageType).Msg("Error writing frame")
		return false
	}

	return true
}

// SendError queues an error frame for err.
func (c *Client) SendError(err *errs.CustomError) {
	frame, marshalErr := json.Marshal(OutboundFrame{
		Type:    FrameError,
		Payload: ErrorPayload{Code: err.Code, Message: err.Message},
	})
	if marshalErr != nil {
		c.logger.Error().Err(marshalErr).Msg("Error marshaling error frame")
		return
	}

	select {
	case c.send <- frame:
	case <-c.done:
	default:
		c.logger.Warn().Int("queue_len", len(c.send)).Msg("Client send channel full, dropping error frame")
	}
}
