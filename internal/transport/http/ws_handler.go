package http

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"exam-room-service/internal/app"
	"exam-room-service/internal/broadcast"
	"exam-room-service/internal/domain"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 32
)

// Client request types.
const (
	msgJoinRoom        = "join-room"
	msgRejoin          = "rejoin"
	msgParticipantInfo = "get-participant-status"
	msgSubmitAnswer    = "submit-answer"
	msgSyncStatus      = "sync-status"
	msgJoinManager     = "join-room-manager"
	msgExtendRoomTime  = "extend-room-time"
	msgCloseRoom       = "close-room"
)

type WSHandler struct {
	rooms       *app.RoomService
	sessions    *app.SessionService
	submissions *app.SubmissionService
	hub         *broadcast.Hub
	upgrader    websocket.Upgrader
	logger      *log.Logger
}

func NewWSHandler(rooms *app.RoomService, sessions *app.SessionService, submissions *app.SubmissionService, hub *broadcast.Hub, allowedOrigins []string, logger *log.Logger) *WSHandler {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &WSHandler{
		rooms:       rooms,
		sessions:    sessions,
		submissions: submissions,
		hub:         hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: logger,
	}
}

type inboundMessage struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

type outboundMessage struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId,omitempty"`
	Payload   any    `json:"payload"`
}

type ack struct {
	OK    bool       `json:"ok"`
	Data  any        `json:"data,omitempty"`
	Error *errorBody `json:"error,omitempty"`
}

type joinPayload struct {
	RoomCode    string `json:"roomCode"`
	DisplayName string `json:"displayName"`
	DeviceID    string `json:"deviceId"`
}

type participantPayload struct {
	ParticipantID string `json:"participantId"`
}

type submitPayload struct {
	ParticipantID   string          `json:"participantId"`
	QuestionID      string          `json:"questionId"`
	Answer          json.RawMessage `json:"answer"`
	ClientTimestamp *time.Time      `json:"clientTimestamp,omitempty"`
}

type roomPayload struct {
	RoomID          string `json:"roomId"`
	DurationMinutes int    `json:"durationMinutes,omitempty"`
}

// conn is the per-socket state. Only the writer goroutine touches ws for
// writes; everything else queues on send.
type conn struct {
	id      string
	userID  string
	ws      *websocket.Conn
	sub     *broadcast.Subscriber
	send    chan outboundMessage
	done    chan struct{}
	// stopped is closed by the writer when it exits.
	stopped chan struct{}

	mu            sync.Mutex
	participantID string
}

// ServeWS upgrades HTTP requests to websockets and dispatches client
// messages to the room, session and submission services.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("ws upgrade failed: %v", err)
		return
	}
	c := &conn{
		id:     uuid.NewString(),
		userID: strings.TrimSpace(r.Header.Get(UserHeader)),
		ws:     ws,
		sub:    h.hub.Subscribe(),
		send:    make(chan outboundMessage, sendBuffer),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}

	go func() {
		defer close(c.stopped)
		h.writeLoop(c)
	}()

	h.readLoop(r.Context(), c)

	close(c.done)
	c.sub.Close()
	<-c.stopped
	if err := h.sessions.HandleDisconnect(context.Background(), c.id); err != nil {
		h.logger.Printf("ws disconnect %s: %v", c.id, err)
	}
}

func (h *WSHandler) readLoop(ctx context.Context, c *conn) {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Printf("ws read %s: %v", c.id, err)
			}
			return
		}
		var msg inboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil || msg.Type == "" {
			body := errorBody{Code: domain.CodeValidation, Message: "malformed message"}
			c.queue(outboundMessage{Type: "error", Payload: ack{Error: &body}})
			continue
		}
		data, err := h.dispatch(ctx, c, msg)
		reply := ack{OK: err == nil, Data: data}
		if err != nil {
			body := toErrorBody(h.logger, "ws "+msg.Type, err)
			reply = ack{Error: &body}
		}
		c.queue(outboundMessage{Type: msg.Type + ":ack", RequestID: msg.RequestID, Payload: reply})
	}
}

// writeLoop serializes acks, pushed events and pings onto the socket.
// Closing the socket on exit unblocks the reader after a failed write.
func (h *WSHandler) writeLoop(c *conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.ws.Close()
	events := c.sub.C()
	for {
		select {
		case <-c.done:
			h.drain(c)
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case msg := <-c.send:
			if !h.write(c, msg) {
				return
			}
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if !h.write(c, outboundMessage{Type: ev.Type, Payload: ev.Payload}) {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *WSHandler) drain(c *conn) {
	for {
		select {
		case msg := <-c.send:
			if !h.write(c, msg) {
				return
			}
		default:
			return
		}
	}
}

func (h *WSHandler) write(c *conn, msg outboundMessage) bool {
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteJSON(msg); err != nil {
		h.logger.Printf("ws write %s: %v", c.id, err)
		return false
	}
	return true
}

// queue hands msg to the writer. It gives up once the writer has stopped,
// so a reader facing a full buffer still reaches its next failed read.
func (c *conn) queue(msg outboundMessage) {
	select {
	case c.send <- msg:
	case <-c.done:
	case <-c.stopped:
	}
}

func (c *conn) identity(displayName, deviceID string) domain.Identity {
	if c.userID != "" {
		return domain.Authenticated(c.userID)
	}
	return domain.Anonymous(displayName, deviceID)
}

func (c *conn) bind(p domain.Participant) {
	c.mu.Lock()
	prev := c.participantID
	c.participantID = p.ID
	c.mu.Unlock()
	if prev != "" && prev != p.ID {
		c.sub.Leave(broadcast.ParticipantChannel(prev))
	}
	c.sub.Join(broadcast.RoomChannel(p.RoomID))
	c.sub.Join(broadcast.ParticipantChannel(p.ID))
}

// owns reports whether this connection joined as participantID.
func (c *conn) owns(participantID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if participantID == "" {
		return domain.NewError(domain.CodeValidation, "participantId is required")
	}
	if c.participantID != participantID {
		return domain.NewError(domain.CodeForbidden, "join the room before acting as this participant")
	}
	return nil
}

func (h *WSHandler) dispatch(ctx context.Context, c *conn, msg inboundMessage) (any, error) {
	switch msg.Type {
	case msgJoinRoom:
		var p joinPayload
		if err := decodePayload(msg.Payload, &p); err != nil {
			return nil, err
		}
		res, err := h.sessions.Join(ctx, app.JoinRequest{
			RoomCode:     p.RoomCode,
			Identity:     c.identity(p.DisplayName, p.DeviceID),
			ConnectionID: c.id,
		})
		if err != nil {
			return nil, err
		}
		c.bind(res.Participant)
		return res, nil

	case msgRejoin:
		var p participantPayload
		if err := decodePayload(msg.Payload, &p); err != nil {
			return nil, err
		}
		var caller domain.Identity
		if c.userID != "" {
			caller = domain.Authenticated(c.userID)
		}
		res, err := h.sessions.Rejoin(ctx, p.ParticipantID, caller, c.id)
		if err != nil {
			return nil, err
		}
		c.bind(res.Participant)
		return res, nil

	case msgParticipantInfo:
		var p participantPayload
		if err := decodePayload(msg.Payload, &p); err != nil {
			return nil, err
		}
		if err := c.owns(p.ParticipantID); err != nil {
			return nil, err
		}
		return h.sessions.Status(ctx, p.ParticipantID)

	case msgSubmitAnswer:
		var p submitPayload
		if err := decodePayload(msg.Payload, &p); err != nil {
			return nil, err
		}
		if err := c.owns(p.ParticipantID); err != nil {
			return nil, err
		}
		req := app.SubmitRequest{ParticipantID: p.ParticipantID, QuestionID: p.QuestionID, Answer: p.Answer}
		if p.ClientTimestamp != nil {
			req.ClientTimestamp = *p.ClientTimestamp
		}
		return h.submissions.Submit(ctx, req)

	case msgSyncStatus:
		var p participantPayload
		if err := decodePayload(msg.Payload, &p); err != nil {
			return nil, err
		}
		if err := c.owns(p.ParticipantID); err != nil {
			return nil, err
		}
		return h.sessions.Sync(ctx, p.ParticipantID)

	case msgJoinManager:
		var p roomPayload
		if err := decodePayload(msg.Payload, &p); err != nil {
			return nil, err
		}
		dash, err := h.rooms.Dashboard(ctx, c.userID, p.RoomID)
		if err != nil {
			return nil, err
		}
		c.sub.Join(broadcast.RoomChannel(dash.Room.ID))
		c.sub.Join(broadcast.HostChannel(c.userID))
		return dash, nil

	case msgExtendRoomTime:
		var p roomPayload
		if err := decodePayload(msg.Payload, &p); err != nil {
			return nil, err
		}
		return h.rooms.ExtendDuration(ctx, c.userID, p.RoomID, p.DurationMinutes)

	case msgCloseRoom:
		var p roomPayload
		if err := decodePayload(msg.Payload, &p); err != nil {
			return nil, err
		}
		return h.rooms.End(ctx, c.userID, p.RoomID)

	default:
		return nil, domain.NewError(domain.CodeValidation, "unsupported message type %q", msg.Type)
	}
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return domain.NewError(domain.CodeValidation, "payload is required")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return domain.Wrap(domain.CodeValidation, "invalid payload", err)
	}
	return nil
}

// originChecker allows every origin when none are configured.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(o, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.TrimRight(origin, "/")]
		return ok
	}
}
