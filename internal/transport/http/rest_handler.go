package http

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"exam-room-service/internal/app"
	"exam-room-service/internal/domain"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

// RESTHandler serves the operator API under /api/rooms.
type RESTHandler struct {
	rooms  *app.RoomService
	logger *log.Logger
}

func NewRESTHandler(rooms *app.RoomService, logger *log.Logger) *RESTHandler {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &RESTHandler{rooms: rooms, logger: logger}
}

type extendRequest struct {
	DurationMinutes int `json:"durationMinutes"`
}

// Register mounts the room routes on r.
func (h *RESTHandler) Register(r *mux.Router) {
	api := r.PathPrefix("/api/rooms").Subrouter()
	api.HandleFunc("", h.createRoom).Methods(http.MethodPost)
	api.HandleFunc("", h.listRooms).Methods(http.MethodGet)
	api.HandleFunc("/code/{code}", h.getRoomByCode).Methods(http.MethodGet)
	api.HandleFunc("/{id}", h.getRoom).Methods(http.MethodGet)
	api.HandleFunc("/{id}", h.updateRoom).Methods(http.MethodPatch)
	api.HandleFunc("/{id}", h.deleteRoom).Methods(http.MethodDelete)
	api.HandleFunc("/{id}/start", h.startRoom).Methods(http.MethodPost)
	api.HandleFunc("/{id}/end", h.endRoom).Methods(http.MethodPost)
	api.HandleFunc("/{id}/cancel", h.cancelRoom).Methods(http.MethodPost)
	api.HandleFunc("/{id}/extend", h.extendRoom).Methods(http.MethodPost)
	api.HandleFunc("/{id}/results", h.roomResults).Methods(http.MethodGet)
}

// NewRouter wires REST, websocket and health routes behind CORS.
func NewRouter(rest *RESTHandler, ws *WSHandler, allowedOrigins []string) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	if ws != nil {
		r.HandleFunc("/ws", ws.ServeWS)
	}
	rest.Register(r)

	origins := allowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", UserHeader},
		AllowCredentials: len(allowedOrigins) > 0,
	}).Handler(r)
}

func (h *RESTHandler) createRoom(w http.ResponseWriter, r *http.Request) {
	var in app.CreateRoomInput
	if !h.decode(w, r, &in) {
		return
	}
	room, err := h.rooms.Create(r.Context(), hostOf(r), in)
	h.respond(w, "create room", http.StatusCreated, room, err)
}

func (h *RESTHandler) listRooms(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	host := hostOf(r)
	if host == "" {
		h.fail(w, "list rooms", domain.ErrForbidden)
		return
	}
	page, err := positiveQueryInt(q.Get("page"), "page")
	if err != nil {
		h.fail(w, "list rooms", err)
		return
	}
	pageSize, err := positiveQueryInt(q.Get("pageSize"), "pageSize")
	if err != nil {
		h.fail(w, "list rooms", err)
		return
	}
	out, err := h.rooms.List(r.Context(), host, domain.RoomStatus(q.Get("status")), page, pageSize)
	h.respond(w, "list rooms", http.StatusOK, out, err)
}

// positiveQueryInt parses an optional paging parameter. Empty means the
// service default.
func positiveQueryInt(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, domain.NewError(domain.CodeValidation, "%s must be a positive integer", name)
	}
	return n, nil
}

func (h *RESTHandler) getRoomByCode(w http.ResponseWriter, r *http.Request) {
	room, err := h.rooms.GetByCode(r.Context(), mux.Vars(r)["code"])
	h.respond(w, "get room by code", http.StatusOK, room, err)
}

func (h *RESTHandler) getRoom(w http.ResponseWriter, r *http.Request) {
	room, err := h.rooms.Get(r.Context(), mux.Vars(r)["id"])
	if err == nil && room.HostID != hostOf(r) {
		err = domain.ErrForbidden
	}
	h.respond(w, "get room", http.StatusOK, room, err)
}

func (h *RESTHandler) updateRoom(w http.ResponseWriter, r *http.Request) {
	var in app.UpdateRoomInput
	if !h.decode(w, r, &in) {
		return
	}
	room, err := h.rooms.Update(r.Context(), hostOf(r), mux.Vars(r)["id"], in)
	h.respond(w, "update room", http.StatusOK, room, err)
}

func (h *RESTHandler) deleteRoom(w http.ResponseWriter, r *http.Request) {
	if err := h.rooms.Delete(r.Context(), hostOf(r), mux.Vars(r)["id"]); err != nil {
		h.fail(w, "delete room", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *RESTHandler) startRoom(w http.ResponseWriter, r *http.Request) {
	room, err := h.rooms.Start(r.Context(), hostOf(r), mux.Vars(r)["id"])
	h.respond(w, "start room", http.StatusOK, room, err)
}

func (h *RESTHandler) endRoom(w http.ResponseWriter, r *http.Request) {
	room, err := h.rooms.End(r.Context(), hostOf(r), mux.Vars(r)["id"])
	h.respond(w, "end room", http.StatusOK, room, err)
}

func (h *RESTHandler) cancelRoom(w http.ResponseWriter, r *http.Request) {
	room, err := h.rooms.Cancel(r.Context(), hostOf(r), mux.Vars(r)["id"])
	h.respond(w, "cancel room", http.StatusOK, room, err)
}

func (h *RESTHandler) extendRoom(w http.ResponseWriter, r *http.Request) {
	var in extendRequest
	if !h.decode(w, r, &in) {
		return
	}
	room, err := h.rooms.ExtendDuration(r.Context(), hostOf(r), mux.Vars(r)["id"], in.DurationMinutes)
	h.respond(w, "extend room", http.StatusOK, room, err)
}

func (h *RESTHandler) roomResults(w http.ResponseWriter, r *http.Request) {
	out, err := h.rooms.Results(r.Context(), hostOf(r), mux.Vars(r)["id"])
	h.respond(w, "room results", http.StatusOK, out, err)
}

func (h *RESTHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		h.fail(w, "decode body", domain.Wrap(domain.CodeValidation, "invalid request body", err))
		return false
	}
	return true
}

func (h *RESTHandler) respond(w http.ResponseWriter, op string, status int, body any, err error) {
	if err != nil {
		h.fail(w, op, err)
		return
	}
	writeJSON(w, status, body)
}

func (h *RESTHandler) fail(w http.ResponseWriter, op string, err error) {
	body := toErrorBody(h.logger, op, err)
	writeJSON(w, statusFor(body.Code), map[string]errorBody{"error": body})
}

func hostOf(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(UserHeader))
}
