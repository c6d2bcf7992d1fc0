package api

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/kamikazebr/musa-estate/internal/server/services"
	"github.com/kamikazebr/musa-estate/pkg/models"
)

const (
	streamWriteTimeout = 10 * time.Second
	streamPingInterval = 30 * time.Second
)

type GuestMessageHandler struct {
	messages       *services.GuestMessageService
	originPatterns []string
}

func NewGuestMessageHandler(messages *services.GuestMessageService, originPatterns []string) *GuestMessageHandler {
	return &GuestMessageHandler{messages: messages, originPatterns: originPatterns}
}

// Send is public: guests leave a message for a household without an account.
func (h *GuestMessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req models.SendGuestMessageInput
	if err := decodeJSON(r, &req); err != nil {
		respondErrorJSON(w, http.StatusBadRequest, "invalid request body")
		return
	}
	msg, err := h.messages.Send(r.Context(), req)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, msg)
}

func (h *GuestMessageHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, _ := GetActor(r)
	msgs, err := h.messages.ListByHousehold(r.Context(), actor, chi.URLParam(r, "household_id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, models.ListGuestMessagesResponse{Messages: msgs, Count: len(msgs)})
}

func (h *GuestMessageHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	actor, _ := GetActor(r)

	var req models.UpdateMessageStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		respondErrorJSON(w, http.StatusBadRequest, "invalid request body")
		return
	}
	msg, err := h.messages.UpdateStatus(r.Context(), actor, chi.URLParam(r, "message_id"), req.Status)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, msg)
}

// Stream pushes the household's message list over a websocket every time it
// changes. Slow readers only ever get the latest list. The subscription
// marks messages delivered, so it starts only after the upgrade succeeds.
func (h *GuestMessageHandler) Stream(w http.ResponseWriter, r *http.Request) {
	actor, _ := GetActor(r)
	householdID := chi.URLParam(r, "household_id")

	if err := h.messages.CanWatch(r.Context(), actor, householdID); err != nil {
		respondServiceError(w, err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		log.Printf("Warning: websocket accept failed: %v", err)
		return
	}
	defer conn.CloseNow()

	updates := make(chan []models.GuestMessage, 1)
	push := func(msgs []models.GuestMessage) {
		for {
			select {
			case updates <- msgs:
				return
			default:
				select {
				case <-updates:
				default:
				}
			}
		}
	}

	stop, err := h.messages.Subscribe(r.Context(), actor, householdID, push)
	if err != nil {
		log.Printf("Warning: guest message subscription for household %s failed: %v", householdID, err)
		conn.Close(websocket.StatusInternalError, "subscription failed")
		return
	}
	defer stop()

	ctx := conn.CloseRead(r.Context())
	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "bye")
			return
		case msgs := <-updates:
			wctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
			err := wsjson.Write(wctx, conn, models.ListGuestMessagesResponse{Messages: msgs, Count: len(msgs)})
			cancel()
			if err != nil {
				return
			}
		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
