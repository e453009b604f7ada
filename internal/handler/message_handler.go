package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"ykchat/internal/pkg/errs"
	"ykchat/internal/pkg/logx"
	"ykchat/internal/pkg/randx"
	"ykchat/internal/pkg/req"
	"ykchat/internal/pkg/resp"
)

// loadTimeout bounds the wait for the first snapshot of a one-shot read.
const loadTimeout = 10 * time.Second

// SendMessageInput is the JSON body of a text message post.
type SendMessageInput struct {
	Text       string `json:"text"`
	SenderID   string `json:"senderId,omitempty"`
	SenderName string `json:"senderName,omitempty"`
}

// roomIDParam reads and validates the {roomID} URL parameter.
func roomIDParam(r *http.Request) (string, *errs.CustomError) {
	roomID := chi.URLParam(r, "roomID")
	if !randx.IsValidRoomID(roomID) {
		return "", errs.NewError(errs.ErrInvalidRoomID)
	}
	return roomID, nil
}

// HandleListMessages returns the current ordered messages of a room.
func HandleListMessages(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID, customErr := roomIDParam(r)
		if customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		session, err := deps.Manager.NewSession()
		if err != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown, err))
			return
		}
		defer session.Close()

		if customErr := session.Subscribe(roomID); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), loadTimeout)
		defer cancel()

		state, err := session.AwaitReady(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				logx.Warn("Timed out waiting for room snapshot", "room_id", roomID, "error", err.Error())
			}
			resp.RespondError(w, r, errs.NewError(errs.ErrLoadMessagesFailed))
			return
		}

		if state.Err != nil {
			resp.RespondError(w, r, state.Err)
			return
		}

		resp.RespondSuccess(w, r, map[string]any{
			"roomId":   roomID,
			"messages": state.Messages,
		})
	}
}

// HandleSendMessage appends a text message to a room. Blank text is accepted
// and ignored.
func HandleSendMessage(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID, customErr := roomIDParam(r)
		if customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		var input SendMessageInput
		if customErr := req.BindJSON(r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		sender, _, customErr := resolveSender(r, input.SenderID, input.SenderName)
		if customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		session, err := deps.Manager.NewSession()
		if err != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown, err))
			return
		}
		defer session.Close()

		session.SendMessage(r.Context(), roomID, input.Text, sender)

		if state := session.State(); state.Err != nil {
			resp.RespondError(w, r, state.Err)
			return
		}

		resp.RespondSuccess(w, r, map[string]any{
			"sent": strings.TrimSpace(input.Text) != "",
		})
	}
}
