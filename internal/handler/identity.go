package handler

import (
	"net/http"

	"ykchat/internal/app/user"
	"ykchat/internal/pkg/auth/jwt"
	"ykchat/internal/pkg/errs"
)

// resolveSender returns the sender for a request. A verified identity token
// wins over caller-supplied fields; without either the request is rejected.
func resolveSender(r *http.Request, senderID, senderName string) (user.User, bool, *errs.CustomError) {
	if payload := jwt.GetPayloadFromContext(r); payload != nil {
		return user.New(payload.ID, payload.Name), true, nil
	}

	sender := user.New(senderID, senderName)
	if sender.ID == "" {
		return user.User{}, false, errs.NewError(errs.ErrUnauthorized)
	}

	return sender, false, nil
}
