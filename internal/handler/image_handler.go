package handler

import (
	"net/http"

	"ykchat/internal/app/chat"
	"ykchat/internal/pkg/errs"
	"ykchat/internal/pkg/req"
	"ykchat/internal/pkg/resp"
)

const (
	// ImageFormField is the multipart field carrying the image.
	ImageFormField = "image"

	// multipartOverhead is the allowance for form fields and part headers.
	multipartOverhead int64 = 1 << 20
)

// HandleUploadImage accepts a multipart image and sends it to the room as an
// image message.
func HandleUploadImage(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID, customErr := roomIDParam(r)
		if customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		if customErr := req.SetupMultipart(w, r, deps.Config.MaxImageSize()+multipartOverhead); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		sender, _, customErr := resolveSender(r, r.FormValue("senderId"), r.FormValue("senderName"))
		if customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		data, header, customErr := req.FormFile(r, ImageFormField)
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

		img := chat.Image{
			FileName:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Data:        data,
		}

		if customErr := session.SendImage(r.Context(), roomID, img, sender); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		resp.RespondSuccess(w, r, map[string]any{
			"sent": len(data) > 0,
		})
	}
}
