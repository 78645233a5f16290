/*
Package handler provides the HTTP handlers and routing setup for the server.

This file contains the development-only session mint. The production login
flow lives in the account service; this endpoint exists so the websocket flow
can be driven end to end against a local database.
*/
package handler

import (
	"errors"
	"net/http"

	"buzzline/internal/app/store"
	"buzzline/internal/pkg/errs"
	"buzzline/internal/pkg/logx"
	"buzzline/internal/pkg/req"
	"buzzline/internal/pkg/resp"
)

type mintSessionInput struct {
	UserID int64 `json:"userId"`
}

// HandleMintSession creates a session token for an existing user. Disabled
// outside development.
func HandleMintSession(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !deps.Config.IsDevelopment() {
			resp.RespondError(w, r, errs.NewError(errs.ErrEndpointDisabled))
			return
		}

		var input mintSessionInput
		if customErr := req.BindJSON(r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		if input.UserID <= 0 {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		token, err := deps.Store.CreateSession(r.Context(), input.UserID)
		if err != nil {
			if errors.Is(err, store.ErrUserNotFound) {
				resp.RespondError(w, r, errs.NewError(errs.ErrUserNotFound))
				return
			}

			logx.Error(err, "Failed to mint development session", "user_id", input.UserID)
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}

		resp.RespondSuccess(w, r, map[string]string{"sessionToken": token})
	}
}
