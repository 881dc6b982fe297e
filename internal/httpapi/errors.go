package httpapi

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/DoyleJ11/durak-server/internal/engine"
	"github.com/DoyleJ11/durak-server/internal/hub"
	"github.com/DoyleJ11/durak-server/internal/ledger"
	"github.com/DoyleJ11/durak-server/internal/lobby"
	"github.com/DoyleJ11/durak-server/internal/shop"
	"github.com/DoyleJ11/durak-server/pkg/types"
	"go.uber.org/zap"
)

var errBadRequest = errors.New("bad request")

var statusOf = []struct {
	err    error
	status int
}{
	{errBadRequest, http.StatusBadRequest},
	{engine.ErrIllegalMove, http.StatusBadRequest},
	{engine.ErrUnsupportedCommand, http.StatusBadRequest},
	{engine.ErrBadPlayerCount, http.StatusBadRequest},
	{lobby.ErrBadStake, http.StatusBadRequest},
	{lobby.ErrBadChat, http.StatusBadRequest},
	{ledger.ErrInvalidAmount, http.StatusBadRequest},

	{engine.ErrNotYourTurn, http.StatusForbidden},
	{lobby.ErrNotSeated, http.StatusForbidden},
	{lobby.ErrNotCreator, http.StatusForbidden},

	{hub.ErrRoomNotFound, http.StatusNotFound},
	{shop.ErrUnknownItem, http.StatusNotFound},
	{sql.ErrNoRows, http.StatusNotFound},

	{lobby.ErrRoomFull, http.StatusConflict},
	{lobby.ErrRoomNotWaiting, http.StatusConflict},
	{lobby.ErrRoomNotActive, http.StatusConflict},
	{lobby.ErrAlreadySeated, http.StatusConflict},
	{lobby.ErrNotEnoughPlayers, http.StatusConflict},
	{engine.ErrGameOver, http.StatusConflict},
	{shop.ErrAlreadyOwned, http.StatusConflict},

	{ledger.ErrInsufficientFunds, http.StatusPaymentRequired},
}

// Status maps a domain error to its HTTP status; unknown errors are 500.
func Status(err error) int {
	for _, s := range statusOf {
		if errors.Is(err, s.err) {
			return s.status
		}
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := Status(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		a.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		msg = "internal error"
	}
	writeJSON(w, status, types.ErrorResponse{Error: msg})
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}
