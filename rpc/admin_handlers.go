package rpc

import (
	"log/slog"
	"net/http"

	"homeescrow/core/types"
	"homeescrow/native/listing"
)

const maxEventPage = 500

type pauseParams struct {
	Paused bool `json:"paused"`
}

type eventsParams struct {
	After uint64 `json:"after"`
	Limit int    `json:"limit"`
}

type eventsResult struct {
	Source string         `json:"source"`
	Events []*types.Event `json:"events"`
}

func (s *Server) handleAdminSetPaused(w http.ResponseWriter, _ *http.Request, req *RPCRequest, caller *Caller) {
	if s.pauses == nil {
		writeError(w, http.StatusNotImplemented, req.ID, codeMethodNotFound, "pause switch not configured", nil)
		return
	}
	var params pauseParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	s.pauses.SetPaused(listing.ModuleName, params.Paused)
	s.log.Warn("listing pause toggled",
		slog.Bool("paused", params.Paused),
		slog.String("operator", caller.String()))
	writeResult(w, req.ID, map[string]interface{}{"module": listing.ModuleName, "paused": params.Paused})
}

func (s *Server) handleAdminVerifyAudit(w http.ResponseWriter, _ *http.Request, req *RPCRequest, _ *Caller) {
	if s.audit == nil {
		writeError(w, http.StatusNotImplemented, req.ID, codeMethodNotFound, "audit store not configured", nil)
		return
	}
	checked, err := s.audit.Verify()
	if err != nil {
		s.log.Error("audit chain verification failed", slog.Int("checked", checked), slog.Any("error", err))
		writeResult(w, req.ID, map[string]interface{}{"ok": false, "checked": checked, "error": err.Error()})
		return
	}
	writeResult(w, req.ID, map[string]interface{}{"ok": true, "checked": checked, "head": s.audit.Head()})
}

// handleListingEvents pages committed events. The audit store is
// authoritative when configured; otherwise the broadcaster backlog is used.
func (s *Server) handleListingEvents(w http.ResponseWriter, _ *http.Request, req *RPCRequest, _ *Caller) {
	var params eventsParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if params.Limit <= 0 || params.Limit > maxEventPage {
		params.Limit = maxEventPage
	}
	if s.audit != nil {
		records, err := s.audit.List(params.After, params.Limit)
		if err != nil {
			s.writeListingError(w, req.ID, "events", err)
			return
		}
		out := make([]*types.Event, 0, len(records))
		for _, record := range records {
			evt, err := record.Event()
			if err != nil {
				s.writeListingError(w, req.ID, "events", err)
				return
			}
			out = append(out, evt)
		}
		writeResult(w, req.ID, eventsResult{Source: "audit", Events: out})
		return
	}
	if s.broadcaster == nil {
		writeResult(w, req.ID, eventsResult{Source: "none", Events: []*types.Event{}})
		return
	}
	backlog := s.broadcaster.Backlog(params.After)
	if len(backlog) > params.Limit {
		backlog = backlog[:params.Limit]
	}
	writeResult(w, req.ID, eventsResult{Source: "backlog", Events: backlog})
}
