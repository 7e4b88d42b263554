package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"singularity-rmk/internal/identity"
	"singularity-rmk/internal/ingest"
	"singularity-rmk/internal/kernel"
	"singularity-rmk/internal/observability"
	"singularity-rmk/internal/policy"
	"singularity-rmk/internal/rmkerrors"
)

// loggingMiddleware logs each request body at debug level with sensitive
// fields (api keys, tokens, passwords) redacted before they ever reach the
// log sink, grounded on the teacher's RedactJSON-before-RawJSON idiom in
// internal/llm/openai/client.go.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if log.Debug().Enabled() && r.ContentLength > 0 {
			body, err := io.ReadAll(r.Body)
			r.Body.Close()
			if err == nil {
				r.Body = io.NopCloser(bytes.NewReader(body))
				log.Debug().Str("method", r.Method).Str("path", r.URL.Path).
					RawJSON("body", observability.RedactJSON(body)).Msg("rmkd: request")
			}
		}
		next.ServeHTTP(w, r)
	})
}

// newRouter builds the kernel's HTTP surface over stdlib net/http: the
// teacher's own root package reaches for labstack/echo/v4 in routes.go but
// that import is absent from go.mod's require block (a retrieval-pack
// inconsistency, see DESIGN.md), so rmkd sticks to the mux the rest of the
// corpus's services (cmd/orchestrator) actually ship with.
func newRouter(k *kernel.Kernel) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /ingest/turn", handleIngestTurn(k))
	mux.HandleFunc("POST /ingest/document", handleIngestDocument(k))
	mux.HandleFunc("POST /consult", handleConsult(k))
	mux.HandleFunc("POST /workspaces", handleCreateWorkspace(k))
	mux.HandleFunc("POST /workspaces/{ws}/invite", handleInvite(k))
	mux.HandleFunc("POST /invitations/{id}/accept", handleInvitationResolve(k, true))
	mux.HandleFunc("POST /invitations/{id}/decline", handleInvitationResolve(k, false))
	mux.HandleFunc("POST /workspaces/{ws}/share-link", handleShareLink(k))
	mux.HandleFunc("POST /join/{token}", handleJoin(k))
	mux.HandleFunc("GET /workspaces/{ws}/members", handleListMembers(k))
	mux.HandleFunc("DELETE /workspaces/{ws}/members/{user}", handleRemoveMember(k))
	mux.HandleFunc("GET /admin/policies", handleListPolicies(k))
	mux.HandleFunc("POST /admin/policies", handlePutPolicy(k))
	mux.HandleFunc("DELETE /admin/policies/{id}", handleDeletePolicy(k))
	mux.HandleFunc("GET /admin/audit", handleAudit(k))

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			log.Warn().Err(err).Msg("rmkd: failed to encode response")
		}
	}
}

// writeError maps an rmkerrors.Code to its HTTP status, per the kernel's
// user-visible error policy: policy denials are always visible, everything
// else degrades gracefully upstream of this layer (this handler only ever
// sees what its caller decided was actually a failure).
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch rmkerrors.CodeOf(err) {
	case rmkerrors.InvalidInput:
		status = http.StatusBadRequest
	case rmkerrors.Unauthorized:
		status = http.StatusUnauthorized
	case rmkerrors.Forbidden:
		status = http.StatusForbidden
	case rmkerrors.NotFound:
		status = http.StatusNotFound
	case rmkerrors.Conflict:
		status = http.StatusConflict
	case rmkerrors.Overloaded:
		status = http.StatusServiceUnavailable
	case rmkerrors.StoreUnavailable, rmkerrors.LLMUnavailable:
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return rmkerrors.Wrap(rmkerrors.InvalidInput, "decode request body", err)
	}
	return nil
}

// --- ingestion ---

type ingestTurnRequest struct {
	Namespace     string `json:"namespace"`
	UserText      string `json:"user_text"`
	AssistantText string `json:"assistant_text"`
}

func handleIngestTurn(k *kernel.Kernel) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ingestTurnRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		principal := k.DecodePrincipal(r)
		if err := authorizeNamespaceWrite(r, k, principal, req.Namespace); err != nil {
			writeError(w, err)
			return
		}
		stats, err := k.Ingest.Submit(r.Context(), &ingest.Job{
			Kind:          ingest.KindConversationTurn,
			Namespace:     req.Namespace,
			UserText:      req.UserText,
			AssistantText: req.AssistantText,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

type ingestDocumentRequest struct {
	Namespace    string `json:"namespace"`
	DocumentName string `json:"document_name"`
	DocumentText string `json:"document_text"`
	// DocumentBlob carries already-extracted text bytes (base64 over the
	// wire) for producers that hand the kernel a blob instead of a string;
	// PDF/image/OCR extraction happens upstream of the kernel. Mutually
	// exclusive with DocumentText.
	DocumentBlob []byte `json:"document_blob"`
	// MathMode routes the job through the Vision-Tree Indexer (C12) in
	// addition to ordinary entity extraction.
	MathMode bool `json:"math_mode"`
}

func handleIngestDocument(k *kernel.Kernel) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ingestDocumentRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		principal := k.DecodePrincipal(r)
		if err := authorizeNamespaceWrite(r, k, principal, req.Namespace); err != nil {
			writeError(w, err)
			return
		}
		kind := ingest.KindDocumentText
		if req.DocumentText == "" && len(req.DocumentBlob) > 0 {
			kind = ingest.KindDocumentBlob
		}
		stats, err := k.Ingest.Submit(r.Context(), &ingest.Job{
			Kind:         kind,
			Namespace:    req.Namespace,
			DocumentName: req.DocumentName,
			DocumentText: req.DocumentText,
			DocumentBlob: req.DocumentBlob,
			MathMode:     req.MathMode,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

// --- consultation ---

type consultRequest struct {
	Namespace      string `json:"namespace"`
	Query          string `json:"query"`
	ConversationID string `json:"conversation_id"`
}

func handleConsult(k *kernel.Kernel) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req consultRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		principal := k.DecodePrincipal(r)
		resp := k.Consult.Consult(r.Context(), principal.Subject, req.Namespace, req.Query)
		// A cancelled consultation still returns 200 with partial:true per
		// the kernel's user-visible behavior contract, not an error status.
		writeJSON(w, http.StatusOK, resp)
	}
}

// --- workspaces & membership ---

type createWorkspaceRequest struct {
	Owner string `json:"owner"`
	Name  string `json:"name"`
}

func handleCreateWorkspace(k *kernel.Kernel) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal := k.DecodePrincipal(r)
		if principal.Role != "admin" {
			writeError(w, rmkerrors.New(rmkerrors.Forbidden, "workspace creation requires the admin role"))
			return
		}
		var req createWorkspaceRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		ws, err := k.Identity.CreateWorkspace(r.Context(), req.Owner, req.Name)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, ws)
	}
}

type inviteRequest struct {
	Inviter string        `json:"inviter"`
	Invitee string        `json:"invitee"`
	Role    identity.Role `json:"role"`
}

func handleInvite(k *kernel.Kernel) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws := r.PathValue("ws")
		var req inviteRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		inv, err := k.Identity.Invite(r.Context(), req.Inviter, ws, req.Invitee, req.Role)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, inv)
	}
}

type invitationActionRequest struct {
	Invitee string `json:"invitee"`
}

func handleInvitationResolve(k *kernel.Kernel, accept bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		var req invitationActionRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		var err error
		if accept {
			err = k.Identity.Accept(r.Context(), req.Invitee, id)
		} else {
			err = k.Identity.Decline(r.Context(), req.Invitee, id)
		}
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

type shareLinkRequest struct {
	Admin   string        `json:"admin"`
	Role    identity.Role `json:"role"`
	MaxUses int           `json:"max_uses"`
	TTLHrs  int           `json:"ttl_hours"`
}

func handleShareLink(k *kernel.Kernel) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws := r.PathValue("ws")
		var req shareLinkRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		ttl := time.Duration(req.TTLHrs) * time.Hour
		if ttl <= 0 {
			ttl = time.Duration(k.Config.Identity.ShareTokenTTLHr) * time.Hour
		}
		tok, err := k.Identity.IssueShareToken(r.Context(), req.Admin, ws, req.Role, req.MaxUses, ttl)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, tok)
	}
}

type joinRequest struct {
	User string `json:"user"`
}

func handleJoin(k *kernel.Kernel) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.PathValue("token")
		var req joinRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		role, err := k.Identity.RedeemShareToken(r.Context(), req.User, token)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"role": string(role)})
	}
}

func handleListMembers(k *kernel.Kernel) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws := r.PathValue("ws")
		members, err := k.Identity.ListMembers(r.Context(), ws)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, members)
	}
}

func handleRemoveMember(k *kernel.Kernel) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws := r.PathValue("ws")
		user := r.PathValue("user")
		if err := k.Identity.RemoveMember(r.Context(), ws, user); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusNoContent, nil)
	}
}

// --- admin: policies & audit ---

func handleListPolicies(k *kernel.Kernel) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := requireAdmin(k, r); err != nil {
			writeError(w, err)
			return
		}
		policies, err := k.Policy.List(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, policies)
	}
}

func handlePutPolicy(k *kernel.Kernel) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := requireAdmin(k, r); err != nil {
			writeError(w, err)
			return
		}
		var p policy.Policy
		if err := decodeBody(r, &p); err != nil {
			writeError(w, err)
			return
		}
		if err := k.Policy.Put(r.Context(), p); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func handleDeletePolicy(k *kernel.Kernel) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := requireAdmin(k, r); err != nil {
			writeError(w, err)
			return
		}
		id := r.PathValue("id")
		if err := k.Policy.Delete(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusNoContent, nil)
	}
}

func handleAudit(k *kernel.Kernel) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := requireAdmin(k, r); err != nil {
			writeError(w, err)
			return
		}
		limit := 100
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 {
				limit = n
			}
		}
		records := k.Audit.Records()
		if len(records) > limit {
			records = records[len(records)-limit:]
		}
		writeJSON(w, http.StatusOK, records)
	}
}

func requireAdmin(k *kernel.Kernel, r *http.Request) error {
	principal := k.DecodePrincipal(r)
	if principal.Role != "admin" {
		return rmkerrors.New(rmkerrors.Forbidden, "admin role required")
	}
	return nil
}

// authorizeNamespaceWrite checks the policy engine before any ingestion
// write lands, since ingestion has no other authorization gate upstream of
// the kernel.
func authorizeNamespaceWrite(r *http.Request, k *kernel.Kernel, principal identity.Principal, namespace string) error {
	decision, err := k.Policy.Check(r.Context(), "user:"+principal.Subject, "write", "ns:"+namespace)
	if err != nil {
		return err
	}
	if decision.Effect == policy.Deny {
		return rmkerrors.New(rmkerrors.Forbidden, "policy "+decision.MatchedPolicyID+" denies this write")
	}
	return nil
}
