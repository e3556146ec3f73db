// Package httpapi exposes a Kernel over HTTP: JSON requests in, JSON
// responses out, mounted on a chi router the same way the rest of the
// ecosystem's services expose their JSON surfaces.
package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/trust-arbor/arbor-sub008/crypto"
	"github.com/trust-arbor/arbor-sub008/identity"
	"github.com/trust-arbor/arbor-sub008/kernel"
)

const requestBodyLimit = 1 << 20 // 1 MiB

// API wraps a *kernel.Kernel with its HTTP bindings.
type API struct {
	Kernel *kernel.Kernel
}

// New mounts the kernel's operations onto a new chi router. obsMiddleware,
// if non-nil, is applied to every /v1 route (not to /healthz or /metrics)
// the same way the rest of the ecosystem wraps its
// JSON surfaces in request/duration instrumentation.
func New(k *kernel.Kernel, obsMiddleware func(route string) func(http.Handler) http.Handler) http.Handler {
	api := &API{Kernel: k}
	r := chi.NewRouter()

	mount := func(route string, h http.HandlerFunc) {
		if obsMiddleware != nil {
			r.Handle(route, obsMiddleware(route)(h))
			return
		}
		r.Handle(route, h)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", k.Metrics.Handler())

	mount("/v1/authorize", api.authorize)
	mount("/v1/capabilities/grant", api.grant)
	mount("/v1/capabilities/revoke", api.revoke)
	mount("/v1/capabilities/cascade-revoke", api.cascadeRevoke)
	mount("/v1/identities/register", api.registerIdentity)
	mount("/v1/identities/suspend", api.suspendIdentity)
	mount("/v1/identities/resume", api.resumeIdentity)
	mount("/v1/identities/revoke", api.revokeIdentity)

	return r
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, requestBodyLimit)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

type authorizeRequest struct {
	PrincipalID   string         `json:"principal_id"`
	ResourceURI   string         `json:"resource_uri"`
	Action        string         `json:"action"`
	SignedRequest *signedRequest `json:"signed_request,omitempty"`
	DeadlineMS    int            `json:"deadline_ms,omitempty"`
}

type signedRequest struct {
	PrincipalID string `json:"principal_id"`
	ResourceURI string `json:"resource_uri"`
	Action      string `json:"action"`
	Timestamp   int64  `json:"timestamp"`
	Nonce       string `json:"nonce"`
	Signature   string `json:"signature"`
}

func (api *API) authorize(w http.ResponseWriter, r *http.Request) {
	var req authorizeRequest
	if !decodeBody(w, r, &req) {
		return
	}

	opts := kernel.AuthorizeOpts{Now: time.Now().UTC()}
	if req.DeadlineMS > 0 {
		opts.Deadline = time.Duration(req.DeadlineMS) * time.Millisecond
	}
	if req.SignedRequest != nil {
		sig, err := base64.StdEncoding.DecodeString(req.SignedRequest.Signature)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		sr := identity.SignedRequest{
			PrincipalID: req.SignedRequest.PrincipalID,
			ResourceURI: req.SignedRequest.ResourceURI,
			Action:      req.SignedRequest.Action,
			Timestamp:   time.Unix(req.SignedRequest.Timestamp, 0).UTC(),
			Nonce:       req.SignedRequest.Nonce,
			Signature:   sig,
		}
		opts.SignedRequest = &sr
	}

	result := api.Kernel.Authorize(r.Context(), req.PrincipalID, req.ResourceURI, req.Action, opts)
	status := http.StatusOK
	if result.Kind == kernel.ResultError {
		status = http.StatusForbidden
	}
	resp := map[string]any{"kind": result.Kind}
	if result.ProposalID != "" {
		resp["proposal_id"] = result.ProposalID
	}
	if result.Err != nil {
		resp["error"] = result.Err.Error()
	}
	writeJSON(w, status, resp)
}

type grantRequest struct {
	PrincipalID   string         `json:"principal_id"`
	ResourceURI   string         `json:"resource_uri"`
	TTLSeconds    int64          `json:"ttl_seconds"`
	Constraints   map[string]any `json:"constraints,omitempty"`
	ParentID      string         `json:"parent_id,omitempty"`
	DelegatorID   string         `json:"delegator_id,omitempty"`
	DelegatorPriv string         `json:"delegator_private_key,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

func (api *API) grant(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var delegatorPriv crypto.SigningPrivateKey
	if req.DelegatorPriv != "" {
		raw, err := base64.StdEncoding.DecodeString(req.DelegatorPriv)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		delegatorPriv = crypto.SigningPrivateKey(raw)
	}

	cap, err := api.Kernel.Grant(kernel.GrantRequest{
		PrincipalID: req.PrincipalID,
		ResourceURI: req.ResourceURI,
		TTL:         time.Duration(req.TTLSeconds) * time.Second,
		Constraints: req.Constraints,
		ParentID:    req.ParentID,
		DelegatorID: req.DelegatorID,
		Metadata:    req.Metadata,
	}, delegatorPriv, time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, cap)
}

type capabilityIDRequest struct {
	CapabilityID string `json:"capability_id"`
}

func (api *API) revoke(w http.ResponseWriter, r *http.Request) {
	var req capabilityIDRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := api.Kernel.Revoke(req.CapabilityID); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func (api *API) cascadeRevoke(w http.ResponseWriter, r *http.Request) {
	var req capabilityIDRequest
	if !decodeBody(w, r, &req) {
		return
	}
	count, err := api.Kernel.CascadeRevoke(req.CapabilityID)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"revoked_count": count})
}

type agentIDRequest struct {
	AgentID string `json:"agent_id"`
}

func (api *API) registerIdentity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgentID  string         `json:"agent_id"`
		Metadata map[string]any `json:"metadata,omitempty"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	id, err := identity.Generate(req.Metadata)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	id.AgentID = req.AgentID
	if err := api.Kernel.RegisterIdentity(id); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, id.PublicOnly())
}

func (api *API) suspendIdentity(w http.ResponseWriter, r *http.Request) {
	var req agentIDRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := api.Kernel.SuspendIdentity(req.AgentID); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "suspended"})
}

func (api *API) resumeIdentity(w http.ResponseWriter, r *http.Request) {
	var req agentIDRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := api.Kernel.ResumeIdentity(req.AgentID); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

func (api *API) revokeIdentity(w http.ResponseWriter, r *http.Request) {
	var req agentIDRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := api.Kernel.RevokeIdentity(req.AgentID); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}
