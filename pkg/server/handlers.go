package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/actor"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/apierror"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/completion"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/database"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/execution"
)

// pathVar reads a gorilla/mux route variable from r.
func pathVar(r *http.Request, name string) string {
	return mux.Vars(r)[name]
}

func decodeJSON(r *http.Request, out interface{}) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return apierror.Validation("failed to read request body: %v", err)
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return apierror.Validation("malformed JSON body: %v", err)
	}
	return nil
}

// --- Contract Registry (C1) -------------------------------------------------

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address string `json:"address"`
		Network string `json:"network"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	result, err := s.registry.Discover(r.Context(), req.Address, req.Network)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleUpsertContract(w http.ResponseWriter, r *http.Request) {
	var c database.CustomContract
	if err := decodeJSON(r, &c); err != nil {
		writeError(w, err)
		return
	}
	c.UserID = userIDFrom(r)
	saved, err := s.registry.Upsert(r.Context(), &c)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleListContracts(w http.ResponseWriter, r *http.Request) {
	list, err := s.registry.ListMine(r.Context(), userIDFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetContract(w http.ResponseWriter, r *http.Request) {
	c, err := s.registry.Get(r.Context(), pathVar(r, "id"))
	if err != nil {
		writeError(w, apierror.NotFound("contract %s not found", pathVar(r, "id")))
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleUpdateMappings(w http.ResponseWriter, r *http.Request) {
	var mappings map[string]database.Mapping
	if err := decodeJSON(r, &mappings); err != nil {
		writeError(w, err)
		return
	}
	if err := s.registry.UpdateMappings(r.Context(), pathVar(r, "id"), mappings); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleUploadWasm(w http.ResponseWriter, r *http.Request) {
	contractID := r.URL.Query().Get("contractId")
	chainHashHex := r.URL.Query().Get("chainHashHex")
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, apierror.Validation("failed to read wasm body: %v", err))
		return
	}
	meta, err := s.wasm.Attach(r.Context(), contractID, data, chainHashHex)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handleDownloadWasm(w http.ResponseWriter, r *http.Request) {
	data, err := s.wasm.Download(r.Context(), pathVar(r, "id"))
	if err != nil {
		writeError(w, apierror.NotFound("no wasm attached to contract %s", pathVar(r, "id")))
		return
	}
	w.Header().Set("Content-Type", "application/wasm")
	_, _ = w.Write(data)
}

// --- Rule Store (C2) ---------------------------------------------------------

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Rule                database.ExecutionRule `json:"rule"`
		RequiredWalletCount int                     `json:"requiredWalletCount"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	body.Rule.UserID = userIDFrom(r)
	saved, err := s.ruleStore.Create(r.Context(), &body.Rule, body.RequiredWalletCount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	list, err := s.ruleStore.ListMine(r.Context(), userIDFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	var patch database.RulePatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, err)
		return
	}
	updated, err := s.ruleStore.Update(r.Context(), pathVar(r, "id"), patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := s.ruleStore.Delete(r.Context(), pathVar(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleQuorum(w http.ResponseWriter, r *http.Request) {
	result, err := s.ruleStore.CheckQuorum(r.Context(), pathVar(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- Execution Queue / Dispatcher (C4/C5) -----------------------------------

type locationPing struct {
	PublicKey string  `json:"publicKey"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
}

func (s *Server) handleIngestLocation(w http.ResponseWriter, r *http.Request) {
	var ping locationPing
	if err := decodeJSON(r, &ping); err != nil {
		writeError(w, err)
		return
	}
	update, err := s.dispatcher.Ingest(r.Context(), userIDFrom(r), ping.PublicKey, ping.Lat, ping.Lng)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, update)
}

func (s *Server) handleIngestLocationPublic(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID string `json:"userId"`
		locationPing
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	update, err := s.dispatcher.Ingest(r.Context(), body.UserID, body.PublicKey, body.Lat, body.Lng)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, update)
}

func (s *Server) handleNearby(w http.ResponseWriter, r *http.Request) {
	lat, lng, radius, err := parseLatLngRadius(r)
	if err != nil {
		writeError(w, err)
		return
	}
	matches, err := s.matcher.Nearby(r.Context(), lat, lng, radius)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, matches)
}

// --- Query API (C8) ---------------------------------------------------------

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	pk := publicKeyFilter(r)
	proj, err := s.queries.Pending(r.Context(), actor.New(userIDFrom(r), pk), pk)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, proj)
}

func (s *Server) handleCompleted(w http.ResponseWriter, r *http.Request) {
	pk := publicKeyFilter(r)
	proj, err := s.queries.Completed(r.Context(), actor.New(userIDFrom(r), pk), pk)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, proj)
}

func (s *Server) handleRejected(w http.ResponseWriter, r *http.Request) {
	pk := publicKeyFilter(r)
	proj, err := s.queries.Rejected(r.Context(), actor.New(userIDFrom(r), pk), pk)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, proj)
}

func publicKeyFilter(r *http.Request) *string {
	if v := r.URL.Query().Get("publicKey"); v != "" {
		return &v
	}
	return nil
}

// --- Completion/Rejection Manager (C7) ---------------------------------------

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UpdateID         string `json:"updateId"`
		MatchedPublicKey string `json:"matchedPublicKey"`
		Reason           string `json:"reason"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	key := completion.Key{
		UserID: userIDFrom(r), RuleID: pathVar(r, "ruleId"),
		UpdateID: body.UpdateID, MatchedPublicKey: body.MatchedPublicKey,
	}
	updated, err := s.completion.MarkRejected(r.Context(), key, body.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UpdateID         string `json:"updateId"`
		MatchedPublicKey string `json:"matchedPublicKey"`
		TransactionHash  string `json:"transactionHash"`
		Success          bool   `json:"success"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	key := completion.Key{
		UserID: userIDFrom(r), RuleID: pathVar(r, "ruleId"),
		UpdateID: body.UpdateID, MatchedPublicKey: body.MatchedPublicKey,
	}
	updated, err := s.completion.MarkCompleted(r.Context(), key, body.TransactionHash, body.Success)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// --- Executor (C6) -----------------------------------------------------------

// executeRequestBody is the flat wire shape of the execute/test-function body
// (spec.md §6): `{function_name, parameters, user_public_key, user_secret_key?,
// rule_id?, update_id?, matched_public_key?, payment_source?,
// passkeyPublicKeySPKI?, webauthnSignature?, webauthnAuthenticatorData?,
// webauthnClientData?, signaturePayload?, submit_to_ledger?}`. It exists
// because encoding/json only folds case, never flattens nested structs or
// renames fields, so this maps onto execution.Request by hand.
type executeRequestBody struct {
	FunctionName              string                  `json:"function_name"`
	Parameters                map[string]interface{}  `json:"parameters"`
	UserPublicKey             string                  `json:"user_public_key"`
	UserSecretKey             string                  `json:"user_secret_key"`
	RuleID                    string                  `json:"rule_id"`
	UpdateID                  string                  `json:"update_id"`
	MatchedPublicKey          string                  `json:"matched_public_key"`
	PaymentSource             string                  `json:"payment_source"`
	PasskeyPublicKeySPKI      string                  `json:"passkeyPublicKeySPKI"`
	WebauthnSignature         string                  `json:"webauthnSignature"`
	WebauthnAuthenticatorData string                  `json:"webauthnAuthenticatorData"`
	WebauthnClientData        string                  `json:"webauthnClientData"`
	SignaturePayload          json.RawMessage         `json:"signaturePayload"`
	SubmitToLedger            bool                    `json:"submit_to_ledger"`
}

func decodeExecuteRequest(r *http.Request) (execution.Request, error) {
	var body executeRequestBody
	if err := decodeJSON(r, &body); err != nil {
		return execution.Request{}, err
	}
	return execution.Request{
		ContractID:    pathVar(r, "id"),
		UserID:        userIDFrom(r),
		FunctionName:  body.FunctionName,
		Parameters:    body.Parameters,
		UserPublicKey: body.UserPublicKey,
		Creds: execution.Credentials{
			SecretKey:                 body.UserSecretKey,
			PasskeyPublicKeySPKIHex:   body.PasskeyPublicKeySPKI,
			WebauthnSignatureHex:      body.WebauthnSignature,
			WebauthnAuthenticatorData: body.WebauthnAuthenticatorData,
			WebauthnClientData:        body.WebauthnClientData,
			SignaturePayload:          []byte(body.SignaturePayload),
		},
		Opts: execution.Options{
			RuleID:           body.RuleID,
			UpdateID:         body.UpdateID,
			MatchedPublicKey: body.MatchedPublicKey,
			PaymentSource:    body.PaymentSource,
			SubmitToLedger:   body.SubmitToLedger,
		},
	}, nil
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	req, err := decodeExecuteRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := s.executeRequest(r, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleTestFunction(w http.ResponseWriter, r *http.Request) {
	req, err := decodeExecuteRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	req.Opts.SubmitToLedger = false
	result, err := s.executeRequest(r, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// executeRequest refuses with QuorumUnmet when rule_id names a rule that has
// required wallets and its quorum is not met, then hands off to the Executor.
func (s *Server) executeRequest(r *http.Request, req execution.Request) (interface{}, error) {
	if req.Opts.RuleID != "" {
		q, err := s.ruleStore.CheckQuorum(r.Context(), req.Opts.RuleID)
		if err != nil {
			return nil, err
		}
		if !q.QuorumMet && len(q.WalletsInRange)+len(q.WalletsOutOfRange) > 0 {
			return nil, apierror.QuorumUnmet(q.WalletsInRange, q.WalletsOutOfRange, q.MinimumRequired)
		}
	}
	return s.executorImpl.Execute(r.Context(), req)
}

func parseLatLngRadius(r *http.Request) (lat, lng, radiusMeters float64, err error) {
	q := r.URL.Query()
	lat, err = strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil {
		return 0, 0, 0, apierror.Validation("lat must be a valid float, got %q", q.Get("lat"))
	}
	lng, err = strconv.ParseFloat(q.Get("lng"), 64)
	if err != nil {
		return 0, 0, 0, apierror.Validation("lng must be a valid float, got %q", q.Get("lng"))
	}
	if v := q.Get("radiusMeters"); v != "" {
		radiusMeters, err = strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, 0, 0, apierror.Validation("radiusMeters must be a valid float, got %q", v)
		}
	} else {
		radiusMeters = 1000
	}
	return lat, lng, radiusMeters, nil
}
