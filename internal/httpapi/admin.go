package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"streamgate/internal/middleware"
	"streamgate/internal/premium"
	"streamgate/internal/store"
)

// AdminAPI is the JSON control surface: token minting, sections, the
// credit ledger, payment requests and reactions. Premium is nil when no
// database is configured.
type AdminAPI struct {
	Store    store.Store
	Premium  *premium.Store
	BaseURL  string
	TokenTTL time.Duration
	AdminIDs []int64
}

func (a *AdminAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("/api/", a.requireAdmin(http.HandlerFunc(a.route)))
}

// requireAdmin gates the control surface on X-Admin-Id when ADMIN_IDS is
// configured; an empty roster leaves the surface open for local setups.
func (a *AdminAPI) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		middleware.EnableCORS(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if len(a.AdminIDs) > 0 {
			id, err := strconv.ParseInt(r.Header.Get("X-Admin-Id"), 10, 64)
			if err != nil || !a.isAdmin(id) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (a *AdminAPI) isAdmin(id int64) bool {
	for _, v := range a.AdminIDs {
		if v == id {
			return true
		}
	}
	return false
}

func (a *AdminAPI) route(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api")
	switch {
	case path == "/media" && r.Method == http.MethodPost:
		a.handleCreateMedia(w, r)
	case path == "/recent" && r.Method == http.MethodGet:
		a.handleRecent(w, r)
	case path == "/sections" && r.Method == http.MethodGet:
		a.handleListSections(w, r)
	case path == "/sections" && r.Method == http.MethodPost:
		a.handleCreateSection(w, r)
	case path == "/sections" && r.Method == http.MethodDelete:
		a.handleDeleteSection(w, r)
	case path == "/sections/current" && r.Method == http.MethodGet:
		a.handleCurrentSection(w, r)
	case path == "/sections/current" && r.Method == http.MethodPut:
		a.handleSetCurrentSection(w, r)
	case path == "/sections/current" && r.Method == http.MethodDelete:
		a.handleClearCurrentSection(w, r)
	case strings.HasPrefix(path, "/sections/") && r.Method == http.MethodGet:
		a.handleSectionItems(w, r, strings.TrimPrefix(path, "/sections/"))
	case path == "/credits" && r.Method == http.MethodGet:
		a.handleBalances(w, r)
	case strings.HasPrefix(path, "/credits/"):
		a.handleCredits(w, r, strings.TrimPrefix(path, "/credits/"))
	case path == "/payments" && r.Method == http.MethodPost:
		a.handleCreatePayment(w, r)
	case path == "/payments" && r.Method == http.MethodGet:
		a.handleListPayments(w, r)
	case strings.HasPrefix(path, "/payments/"):
		a.handlePayment(w, r, strings.TrimPrefix(path, "/payments/"))
	case strings.HasPrefix(path, "/pending-utr/") && r.Method == http.MethodGet:
		a.handlePendingUTR(w, r, strings.TrimPrefix(path, "/pending-utr/"))
	case path == "/payplan" && r.Method == http.MethodGet:
		a.handleGetPayPlan(w, r)
	case path == "/payplan" && r.Method == http.MethodPut:
		a.handleSetPayPlan(w, r)
	case path == "/upi" && r.Method == http.MethodGet:
		a.handleGetUPI(w, r)
	case path == "/upi" && r.Method == http.MethodPut:
		a.handleSetUPI(w, r)
	case path == "/reactions" && r.Method == http.MethodGet:
		a.handleGetReactions(w, r)
	case path == "/reactions" && r.Method == http.MethodPut:
		a.handleSetReaction(w, r)
	case strings.HasPrefix(path, "/premium"):
		a.handlePremium(w, r, strings.TrimPrefix(path, "/premium"))
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "bad json: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

type createMediaReq struct {
	ChatID       int64  `json:"chat_id"`
	MessageID    int64  `json:"message_id"`
	FileID       string `json:"file_id"`
	FileUniqueID string `json:"file_unique_id"`
	FileName     string `json:"file_name"`
	MimeType     string `json:"mime_type"`
	FileSize     *int64 `json:"file_size"`
	MediaType    string `json:"media_type"`
	Premium      bool   `json:"premium"`
	SectionID    string `json:"section_id"`
}

type createMediaResp struct {
	Token     string `json:"token"`
	StreamURL string `json:"stream_url"`
	ExpiresIn int64  `json:"expires_in_seconds"`
}

// handleCreateMedia registers a media reference and mints its stream
// token. With no explicit section the current section pointer applies.
func (a *AdminAPI) handleCreateMedia(w http.ResponseWriter, r *http.Request) {
	var req createMediaReq
	if !readJSON(w, r, &req) {
		return
	}
	if req.FileID == "" && (req.ChatID == 0 || req.MessageID == 0) {
		http.Error(w, "need file_id or chat_id+message_id", http.StatusBadRequest)
		return
	}
	ref := store.MediaRef{
		ChatID:       req.ChatID,
		MessageID:    req.MessageID,
		FileID:       req.FileID,
		FileUniqueID: req.FileUniqueID,
		FileName:     req.FileName,
		MimeType:     req.MimeType,
		FileSize:     req.FileSize,
		MediaType:    req.MediaType,
		Access:       store.AccessNormal,
		CreatedAt:    time.Now(),
		SectionID:    req.SectionID,
	}
	if req.Premium {
		ref.Access = store.AccessPremium
	}
	if ref.SectionID == "" {
		if cur, ok, err := a.Store.CurrentSection(r.Context()); err == nil && ok {
			ref.SectionID, ref.SectionName = cur.ID, cur.Name
		}
	}

	token := store.NewToken()
	if err := a.Store.Put(r.Context(), token, ref, a.TokenTTL); err != nil {
		log.Printf("[token] put failed: %v", err)
		http.Error(w, "store error", http.StatusInternalServerError)
		return
	}
	log.Printf("[token] minted token=%s file=%q section=%q ttl=%s", token, ref.FileName, ref.SectionID, a.TokenTTL)
	writeJSON(w, http.StatusCreated, createMediaResp{
		Token:     token,
		StreamURL: a.BaseURL + "/stream/" + token,
		ExpiresIn: int64(a.TokenTTL / time.Second),
	})
}

func (a *AdminAPI) handleRecent(w http.ResponseWriter, r *http.Request) {
	entries, err := a.Store.ListRecent(r.Context(), queryInt(r, "limit", 50))
	if err != nil {
		http.Error(w, "store error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (a *AdminAPI) handleListSections(w http.ResponseWriter, r *http.Request) {
	secs, err := a.Store.Sections(r.Context())
	if err != nil {
		http.Error(w, "store error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, secs)
}

func (a *AdminAPI) handleCreateSection(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	sec, err := a.Store.CreateSection(r.Context(), req.Name)
	if errors.Is(err, store.ErrSectionExists) {
		http.Error(w, "section exists", http.StatusConflict)
		return
	}
	if err != nil {
		http.Error(w, "store error", http.StatusInternalServerError)
		return
	}
	log.Printf("[store] section created id=%s name=%q", sec.ID, sec.Name)
	writeJSON(w, http.StatusCreated, sec)
}

func (a *AdminAPI) handleDeleteSection(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	ok, err := a.Store.DeleteSection(r.Context(), name)
	if err != nil {
		http.Error(w, "store error", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "no such section", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *AdminAPI) handleSectionItems(w http.ResponseWriter, r *http.Request, id string) {
	entries, err := a.Store.ListSection(r.Context(), id, queryInt(r, "limit", 50))
	if err != nil {
		http.Error(w, "store error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (a *AdminAPI) handleCurrentSection(w http.ResponseWriter, r *http.Request) {
	sec, ok, err := a.Store.CurrentSection(r.Context())
	if err != nil {
		http.Error(w, "store error", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "no current section", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, sec)
}

func (a *AdminAPI) handleSetCurrentSection(w http.ResponseWriter, r *http.Request) {
	var sec store.Section
	if !readJSON(w, r, &sec) {
		return
	}
	if sec.ID == "" {
		http.Error(w, "need id", http.StatusBadRequest)
		return
	}
	if err := a.Store.SetCurrentSection(r.Context(), sec); err != nil {
		http.Error(w, "store error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *AdminAPI) handleClearCurrentSection(w http.ResponseWriter, r *http.Request) {
	if err := a.Store.ClearCurrentSection(r.Context()); err != nil {
		http.Error(w, "store error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *AdminAPI) handleBalances(w http.ResponseWriter, r *http.Request) {
	out, err := a.Store.CreditBalances(r.Context(), queryInt(r, "limit", 100))
	if err != nil {
		http.Error(w, "store error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// handleCredits serves /api/credits/{user} and the add/charge actions.
func (a *AdminAPI) handleCredits(w http.ResponseWriter, r *http.Request, rest string) {
	userStr, action, _ := strings.Cut(rest, "/")
	userID, err := strconv.ParseInt(userStr, 10, 64)
	if err != nil {
		http.Error(w, "bad user id", http.StatusBadRequest)
		return
	}
	switch {
	case action == "" && r.Method == http.MethodGet:
		bal, err := a.Store.Credits(r.Context(), userID)
		if err != nil {
			http.Error(w, "store error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, store.Balance{UserID: userID, Credits: bal})
	case action == "add" && r.Method == http.MethodPost:
		var req struct {
			N int64 `json:"n"`
		}
		if !readJSON(w, r, &req) {
			return
		}
		bal, err := a.Store.AddCredits(r.Context(), userID, req.N)
		if err != nil {
			http.Error(w, "store error", http.StatusInternalServerError)
			return
		}
		log.Printf("[pay] credits added user=%d n=%d balance=%d", userID, req.N, bal)
		writeJSON(w, http.StatusOK, store.Balance{UserID: userID, Credits: bal})
	case action == "charge" && r.Method == http.MethodPost:
		var req struct {
			N int64 `json:"n"`
		}
		if !readJSON(w, r, &req) {
			return
		}
		ok, bal, err := a.Store.ChargeCredits(r.Context(), userID, req.N)
		if err != nil {
			http.Error(w, "store error", http.StatusInternalServerError)
			return
		}
		if !ok {
			writeJSON(w, http.StatusPaymentRequired, store.Balance{UserID: userID, Credits: bal})
			return
		}
		writeJSON(w, http.StatusOK, store.Balance{UserID: userID, Credits: bal})
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (a *AdminAPI) handleCreatePayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID  int64   `json:"user_id"`
		Amount  float64 `json:"amount_inr"`
		Credits int64   `json:"credits"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	if req.UserID == 0 || req.Credits <= 0 {
		http.Error(w, "need user_id and positive credits", http.StatusBadRequest)
		return
	}
	if req.Amount <= 0 {
		plan, err := a.Store.PayPlan(r.Context())
		if err != nil {
			http.Error(w, "store error", http.StatusInternalServerError)
			return
		}
		req.Amount = plan.Price * float64(req.Credits)
	}
	pr, err := a.Store.CreatePaymentRequest(r.Context(), req.UserID, req.Amount, req.Credits)
	if err != nil {
		http.Error(w, "store error", http.StatusInternalServerError)
		return
	}
	log.Printf("[pay] request created id=%d user=%d credits=%d amount=%.2f", pr.ID, pr.UserID, pr.Credits, pr.AmountINR)
	writeJSON(w, http.StatusCreated, pr)
}

func (a *AdminAPI) handleListPayments(w http.ResponseWriter, r *http.Request) {
	status := store.PayStatus(r.URL.Query().Get("status"))
	out, err := a.Store.ListPaymentRequests(r.Context(), status, queryInt(r, "limit", 50))
	if err != nil {
		http.Error(w, "store error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// handlePayment serves /api/payments/{id} and its status transition.
func (a *AdminAPI) handlePayment(w http.ResponseWriter, r *http.Request, rest string) {
	idStr, action, _ := strings.Cut(rest, "/")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		http.Error(w, "bad payment id", http.StatusBadRequest)
		return
	}
	switch {
	case action == "" && r.Method == http.MethodGet:
		pr, ok, err := a.Store.PaymentRequest(r.Context(), id)
		if err != nil {
			http.Error(w, "store error", http.StatusInternalServerError)
			return
		}
		if !ok {
			http.Error(w, "no such payment", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, pr)
	case action == "status" && r.Method == http.MethodPost:
		var req struct {
			Status  store.PayStatus `json:"status"`
			Note    string          `json:"note"`
			AdminID int64           `json:"admin_id"`
		}
		if !readJSON(w, r, &req) {
			return
		}
		pr, err := a.Store.SetPaymentStatus(r.Context(), id, req.Status, req.Note, req.AdminID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			http.Error(w, "no such payment", http.StatusNotFound)
		case errors.Is(err, store.ErrAlreadyFinalized):
			http.Error(w, "payment already finalized", http.StatusConflict)
		case errors.Is(err, store.ErrBadTransition):
			http.Error(w, "illegal transition", http.StatusUnprocessableEntity)
		case err != nil:
			http.Error(w, "store error", http.StatusInternalServerError)
		default:
			log.Printf("[pay] request %d -> %s by admin=%d", pr.ID, pr.Status, req.AdminID)
			writeJSON(w, http.StatusOK, pr)
		}
	case action == "await-utr" && r.Method == http.MethodPost:
		var req struct {
			ChatID     int64 `json:"chat_id"`
			MessageID  int64 `json:"message_id"`
			TTLSeconds int64 `json:"ttl_seconds"`
		}
		if !readJSON(w, r, &req) {
			return
		}
		pr, ok, err := a.Store.PaymentRequest(r.Context(), id)
		if err != nil {
			http.Error(w, "store error", http.StatusInternalServerError)
			return
		}
		if !ok {
			http.Error(w, "no such payment", http.StatusNotFound)
			return
		}
		ttl := time.Duration(req.TTLSeconds) * time.Second
		if ttl <= 0 {
			ttl = 30 * time.Minute
		}
		if err := a.Store.MarkPendingUTR(r.Context(), pr.UserID, id, ttl); err != nil {
			http.Error(w, "store error", http.StatusInternalServerError)
			return
		}
		if req.ChatID != 0 && req.MessageID != 0 {
			if err := a.Store.SetPaymentPrompt(r.Context(), id, req.ChatID, req.MessageID); err != nil {
				log.Printf("[pay] prompt save failed id=%d: %v", id, err)
			}
		}
		w.WriteHeader(http.StatusNoContent)
	case action == "submit" && r.Method == http.MethodPost:
		var req struct {
			UTR string `json:"utr"`
		}
		if !readJSON(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.UTR) == "" {
			http.Error(w, "need utr", http.StatusBadRequest)
			return
		}
		pr, err := a.Store.SetPaymentStatus(r.Context(), id, store.PaySubmitted, "utr:"+strings.TrimSpace(req.UTR), 0)
		switch {
		case errors.Is(err, store.ErrNotFound):
			http.Error(w, "no such payment", http.StatusNotFound)
		case errors.Is(err, store.ErrAlreadyFinalized):
			http.Error(w, "payment already finalized", http.StatusConflict)
		case errors.Is(err, store.ErrBadTransition):
			http.Error(w, "illegal transition", http.StatusUnprocessableEntity)
		case err != nil:
			http.Error(w, "store error", http.StatusInternalServerError)
		default:
			_ = a.Store.ClearPendingUTR(r.Context(), pr.UserID)
			log.Printf("[pay] utr submitted id=%d user=%d", pr.ID, pr.UserID)
			writeJSON(w, http.StatusOK, pr)
		}
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (a *AdminAPI) handlePendingUTR(w http.ResponseWriter, r *http.Request, rest string) {
	userID, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		http.Error(w, "bad user id", http.StatusBadRequest)
		return
	}
	id, ok, err := a.Store.PendingUTR(r.Context(), userID)
	if err != nil {
		http.Error(w, "store error", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "no pending utr", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"payment_id": id})
}

func (a *AdminAPI) handleGetPayPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := a.Store.PayPlan(r.Context())
	if err != nil {
		http.Error(w, "store error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (a *AdminAPI) handleSetPayPlan(w http.ResponseWriter, r *http.Request) {
	var plan store.PayPlan
	if !readJSON(w, r, &plan) {
		return
	}
	if plan.Price <= 0 {
		http.Error(w, "need positive price", http.StatusBadRequest)
		return
	}
	if err := a.Store.SetPayPlan(r.Context(), plan); err != nil {
		http.Error(w, "store error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *AdminAPI) handleGetUPI(w http.ResponseWriter, r *http.Request) {
	id, err := a.Store.UPIID(r.Context())
	if err != nil {
		http.Error(w, "store error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"upi_id": id})
}

func (a *AdminAPI) handleSetUPI(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UPIID string `json:"upi_id"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	if err := a.Store.SetUPIID(r.Context(), req.UPIID); err != nil {
		http.Error(w, "store error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type reactionResp struct {
	Likes    int64          `json:"likes"`
	Dislikes int64          `json:"dislikes"`
	Mine     store.Reaction `json:"mine"`
}

func (a *AdminAPI) handleGetReactions(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	user, _ := strconv.ParseInt(r.URL.Query().Get("user"), 10, 64)
	likes, dislikes, mine, err := a.Store.Reactions(r.Context(), token, user)
	if err != nil {
		http.Error(w, "store error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, reactionResp{Likes: likes, Dislikes: dislikes, Mine: mine})
}

func (a *AdminAPI) handleSetReaction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token  string         `json:"token"`
		UserID int64          `json:"user_id"`
		Choice store.Reaction `json:"choice"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	if req.Choice != store.ReactionNone && req.Choice != store.ReactionLike && req.Choice != store.ReactionDislike {
		http.Error(w, "choice must be -1, 0 or 1", http.StatusBadRequest)
		return
	}
	likes, dislikes, mine, err := a.Store.SetReaction(r.Context(), req.Token, req.UserID, req.Choice)
	if err != nil {
		http.Error(w, "store error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, reactionResp{Likes: likes, Dislikes: dislikes, Mine: mine})
}

// handlePremium serves the membership roster when Postgres is configured.
func (a *AdminAPI) handlePremium(w http.ResponseWriter, r *http.Request, rest string) {
	if a.Premium == nil {
		http.Error(w, "premium store not configured", http.StatusNotImplemented)
		return
	}
	rest = strings.TrimPrefix(rest, "/")
	switch {
	case rest == "" && r.Method == http.MethodGet:
		members, err := a.Premium.ListPremium(r.Context())
		if err != nil {
			http.Error(w, "db error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, members)
	case rest != "" && r.Method == http.MethodGet:
		userID, err := strconv.ParseInt(rest, 10, 64)
		if err != nil {
			http.Error(w, "bad user id", http.StatusBadRequest)
			return
		}
		ok, err := a.Premium.IsPremium(r.Context(), userID)
		if err != nil {
			http.Error(w, "db error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"premium": ok})
	case rest != "" && r.Method == http.MethodPost:
		userID, err := strconv.ParseInt(rest, 10, 64)
		if err != nil {
			http.Error(w, "bad user id", http.StatusBadRequest)
			return
		}
		var req struct {
			Days *int `json:"days"`
		}
		if !readJSON(w, r, &req) {
			return
		}
		if err := a.Premium.Add(r.Context(), userID, req.Days); err != nil {
			http.Error(w, "db error", http.StatusInternalServerError)
			return
		}
		log.Printf("[pay] premium granted user=%d days=%v", userID, req.Days)
		w.WriteHeader(http.StatusNoContent)
	case rest != "" && r.Method == http.MethodDelete:
		userID, err := strconv.ParseInt(rest, 10, 64)
		if err != nil {
			http.Error(w, "bad user id", http.StatusBadRequest)
			return
		}
		ok, err := a.Premium.Remove(r.Context(), userID)
		if err != nil {
			http.Error(w, "db error", http.StatusInternalServerError)
			return
		}
		if !ok {
			http.Error(w, "not premium", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

// queryInt rejects negative values; a malformed or negative limit falls
// back to the default instead of reaching the store.
func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}
