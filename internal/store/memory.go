package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

type memRef struct {
	ref       MediaRef
	expiresAt time.Time // zero = never
}

type memUTR struct {
	paymentID int64
	expiresAt time.Time
}

// Memory is the in-process backend. One mutex guards everything; the
// workload is small lookups and counters, never held across I/O.
type Memory struct {
	mu sync.Mutex

	historyLimit int

	refs     map[string]memRef
	history  []string // tokens, newest first
	sections map[string]Section
	members  map[string][]string // section id -> tokens, newest first
	current  *Section

	credits map[int64]int64

	paySeq   int64
	payments map[int64]PaymentRequest
	payOrder []int64 // ids, newest first

	plan       *PayPlan
	upiID      string
	pendingUTR map[int64]memUTR

	views    map[string]int64
	viewers  map[string]map[string]struct{}
	likes    map[string]map[int64]struct{}
	dislikes map[string]map[int64]struct{}

	now func() time.Time
}

func NewMemory(historyLimit int) *Memory {
	if historyLimit <= 0 {
		historyLimit = 2000
	}
	return &Memory{
		historyLimit: historyLimit,
		refs:         make(map[string]memRef),
		sections:     make(map[string]Section),
		members:      make(map[string][]string),
		credits:      make(map[int64]int64),
		payments:     make(map[int64]PaymentRequest),
		pendingUTR:   make(map[int64]memUTR),
		views:        make(map[string]int64),
		viewers:      make(map[string]map[string]struct{}),
		likes:        make(map[string]map[int64]struct{}),
		dislikes:     make(map[string]map[int64]struct{}),
		now:          time.Now,
	}
}

func (m *Memory) Put(_ context.Context, token string, ref MediaRef, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ref.CreatedAt.IsZero() {
		ref.CreatedAt = m.now()
	}
	e := memRef{ref: ref}
	if ttl > 0 {
		e.expiresAt = ref.CreatedAt.Add(ttl)
	}
	_, existed := m.refs[token]
	m.refs[token] = e
	if !existed {
		m.history = pushBounded(m.history, token, m.historyLimit)
		if ref.SectionID != "" {
			m.members[ref.SectionID] = pushBounded(m.members[ref.SectionID], token, m.historyLimit)
		}
	}
	return nil
}

func pushBounded(list []string, v string, limit int) []string {
	list = append([]string{v}, list...)
	if len(list) > limit {
		list = list[:limit]
	}
	return list
}

func (m *Memory) Get(_ context.Context, token string) (MediaRef, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.refs[token]
	if !ok {
		return MediaRef{}, false, nil
	}
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		delete(m.refs, token)
		return MediaRef{}, false, nil
	}
	return e.ref, true, nil
}

func (m *Memory) ListRecent(_ context.Context, limit int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.collect(m.history, limit), nil
}

func (m *Memory) ListSection(_ context.Context, sectionID string, limit int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.collect(m.members[sectionID], limit), nil
}

// collect resolves live tokens only; expired ones stay for the janitor.
// limit <= 0 means no cap.
func (m *Memory) collect(tokens []string, limit int) []Entry {
	if limit < 0 {
		limit = 0
	}
	now := m.now()
	out := make([]Entry, 0, limit)
	for _, t := range tokens {
		if limit > 0 && len(out) >= limit {
			break
		}
		e, ok := m.refs[t]
		if !ok {
			continue
		}
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			continue
		}
		out = append(out, Entry{Token: t, Ref: e.ref})
	}
	return out
}

func (m *Memory) CreateSection(_ context.Context, name string) (Section, error) {
	norm := NormalizeSectionName(name)
	slug := Slugify(norm)
	if slug == "" {
		return Section{}, ErrSectionExists
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sections[slug]; ok {
		return Section{}, ErrSectionExists
	}
	sec := Section{ID: slug, Name: strings.Join(strings.Fields(name), " ")}
	m.sections[slug] = sec
	return sec, nil
}

func (m *Memory) DeleteSection(_ context.Context, name string) (bool, error) {
	slug := Slugify(NormalizeSectionName(name))

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sections[slug]; !ok {
		return false, nil
	}
	delete(m.sections, slug)
	delete(m.members, slug)
	if m.current != nil && m.current.ID == slug {
		m.current = nil
	}
	return true, nil
}

func (m *Memory) Sections(_ context.Context) ([]Section, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Section, 0, len(m.sections))
	for _, s := range m.sections {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) SetCurrentSection(_ context.Context, sec Section) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = &sec
	return nil
}

func (m *Memory) ClearCurrentSection(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = nil
	return nil
}

func (m *Memory) CurrentSection(_ context.Context) (Section, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return Section{}, false, nil
	}
	return *m.current, true, nil
}

func (m *Memory) Credits(_ context.Context, userID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.credits[userID], nil
}

func (m *Memory) AddCredits(_ context.Context, userID, n int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n > 0 {
		m.credits[userID] += n
	}
	return m.credits[userID], nil
}

func (m *Memory) ChargeCredits(_ context.Context, userID, n int64) (bool, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bal := m.credits[userID]
	if n <= 0 {
		return true, bal, nil
	}
	if bal < n {
		return false, bal, nil
	}
	bal -= n
	m.credits[userID] = bal
	return true, bal, nil
}

func (m *Memory) CreditBalances(_ context.Context, limit int) ([]Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Balance, 0, len(m.credits))
	for u, c := range m.credits {
		if c != 0 {
			out = append(out, Balance{UserID: u, Credits: c})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Credits != out[j].Credits {
			return out[i].Credits > out[j].Credits
		}
		return out[i].UserID < out[j].UserID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) CreatePaymentRequest(_ context.Context, userID int64, amount float64, credits int64) (PaymentRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paySeq++
	now := m.now()
	req := PaymentRequest{
		ID:        m.paySeq,
		UserID:    userID,
		AmountINR: amount,
		Credits:   credits,
		Status:    PayPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.payments[req.ID] = req
	m.payOrder = append([]int64{req.ID}, m.payOrder...)
	return req, nil
}

func (m *Memory) PaymentRequest(_ context.Context, id int64) (PaymentRequest, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.payments[id]
	return req, ok, nil
}

func (m *Memory) SetPaymentStatus(_ context.Context, id int64, status PayStatus, note string, adminID int64) (PaymentRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.payments[id]
	if !ok {
		return PaymentRequest{}, ErrNotFound
	}
	if req.Status.Terminal() {
		return req, ErrAlreadyFinalized
	}
	if !canTransition(req.Status, status) {
		return req, ErrBadTransition
	}
	req.Status = status
	req.UpdatedAt = m.now()
	if note != "" {
		req.Note = note
	}
	if adminID != 0 {
		req.AdminID = adminID
	}
	if status == PayApproved && req.Credits > 0 {
		m.credits[req.UserID] += req.Credits
	}
	m.payments[id] = req
	return req, nil
}

func (m *Memory) SetPaymentPrompt(_ context.Context, id, chatID, messageID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.payments[id]
	if !ok {
		return ErrNotFound
	}
	req.PromptChatID = chatID
	req.PromptMessageID = messageID
	m.payments[id] = req
	return nil
}

func (m *Memory) ListPaymentRequests(_ context.Context, status PayStatus, limit int) ([]PaymentRequest, error) {
	if limit < 0 {
		limit = 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PaymentRequest, 0, limit)
	for _, id := range m.payOrder {
		if limit > 0 && len(out) >= limit {
			break
		}
		req := m.payments[id]
		if status != "" && req.Status != status {
			continue
		}
		out = append(out, req)
	}
	return out, nil
}

func (m *Memory) PayPlan(_ context.Context) (PayPlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.plan == nil {
		return PayPlan{Price: DefaultPlanPrice, Text: DefaultPlanText}, nil
	}
	return *m.plan, nil
}

func (m *Memory) SetPayPlan(_ context.Context, plan PayPlan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plan = &plan
	return nil
}

func (m *Memory) UPIID(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upiID, nil
}

func (m *Memory) SetUPIID(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upiID = id
	return nil
}

func (m *Memory) MarkPendingUTR(_ context.Context, userID, paymentID int64, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := memUTR{paymentID: paymentID}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.pendingUTR[userID] = e
	return nil
}

func (m *Memory) PendingUTR(_ context.Context, userID int64) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.pendingUTR[userID]
	if !ok {
		return 0, false, nil
	}
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		delete(m.pendingUTR, userID)
		return 0, false, nil
	}
	return e.paymentID, true, nil
}

func (m *Memory) ClearPendingUTR(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pendingUTR, userID)
	return nil
}

func (m *Memory) IncrementView(_ context.Context, token, fingerprint string) (int64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.views[token]++
	set := m.viewers[token]
	if set == nil {
		set = make(map[string]struct{})
		m.viewers[token] = set
	}
	set[fingerprint] = struct{}{}
	return m.views[token], int64(len(set)), nil
}

func (m *Memory) Reactions(_ context.Context, token string, userID int64) (int64, int64, Reaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reactionsLocked(token, userID)
}

func (m *Memory) SetReaction(_ context.Context, token string, userID int64, choice Reaction) (int64, int64, Reaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.likes[token], userID)
	delete(m.dislikes[token], userID)
	switch choice {
	case ReactionLike:
		if m.likes[token] == nil {
			m.likes[token] = make(map[int64]struct{})
		}
		m.likes[token][userID] = struct{}{}
	case ReactionDislike:
		if m.dislikes[token] == nil {
			m.dislikes[token] = make(map[int64]struct{})
		}
		m.dislikes[token][userID] = struct{}{}
	}
	return m.reactionsLocked(token, userID)
}

func (m *Memory) reactionsLocked(token string, userID int64) (int64, int64, Reaction, error) {
	mine := ReactionNone
	if _, ok := m.likes[token][userID]; ok {
		mine = ReactionLike
	} else if _, ok := m.dislikes[token][userID]; ok {
		mine = ReactionDislike
	}
	return int64(len(m.likes[token])), int64(len(m.dislikes[token])), mine, nil
}

// Sweep drops expired tokens and pending-UTR markers. The janitor calls
// this periodically; Redis expires its keys natively.
func (m *Memory) Sweep(now time.Time) (removed int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for token, e := range m.refs {
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			delete(m.refs, token)
			removed++
		}
	}
	for user, e := range m.pendingUTR {
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			delete(m.pendingUTR, user)
			removed++
		}
	}
	return removed
}
