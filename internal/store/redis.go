package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyHistory     = "sg:history"
	keySections    = "sg:sections"
	keyCurrent     = "sg:current-section"
	keyCreditUsers = "sg:credit:users"
	keyPaySeq      = "sg:pay:seq"
	keyPayIndex    = "sg:pay:index"
	keyPayPlan     = "sg:payplan"
	keyUPI         = "sg:upi"

	// Bounded retries for optimistic transactions under contention.
	txRetries = 16

	payIndexLimit = 10000
)

func refKey(token string) string        { return "sg:ref:" + token }
func sectionKey(id string) string       { return "sg:section:" + id }
func creditsKey(user int64) string      { return "sg:credits:" + strconv.FormatInt(user, 10) }
func payReqKey(id int64) string         { return "sg:pay:req:" + strconv.FormatInt(id, 10) }
func pendingUTRKey(user int64) string   { return "sg:pendingutr:" + strconv.FormatInt(user, 10) }
func viewsKey(token string) string      { return "sg:views:" + token }
func viewersKey(token string) string    { return "sg:viewers:" + token }
func likesKey(token string) string      { return "sg:likes:" + token }
func dislikesKey(token string) string   { return "sg:dislikes:" + token }

// Redis is the durable backend. Token TTLs ride on native key expiry;
// the atomic ledger and payment operations use WATCH/MULTI optimistic
// transactions with bounded retries.
type Redis struct {
	rdb          *redis.Client
	historyLimit int
}

func NewRedis(rdb *redis.Client, historyLimit int) *Redis {
	if historyLimit <= 0 {
		historyLimit = 2000
	}
	return &Redis{rdb: rdb, historyLimit: historyLimit}
}

// Ping verifies the connection at boot.
func (r *Redis) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *Redis) Put(ctx context.Context, token string, ref MediaRef, ttl time.Duration) error {
	if ref.CreatedAt.IsZero() {
		ref.CreatedAt = time.Now()
	}
	blob, err := json.Marshal(ref)
	if err != nil {
		return err
	}
	if ttl < 0 {
		ttl = 0
	}
	// SET ... GET writes and reports prior existence in one command, so
	// concurrent first Puts of the same token race on the server and only
	// one of them pushes the list entries.
	_, err = r.rdb.SetArgs(ctx, refKey(token), blob, redis.SetArgs{TTL: ttl, Get: true}).Result()
	existed := true
	if err == redis.Nil {
		existed = false
	} else if err != nil {
		return err
	}
	if existed {
		return nil
	}
	_, err = r.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, keyHistory, token)
		pipe.LTrim(ctx, keyHistory, 0, int64(r.historyLimit)-1)
		if ref.SectionID != "" {
			pipe.LPush(ctx, sectionKey(ref.SectionID), token)
			pipe.LTrim(ctx, sectionKey(ref.SectionID), 0, int64(r.historyLimit)-1)
		}
		return nil
	})
	return err
}

func (r *Redis) Get(ctx context.Context, token string) (MediaRef, bool, error) {
	blob, err := r.rdb.Get(ctx, refKey(token)).Bytes()
	if err == redis.Nil {
		return MediaRef{}, false, nil
	}
	if err != nil {
		return MediaRef{}, false, err
	}
	var ref MediaRef
	if err := json.Unmarshal(blob, &ref); err != nil {
		return MediaRef{}, false, fmt.Errorf("decode ref %s: %w", token, err)
	}
	return ref, true, nil
}

func (r *Redis) ListRecent(ctx context.Context, limit int) ([]Entry, error) {
	return r.listTokens(ctx, keyHistory, limit)
}

func (r *Redis) ListSection(ctx context.Context, sectionID string, limit int) ([]Entry, error) {
	return r.listTokens(ctx, sectionKey(sectionID), limit)
}

// listTokens resolves a token list against the live ref keys; tokens whose
// refs have expired are skipped, the list itself is trimmed lazily on Put.
// Lists written before the atomic SET..GET detection may hold duplicates,
// so reads dedupe.
func (r *Redis) listTokens(ctx context.Context, key string, limit int) ([]Entry, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	tokens, err := r.rdb.LRange(ctx, key, 0, stop).Result()
	if err != nil {
		return nil, err
	}
	tokens = uniqueTokens(tokens)
	if len(tokens) == 0 {
		return nil, nil
	}
	keys := make([]string, len(tokens))
	for i, t := range tokens {
		keys[i] = refKey(t)
	}
	blobs, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(tokens))
	for i, raw := range blobs {
		s, ok := raw.(string)
		if !ok {
			continue
		}
		var ref MediaRef
		if err := json.Unmarshal([]byte(s), &ref); err != nil {
			continue
		}
		out = append(out, Entry{Token: tokens[i], Ref: ref})
	}
	return out, nil
}

// uniqueTokens keeps the first (most recent) occurrence of each token.
func uniqueTokens(tokens []string) []string {
	if len(tokens) < 2 {
		return tokens
	}
	seen := make(map[string]struct{}, len(tokens))
	out := tokens[:0]
	for _, t := range tokens {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func (r *Redis) CreateSection(ctx context.Context, name string) (Section, error) {
	norm := NormalizeSectionName(name)
	slug := Slugify(norm)
	if slug == "" {
		return Section{}, ErrSectionExists
	}
	sec := Section{ID: slug, Name: strings.Join(strings.Fields(name), " ")}
	blob, err := json.Marshal(sec)
	if err != nil {
		return Section{}, err
	}
	// The slug is a pure function of the normalized name, so one HSETNX
	// covers both name and slug collisions atomically.
	set, err := r.rdb.HSetNX(ctx, keySections, slug, blob).Result()
	if err != nil {
		return Section{}, err
	}
	if !set {
		return Section{}, ErrSectionExists
	}
	return sec, nil
}

func (r *Redis) DeleteSection(ctx context.Context, name string) (bool, error) {
	slug := Slugify(NormalizeSectionName(name))
	n, err := r.rdb.HDel(ctx, keySections, slug).Result()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	r.rdb.Del(ctx, sectionKey(slug))
	if cur, ok, _ := r.CurrentSection(ctx); ok && cur.ID == slug {
		r.rdb.Del(ctx, keyCurrent)
	}
	return true, nil
}

func (r *Redis) Sections(ctx context.Context) ([]Section, error) {
	raw, err := r.rdb.HGetAll(ctx, keySections).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Section, 0, len(raw))
	for _, blob := range raw {
		var sec Section
		if err := json.Unmarshal([]byte(blob), &sec); err != nil {
			continue
		}
		out = append(out, sec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *Redis) SetCurrentSection(ctx context.Context, sec Section) error {
	blob, err := json.Marshal(sec)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, keyCurrent, blob, 0).Err()
}

func (r *Redis) ClearCurrentSection(ctx context.Context) error {
	return r.rdb.Del(ctx, keyCurrent).Err()
}

func (r *Redis) CurrentSection(ctx context.Context) (Section, bool, error) {
	blob, err := r.rdb.Get(ctx, keyCurrent).Bytes()
	if err == redis.Nil {
		return Section{}, false, nil
	}
	if err != nil {
		return Section{}, false, err
	}
	var sec Section
	if err := json.Unmarshal(blob, &sec); err != nil {
		return Section{}, false, err
	}
	return sec, true, nil
}

func (r *Redis) Credits(ctx context.Context, userID int64) (int64, error) {
	n, err := r.rdb.Get(ctx, creditsKey(userID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

func (r *Redis) AddCredits(ctx context.Context, userID, n int64) (int64, error) {
	if n <= 0 {
		return r.Credits(ctx, userID)
	}
	var incr *redis.IntCmd
	_, err := r.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.IncrBy(ctx, creditsKey(userID), n)
		pipe.SAdd(ctx, keyCreditUsers, userID)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (r *Redis) ChargeCredits(ctx context.Context, userID, n int64) (bool, int64, error) {
	if n <= 0 {
		bal, err := r.Credits(ctx, userID)
		return err == nil, bal, err
	}
	key := creditsKey(userID)
	var ok bool
	var bal int64
	txf := func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Int64()
		if err != nil && err != redis.Nil {
			return err
		}
		if cur < n {
			ok, bal = false, cur
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.DecrBy(ctx, key, n)
			pipe.SAdd(ctx, keyCreditUsers, userID)
			return nil
		})
		if err != nil {
			return err
		}
		ok, bal = true, cur-n
		return nil
	}
	for i := 0; i < txRetries; i++ {
		err := r.rdb.Watch(ctx, txf, key)
		if err == nil {
			return ok, bal, nil
		}
		if err == redis.TxFailedErr {
			continue
		}
		return false, 0, err
	}
	return false, 0, errors.New("store: charge retries exhausted")
}

func (r *Redis) CreditBalances(ctx context.Context, limit int) ([]Balance, error) {
	users, err := r.rdb.SMembers(ctx, keyCreditUsers).Result()
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, nil
	}
	keys := make([]string, len(users))
	ids := make([]int64, len(users))
	for i, u := range users {
		id, err := strconv.ParseInt(u, 10, 64)
		if err != nil {
			continue
		}
		ids[i] = id
		keys[i] = creditsKey(id)
	}
	vals, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Balance, 0, len(users))
	for i, raw := range vals {
		s, okv := raw.(string)
		if !okv {
			continue
		}
		c, err := strconv.ParseInt(s, 10, 64)
		if err != nil || c == 0 {
			continue
		}
		out = append(out, Balance{UserID: ids[i], Credits: c})
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

func (r *Redis) CreatePaymentRequest(ctx context.Context, userID int64, amount float64, credits int64) (PaymentRequest, error) {
	id, err := r.rdb.Incr(ctx, keyPaySeq).Result()
	if err != nil {
		return PaymentRequest{}, err
	}
	now := time.Now()
	req := PaymentRequest{
		ID:        id,
		UserID:    userID,
		AmountINR: amount,
		Credits:   credits,
		Status:    PayPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	blob, err := json.Marshal(req)
	if err != nil {
		return PaymentRequest{}, err
	}
	_, err = r.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, payReqKey(id), blob, 0)
		pipe.LPush(ctx, keyPayIndex, id)
		pipe.LTrim(ctx, keyPayIndex, 0, payIndexLimit-1)
		return nil
	})
	if err != nil {
		return PaymentRequest{}, err
	}
	return req, nil
}

func (r *Redis) PaymentRequest(ctx context.Context, id int64) (PaymentRequest, bool, error) {
	blob, err := r.rdb.Get(ctx, payReqKey(id)).Bytes()
	if err == redis.Nil {
		return PaymentRequest{}, false, nil
	}
	if err != nil {
		return PaymentRequest{}, false, err
	}
	var req PaymentRequest
	if err := json.Unmarshal(blob, &req); err != nil {
		return PaymentRequest{}, false, err
	}
	return req, true, nil
}

// SetPaymentStatus runs the whole transition, credit grant included, as
// one optimistic transaction keyed on the request blob. Two concurrent
// approvals race on the WATCH; exactly one commits, the other re-reads a
// terminal status and fails with ErrAlreadyFinalized.
func (r *Redis) SetPaymentStatus(ctx context.Context, id int64, status PayStatus, note string, adminID int64) (PaymentRequest, error) {
	key := payReqKey(id)
	var out PaymentRequest
	var outErr error
	txf := func(tx *redis.Tx) error {
		blob, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			outErr = ErrNotFound
			return nil
		}
		if err != nil {
			return err
		}
		var req PaymentRequest
		if err := json.Unmarshal(blob, &req); err != nil {
			return err
		}
		if req.Status.Terminal() {
			out, outErr = req, ErrAlreadyFinalized
			return nil
		}
		if !canTransition(req.Status, status) {
			out, outErr = req, ErrBadTransition
			return nil
		}
		req.Status = status
		req.UpdatedAt = time.Now()
		if note != "" {
			req.Note = note
		}
		if adminID != 0 {
			req.AdminID = adminID
		}
		next, err := json.Marshal(req)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, 0)
			if status == PayApproved && req.Credits > 0 {
				pipe.IncrBy(ctx, creditsKey(req.UserID), req.Credits)
				pipe.SAdd(ctx, keyCreditUsers, req.UserID)
			}
			return nil
		})
		if err != nil {
			return err
		}
		out, outErr = req, nil
		return nil
	}
	for i := 0; i < txRetries; i++ {
		err := r.rdb.Watch(ctx, txf, key)
		if err == nil {
			return out, outErr
		}
		if err == redis.TxFailedErr {
			continue
		}
		return PaymentRequest{}, err
	}
	return PaymentRequest{}, errors.New("store: payment transition retries exhausted")
}

func (r *Redis) SetPaymentPrompt(ctx context.Context, id, chatID, messageID int64) error {
	key := payReqKey(id)
	txf := func(tx *redis.Tx) error {
		blob, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var req PaymentRequest
		if err := json.Unmarshal(blob, &req); err != nil {
			return err
		}
		req.PromptChatID = chatID
		req.PromptMessageID = messageID
		next, err := json.Marshal(req)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, 0)
			return nil
		})
		return err
	}
	for i := 0; i < txRetries; i++ {
		err := r.rdb.Watch(ctx, txf, key)
		if err != redis.TxFailedErr {
			return err
		}
	}
	return errors.New("store: payment prompt retries exhausted")
}

func (r *Redis) ListPaymentRequests(ctx context.Context, status PayStatus, limit int) ([]PaymentRequest, error) {
	stop := int64(-1)
	if limit > 0 && status == "" {
		stop = int64(limit) - 1
	}
	ids, err := r.rdb.LRange(ctx, keyPayIndex, 0, stop).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = "sg:pay:req:" + id
	}
	blobs, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]PaymentRequest, 0, len(ids))
	for _, raw := range blobs {
		if limit > 0 && len(out) >= limit {
			break
		}
		s, ok := raw.(string)
		if !ok {
			continue
		}
		var req PaymentRequest
		if err := json.Unmarshal([]byte(s), &req); err != nil {
			continue
		}
		if status != "" && req.Status != status {
			continue
		}
		out = append(out, req)
	}
	return out, nil
}

func (r *Redis) PayPlan(ctx context.Context) (PayPlan, error) {
	blob, err := r.rdb.Get(ctx, keyPayPlan).Bytes()
	if err == redis.Nil {
		return PayPlan{Price: DefaultPlanPrice, Text: DefaultPlanText}, nil
	}
	if err != nil {
		return PayPlan{}, err
	}
	var plan PayPlan
	if err := json.Unmarshal(blob, &plan); err != nil {
		return PayPlan{}, err
	}
	return plan, nil
}

func (r *Redis) SetPayPlan(ctx context.Context, plan PayPlan) error {
	blob, err := json.Marshal(plan)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, keyPayPlan, blob, 0).Err()
}

func (r *Redis) UPIID(ctx context.Context) (string, error) {
	s, err := r.rdb.Get(ctx, keyUPI).Result()
	if err == redis.Nil {
		return "", nil
	}
	return s, err
}

func (r *Redis) SetUPIID(ctx context.Context, id string) error {
	return r.rdb.Set(ctx, keyUPI, id, 0).Err()
}

func (r *Redis) MarkPendingUTR(ctx context.Context, userID, paymentID int64, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return r.rdb.Set(ctx, pendingUTRKey(userID), paymentID, ttl).Err()
}

func (r *Redis) PendingUTR(ctx context.Context, userID int64) (int64, bool, error) {
	id, err := r.rdb.Get(ctx, pendingUTRKey(userID)).Int64()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (r *Redis) ClearPendingUTR(ctx context.Context, userID int64) error {
	return r.rdb.Del(ctx, pendingUTRKey(userID)).Err()
}

func (r *Redis) IncrementView(ctx context.Context, token, fingerprint string) (int64, int64, error) {
	var total *redis.IntCmd
	var unique *redis.IntCmd
	_, err := r.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		total = pipe.Incr(ctx, viewsKey(token))
		pipe.SAdd(ctx, viewersKey(token), fingerprint)
		unique = pipe.SCard(ctx, viewersKey(token))
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return total.Val(), unique.Val(), nil
}

func (r *Redis) Reactions(ctx context.Context, token string, userID int64) (int64, int64, Reaction, error) {
	user := strconv.FormatInt(userID, 10)
	var likes, dislikes *redis.IntCmd
	var liked, disliked *redis.BoolCmd
	_, err := r.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		likes = pipe.SCard(ctx, likesKey(token))
		dislikes = pipe.SCard(ctx, dislikesKey(token))
		liked = pipe.SIsMember(ctx, likesKey(token), user)
		disliked = pipe.SIsMember(ctx, dislikesKey(token), user)
		return nil
	})
	if err != nil {
		return 0, 0, ReactionNone, err
	}
	mine := ReactionNone
	if liked.Val() {
		mine = ReactionLike
	} else if disliked.Val() {
		mine = ReactionDislike
	}
	return likes.Val(), dislikes.Val(), mine, nil
}

func (r *Redis) SetReaction(ctx context.Context, token string, userID int64, choice Reaction) (int64, int64, Reaction, error) {
	user := strconv.FormatInt(userID, 10)
	_, err := r.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, likesKey(token), user)
		pipe.SRem(ctx, dislikesKey(token), user)
		switch choice {
		case ReactionLike:
			pipe.SAdd(ctx, likesKey(token), user)
		case ReactionDislike:
			pipe.SAdd(ctx, dislikesKey(token), user)
		}
		return nil
	})
	if err != nil {
		return 0, 0, ReactionNone, err
	}
	return r.Reactions(ctx, token, userID)
}
