package rtidispatch

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/dkoosis/agentrt/internal/rticontract"
	"github.com/dkoosis/agentrt/internal/rtiauthcache"
	"github.com/dkoosis/agentrt/internal/rtierr"
	"github.com/dkoosis/agentrt/internal/rtilog"
	"github.com/dkoosis/agentrt/internal/rtiwire"
)

// TimeoutAction selects how an unanswered server request is resolved
// once its deadline passes.
type TimeoutAction int

const (
	TimeoutDecline TimeoutAction = iota
	TimeoutCancel
	TimeoutError
)

// KnownServerMethods are always queued for the application to answer.
var KnownServerMethods = map[string]bool{
	"item/commandExecution/requestApproval": true,
	"item/fileChange/requestApproval":       true,
	"item/tool/requestUserInput":            true,
	"item/tool/call":                        true,
	"account/chatgptAuthTokens/refresh":      true,
}

const authRefreshMethod = "account/chatgptAuthTokens/refresh"

type pendingServerRequest struct {
	approvalID   string
	originalID   *rtiwire.ID
	rpcKey       string
	method       string
	createdAtMs  int64
	deadlineMs   int64
}

// serverRequestRouter owns the pending-server-request map and the
// single-consumer application queue.
type serverRequestRouter struct {
	mu               sync.Mutex
	pending          map[string]*pendingServerRequest
	byRPCKey         map[string]string // rpc_key -> approval id
	queue            chan *ServerRequest
	queueTaken       bool
	queueClosed      bool
	autoDeclineUnknown bool
	defaultTimeoutMs int64
	timeoutAction    TimeoutAction
	authCache        *rtiauthcache.Cache
	log              rtilog.Logger
}

func newServerRequestRouter(queueCapacity int, autoDeclineUnknown bool, defaultTimeoutMs int64, action TimeoutAction, authCache *rtiauthcache.Cache) *serverRequestRouter {
	return &serverRequestRouter{
		pending:            make(map[string]*pendingServerRequest),
		byRPCKey:           make(map[string]string),
		queue:              make(chan *ServerRequest, queueCapacity),
		autoDeclineUnknown: autoDeclineUnknown,
		defaultTimeoutMs:   defaultTimeoutMs,
		timeoutAction:      action,
		authCache:          authCache,
		log:                rtilog.GetLogger("serverreq"),
	}
}

// takeQueue hands out the single-consumer receive end; a second call
// fails with ErrServerRequestReceiverTaken.
func (r *serverRequestRouter) takeQueue() (<-chan *ServerRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.queueTaken {
		return nil, rtierr.ErrServerRequestReceiverTaken
	}
	r.queueTaken = true
	return r.queue, nil
}

// route decides whether a server request should be queued for the
// application or auto-declined, returning the outbound reply frame to
// send immediately: the decline for an auto-declined method, or the
// timeout-policy reply when the queue is closed or full (nil once queued).
func (r *serverRequestRouter) route(env *rtiwire.Envelope, nowMs int64) (immediateReply json.RawMessage) {
	known := KnownServerMethods[env.Method]
	if !known && r.autoDeclineUnknown {
		return buildReply(env.ID, declinePayload(env.Method))
	}

	approvalID := uuid.NewString()
	deadline := nowMs + r.defaultTimeoutMs

	r.mu.Lock()
	entry := &pendingServerRequest{
		approvalID:  approvalID,
		originalID:  env.ID,
		rpcKey:      env.ID.Key(),
		method:      env.Method,
		createdAtMs: nowMs,
		deadlineMs:  deadline,
	}
	r.pending[approvalID] = entry
	r.byRPCKey[entry.rpcKey] = approvalID
	closed := r.queueClosed
	r.mu.Unlock()

	sr := &ServerRequest{ApprovalID: approvalID, Method: env.Method, Params: env.Raw, DeadlineMs: deadline}

	if closed {
		return r.resolveByPolicy(approvalID)
	}

	select {
	case r.queue <- sr:
		return nil
	default:
		// Single consumer's queue is full: treat as closed-equivalent so
		// no pending entry lingers forever.
		return r.resolveByPolicy(approvalID)
	}
}

// sweep removes every pending entry whose deadline has passed as of
// nowMs and returns the reply frames to send for each.
func (r *serverRequestRouter) sweep(nowMs int64) []json.RawMessage {
	r.mu.Lock()
	var expired []*pendingServerRequest
	for id, entry := range r.pending {
		if entry.deadlineMs <= nowMs {
			expired = append(expired, entry)
			delete(r.pending, id)
			delete(r.byRPCKey, entry.rpcKey)
		}
	}
	r.mu.Unlock()

	replies := make([]json.RawMessage, 0, len(expired))
	for _, entry := range expired {
		replies = append(replies, r.timeoutReply(entry))
	}
	return replies
}

func (r *serverRequestRouter) timeoutReply(entry *pendingServerRequest) json.RawMessage {
	if entry.method == authRefreshMethod {
		return buildErrorReply(entry.originalID, -32000, "server request timed out")
	}
	switch r.timeoutAction {
	case TimeoutCancel:
		return buildReply(entry.originalID, cancelPayload(entry.method))
	case TimeoutError:
		return buildErrorReply(entry.originalID, -32000, "server request timed out")
	default:
		return buildReply(entry.originalID, declinePayload(entry.method))
	}
}

// resolveByPolicy behaves exactly like a sweep-triggered timeout, used
// when the application queue cannot accept the request at all.
func (r *serverRequestRouter) resolveByPolicy(approvalID string) json.RawMessage {
	r.mu.Lock()
	entry, ok := r.pending[approvalID]
	if ok {
		delete(r.pending, approvalID)
		delete(r.byRPCKey, entry.rpcKey)
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return r.timeoutReply(entry)
}

// complete removes the pending entry (validating the result shape first)
// and returns the outbound reply frame.
func (r *serverRequestRouter) complete(approvalID string, result json.RawMessage, rpcErr *rtierr.RemoteError) (json.RawMessage, error) {
	if rpcErr == nil {
		if err := rticontract.ValidateServerRequestResult(pendingMethod(r, approvalID), result); err != nil {
			return nil, err
		}
	}

	r.mu.Lock()
	entry, ok := r.pending[approvalID]
	if ok {
		delete(r.pending, approvalID)
		delete(r.byRPCKey, entry.rpcKey)
	}
	r.mu.Unlock()

	if !ok {
		return nil, rtierr.InvalidRequest("unknown or already-resolved approval id %q", approvalID)
	}

	if rpcErr != nil {
		return buildErrorReply(entry.originalID, rpcErr.Code, rpcErr.Message), nil
	}
	if entry.method == authRefreshMethod {
		r.writeThroughAuthCache(result)
	}
	return buildReply(entry.originalID, result), nil
}

// writeThroughAuthCache persists a successfully-completed
// account/chatgptAuthTokens/refresh result to the auth token cache,
// best-effort: a cache write failure is logged, never surfaced to the
// caller, since the in-flight reply to the agent has already succeeded.
func (r *serverRequestRouter) writeThroughAuthCache(result json.RawMessage) {
	if r.authCache == nil {
		return
	}
	var parsed struct {
		AccessToken      string  `json:"accessToken"`
		ChatGPTAccountID string  `json:"chatgptAccountId"`
		ChatGPTPlanType  *string `json:"chatgptPlanType"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		r.log.Warn("could not parse auth refresh result for cache write-through", "error", err)
		return
	}
	entry := rtiauthcache.Entry{
		AccessToken:      parsed.AccessToken,
		ChatGPTAccountID: parsed.ChatGPTAccountID,
		ChatGPTPlanType:  parsed.ChatGPTPlanType,
	}
	if err := r.authCache.Save(entry); err != nil {
		r.log.Warn("failed to write auth refresh result to cache", "account", parsed.ChatGPTAccountID, "error", err)
	}
}

func pendingMethod(r *serverRequestRouter, approvalID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.pending[approvalID]; ok {
		return entry.method
	}
	return ""
}

func (r *serverRequestRouter) pendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func declinePayload(method string) json.RawMessage {
	switch method {
	case "item/tool/requestUserInput":
		return json.RawMessage(`{"answers":{}}`)
	case "item/tool/call":
		return json.RawMessage(`{"success":false,"contentItems":[]}`)
	default:
		return json.RawMessage(`{"decision":"decline"}`)
	}
}

func cancelPayload(method string) json.RawMessage {
	switch method {
	case "item/tool/requestUserInput":
		return json.RawMessage(`{"answers":{}}`)
	case "item/tool/call":
		return json.RawMessage(`{"success":false,"contentItems":[]}`)
	default:
		return json.RawMessage(`{"decision":"cancel"}`)
	}
}

type replyFrame struct {
	ID     any             `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
}

type errorReplyFrame struct {
	ID    any            `json:"id"`
	Error replyFrameErr  `json:"error"`
}

type replyFrameErr struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func idToAny(id *rtiwire.ID) any {
	if id == nil || id.IsNull {
		return nil
	}
	if id.IsStr {
		return id.Str
	}
	return id.Num
}

func buildReply(id *rtiwire.ID, result json.RawMessage) json.RawMessage {
	b, _ := json.Marshal(replyFrame{ID: idToAny(id), Result: result})
	return b
}

func buildErrorReply(id *rtiwire.ID, code int, message string) json.RawMessage {
	b, _ := json.Marshal(errorReplyFrame{ID: idToAny(id), Error: replyFrameErr{Code: code, Message: message}})
	return b
}
