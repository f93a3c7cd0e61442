package updates

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"tdlib-gateway/internal/audit"
	sessiondomain "tdlib-gateway/internal/session/domain"
	"tdlib-gateway/internal/tdlib"
	"tdlib-gateway/internal/telemetry"
)

// Update categories handlers register under.
const (
	CategoryMessage = "message"
	CategoryAccount = "account"
	CategoryChat    = "chat"
)

// categoryByType routes known TDLib update tags to a category. Built once;
// lookup is a single map access per update.
var categoryByType = map[string]string{
	tdlib.UpdateNewMessage:           CategoryMessage,
	tdlib.UpdateMessageSendSucceeded: CategoryMessage,
	tdlib.UpdateMessageSendFailed:    CategoryMessage,
	tdlib.UpdateMessageContent:       CategoryMessage,
	tdlib.UpdateDeleteMessages:       CategoryMessage,

	tdlib.UpdateUser:               CategoryAccount,
	tdlib.UpdateUserStatus:         CategoryAccount,
	tdlib.UpdateAuthorizationState: CategoryAccount,

	tdlib.UpdateNewChat:         CategoryChat,
	tdlib.UpdateChatTitle:       CategoryChat,
	tdlib.UpdateChatPhoto:       CategoryChat,
	tdlib.UpdateChatLastMessage: CategoryChat,
}

// Handler consumes one update for one handle. Errors are logged and
// contained; they never stop dispatch of later updates.
type Handler func(ctx context.Context, handleID string, u *tdlib.Update) error

// ActivityStore is the slice of the session store the dispatcher needs.
// Get refreshes the session's activity timestamp as a side effect.
type ActivityStore interface {
	Get(ctx context.Context, handleID string) (*sessiondomain.Session, error)
}

// AuthErrorHook is invoked when a handle reports an authorization-class
// error. The owner of the hook decides whether to revoke; the dispatcher
// never invalidates sessions itself.
type AuthErrorHook func(ctx context.Context, handleID string, code int, message string)

// Dispatcher fans updates out to per-category handlers. Register handlers
// before the poller starts; On is not safe concurrently with Dispatch.
type Dispatcher struct {
	handlers map[string][]Handler
	sessions ActivityStore
	auditLog audit.AuditLogger
	authHook AuthErrorHook
	metrics  *telemetry.Metrics
}

// NewDispatcher returns a dispatcher with no handlers registered. sessions,
// auditLog, authHook, and metrics may each be nil.
func NewDispatcher(sessions ActivityStore, auditLog audit.AuditLogger, authHook AuthErrorHook, metrics *telemetry.Metrics) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string][]Handler),
		sessions: sessions,
		auditLog: auditLog,
		authHook: authHook,
		metrics:  metrics,
	}
}

// On registers h for every update in category.
func (d *Dispatcher) On(category string, h Handler) {
	d.handlers[category] = append(d.handlers[category], h)
}

// Dispatch routes one update. Connection-state and error updates are
// handled inline; everything else goes through the category table. Unknown
// types are dropped.
func (d *Dispatcher) Dispatch(ctx context.Context, handleID string, u *tdlib.Update) {
	if u == nil {
		return
	}
	switch u.Type {
	case tdlib.UpdateConnectionState:
		d.touchActivity(ctx, handleID)
		d.metrics.UpdateRouted(ctx, "connection")
		return
	case tdlib.UpdateError:
		d.handleError(ctx, handleID, u)
		d.metrics.UpdateRouted(ctx, "error")
		return
	}

	category, ok := categoryByType[u.Type]
	if !ok {
		log.Printf("updates: dropping unknown update type %q for %s", u.Type, handleID)
		d.metrics.UpdateRouted(ctx, "dropped")
		return
	}
	d.metrics.UpdateRouted(ctx, category)
	for _, h := range d.handlers[category] {
		d.invoke(ctx, handleID, u, h)
	}
}

// invoke runs one handler with containment: a panic or error in one handler
// must not starve the others.
func (d *Dispatcher) invoke(ctx context.Context, handleID string, u *tdlib.Update, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("updates: handler panic on %s update for %s: %v", u.Type, handleID, r)
		}
	}()
	if err := h(ctx, handleID, u); err != nil {
		log.Printf("updates: handler error on %s update for %s: %v", u.Type, handleID, err)
	}
}

func (d *Dispatcher) touchActivity(ctx context.Context, handleID string) {
	if d.sessions == nil {
		return
	}
	if _, err := d.sessions.Get(ctx, handleID); err != nil {
		log.Printf("updates: activity refresh for %s: %v", handleID, err)
	}
}

type errorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// handleError surfaces a TDLib error update. Authorization-class codes are
// flagged for operators and forwarded to the hook; the session itself is
// left alone.
func (d *Dispatcher) handleError(ctx context.Context, handleID string, u *tdlib.Update) {
	var p errorPayload
	if err := json.Unmarshal(u.Payload, &p); err != nil {
		log.Printf("updates: unparseable error update for %s: %v", handleID, err)
		return
	}
	log.Printf("updates: handle %s reported error %d: %s", handleID, p.Code, p.Message)
	if !tdlib.IsAuthErrorCode(p.Code) {
		return
	}
	if d.auditLog != nil {
		d.auditLog.LogEvent(ctx, handleID, "authorization_failure", "handle",
			fmt.Sprintf(`{"code":%d,"message":%q}`, p.Code, p.Message))
	}
	if d.authHook != nil {
		d.authHook(ctx, handleID, p.Code, p.Message)
	}
}
