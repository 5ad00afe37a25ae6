package ws

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"mogakjak-gateway/internal/auth"
	"mogakjak-gateway/internal/models"
	"mogakjak-gateway/internal/observability"
	"mogakjak-gateway/internal/presence"
	"mogakjak-gateway/internal/realtime"
	"mogakjak-gateway/internal/stomp"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// GroupMembersClient loads group member lists with the caller's token.
type GroupMembersClient interface {
	GetGroupMembers(ctx context.Context, token, groupID string) ([]models.GroupMember, error)
}

// BridgeConfig wires the bridge to the broker.
type BridgeConfig struct {
	Dialer       stomp.Dialer
	BrokerURL    string
	BrokerHost   string
	Client       realtime.Config
	GraceDelay   time.Duration
	AccessCookie string
	// Members may be nil; member lists are then not reconciled.
	Members GroupMembersClient
	// ReconcileInterval re-fetches member lists while a group bridge is
	// open; zero reconciles on connect and on unknown members only.
	ReconcileInterval time.Duration
}

// BridgeHandler streams presence of one group or one user to a browser.
// Each browser connection owns its own broker sessions, authenticated with
// that browser's token.
type BridgeHandler struct {
	hub *Hub
	cfg BridgeConfig
}

func NewBridgeHandler(hub *Hub, cfg BridgeConfig) *BridgeHandler {
	return &BridgeHandler{hub: hub, cfg: cfg}
}

// starter is any watcher of the presence package.
type starter interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context)
}

type session struct {
	kind       string
	resourceID string
	client     *Client
	watchers   []starter
}

func (h *BridgeHandler) factory(token string) *realtime.Factory {
	return &realtime.Factory{
		Supplier: auth.StaticSupplier(token),
		Dialer:   h.cfg.Dialer,
		URL:      h.cfg.BrokerURL,
		Host:     h.cfg.BrokerHost,
		Defaults: h.cfg.Client,
	}
}

// options reports state changes of one channel's session to the browser.
func (h *BridgeHandler) options(client *Client, channel string) presence.Options {
	return presence.Options{
		GraceDelay:        h.cfg.GraceDelay,
		ReconcileInterval: h.cfg.ReconcileInterval,
		OnStateChange: func(_, to realtime.State) {
			connected := to == realtime.StateConnected
			_ = client.Send(models.GroupEvent{
				Type:      models.EventConnection,
				Channel:   channel,
				State:     to.String(),
				Connected: &connected,
			})
		},
	}
}

// handshake authenticates and upgrades. It writes the error response
// itself and returns ok=false on failure.
func (h *BridgeHandler) handshake(c *gin.Context, userID string) (*Client, string, context.Context, bool) {
	ctx, span := otel.Tracer("mogakjak-gateway/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token, ok := auth.RequestSupplier(c.Request, h.cfg.AccessCookie).Token(ctx)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return nil, "", nil, false
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return nil, "", nil, false
	}
	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	return newClient(conn, info), token, ctx, true
}

// HandleGroup serves GET /ws/groups/:group_id.
func (h *BridgeHandler) HandleGroup(c *gin.Context) {
	groupID := c.Param("group_id")
	if groupID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid group id"})
		return
	}
	client, token, ctx, ok := h.handshake(c, c.GetHeader("X-User-ID"))
	if !ok {
		return
	}

	factory := h.factory(token)
	var source presence.GroupDataSource
	if h.cfg.Members != nil {
		source = presence.GroupDataFunc(func(ctx context.Context, groupID string) ([]models.GroupMember, error) {
			return h.cfg.Members.GetGroupMembers(ctx, token, groupID)
		})
	}

	s := &session{kind: kindGroup, resourceID: groupID, client: client}
	s.watchers = []starter{
		presence.NewMemberStatusWatcher(factory, h.options(client, models.ChannelMemberStatus), groupID, presence.NewMemberStatusStore(), source, func(members []models.MemberStatus) {
			_ = client.Send(models.GroupEvent{Type: models.EventMemberStatus, GroupID: groupID, Members: members})
		}),
		presence.NewGroupTimerWatcher(factory, h.options(client, models.ChannelTimer), groupID, func(v models.TimerView) {
			_ = client.Send(models.GroupEvent{Type: models.EventTimer, GroupID: groupID, Timer: &v})
		}),
		presence.FocusReminderWatcher(factory, h.options(client, models.ChannelFocusReminder), groupID, func(n models.FocusReminderNotification) {
			_ = client.Send(models.GroupEvent{
				Type:         models.EventNotification,
				GroupID:      groupID,
				Notification: &models.Notification{Kind: models.KindFocusReminder, Payload: n},
			})
		}),
	}
	h.hub.AddGroupClient(groupID, client)
	h.run(ctx, s)
}

// HandleMe serves GET /ws/me?userId=.
func (h *BridgeHandler) HandleMe(c *gin.Context) {
	userID := c.Query("userId")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId is required"})
		return
	}
	client, token, ctx, ok := h.handshake(c, userID)
	if !ok {
		return
	}

	factory := h.factory(token)
	notify := func(kind string, payload any) {
		_ = client.Send(models.GroupEvent{
			Type:         models.EventNotification,
			Notification: &models.Notification{Kind: kind, Payload: payload},
		})
	}

	s := &session{kind: kindUser, resourceID: userID, client: client}
	s.watchers = []starter{
		presence.CheerWatcher(factory, h.options(client, models.ChannelCheer), userID, func(n models.CheerNotification) { notify(models.KindCheer, n) }),
		presence.PokeWatcher(factory, h.options(client, models.ChannelPoke), userID, func(n models.PokeNotification) { notify(models.KindPoke, n) }),
		presence.TimerCompletionWatcher(factory, h.options(client, models.ChannelTimerCompletion), userID, func(n models.TimerCompletionNotification) {
			notify(models.KindTimerCompletion, n)
		}),
		presence.NewMateStatusWatcher(factory, h.options(client, models.ChannelMates), presence.NewMateStatusStore(), func(mates []models.MateStatus) {
			_ = client.Send(models.GroupEvent{Type: models.EventMates, Mates: mates})
		}),
	}
	h.hub.AddUserClient(userID, client)
	h.run(ctx, s)
}

func (h *BridgeHandler) run(ctx context.Context, s *session) {
	// The request context ends with the handler; the bridge outlives it.
	ctx = context.WithoutCancel(ctx)
	observability.IncWSActive(s.kind)
	publishLifecycle(ctx, s.kind, s.resourceID, "ws_connect", s.client.info, "")

	for _, w := range s.watchers {
		if err := w.Start(ctx); err != nil {
			log.Printf("ws %s %s: start watcher: %v", s.kind, s.resourceID, err)
		}
	}

	// Keep connection alive and clean on close
	go func() {
		var closeReason string
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			for _, w := range s.watchers {
				w.Stop(stopCtx)
			}
			if s.kind == kindGroup {
				h.hub.RemoveGroupClient(s.resourceID, s.client)
			} else {
				h.hub.RemoveUserClient(s.resourceID, s.client)
			}
			observability.DecWSActive(s.kind)
			publishLifecycle(ctx, s.kind, s.resourceID, "ws_disconnect", s.client.info, closeReason)
			s.client.Close(websocket.CloseNormalClosure, "")
		}()
		for {
			if _, _, err := s.client.conn.ReadMessage(); err != nil {
				closeReason = err.Error()
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					publishLifecycle(ctx, s.kind, s.resourceID, "ws_error", s.client.info, closeReason)
				}
				return
			}
		}
	}()
}
