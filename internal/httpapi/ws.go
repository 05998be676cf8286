package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"call-signaling/internal/signaling"
	"call-signaling/pkg/logger"
	"call-signaling/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
)

// Socket request methods.
const (
	MethodNegotiate = "call.negotiate"
	MethodQuality   = "call.quality"
)

const socketCapKeyPrefix = "calls:sockets:user:"

// SocketLimiter caps how many signaling sockets one user may hold at once.
type SocketLimiter interface {
	Acquire(ctx context.Context, userID string) (bool, error)
	Release(ctx context.Context, userID string) error
}

// RedisSocketLimiter counts sockets per user across API nodes. TTL bounds
// leaked slots after a crash; a socket older than TTL no longer counts.
type RedisSocketLimiter struct {
	RDB   *redis.Client
	Limit int
	TTL   time.Duration
}

func (l RedisSocketLimiter) Acquire(ctx context.Context, userID string) (bool, error) {
	return utils.AcquireConcurrencyCap(ctx, l.RDB, socketCapKeyPrefix+userID, l.Limit, l.TTL)
}

func (l RedisSocketLimiter) Release(ctx context.Context, userID string) error {
	return utils.ReleaseConcurrencyCap(ctx, l.RDB, socketCapKeyPrefix+userID)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Browsers authenticate with the access_token query param; origin is not a credential here.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Socket upgrades to the signaling websocket and serves it until the peer
// goes away or the process shuts down.
func (h Handlers) Socket(c *gin.Context) {
	if h.Hub == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "signaling not configured"})
		return
	}
	uid, ok := callerID(c)
	if !ok {
		return
	}
	log := logger.FromGin(c)

	if h.Sockets != nil {
		acquired, err := h.Sockets.Acquire(c.Request.Context(), uid)
		switch {
		case err != nil:
			// Fail open: the cap protects capacity, it is not an auth check.
			log.Warn("socket cap unavailable", "user_id", uid, "err", err)
		case !acquired:
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many connected devices"})
			return
		default:
			defer func() {
				rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				if err := h.Sockets.Release(rctx, uid); err != nil {
					log.Warn("socket cap release failed", "user_id", uid, "err", err)
				}
			}()
		}
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Debug("websocket upgrade failed", "err", err)
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	if h.BaseContext != nil {
		stop := context.AfterFunc(h.BaseContext, cancel)
		defer stop()
	}

	conn := h.Hub.Register(uid, c.Query("device_id"), ws)
	h.Hub.Serve(ctx, conn, h.handleFrame)
}

type negotiateParams struct {
	SessionID string          `json:"sessionId"`
	To        string          `json:"to"`
	Payload   json.RawMessage `json:"payload"`
}

type qualityParams struct {
	SessionID string `json:"sessionId"`
	qualityRequest
}

// handleFrame serves the hot-path requests a device may send over its socket.
func (h Handlers) handleFrame(ctx context.Context, conn *signaling.Conn, f signaling.Frame) {
	ctx = signaling.WithOrigin(ctx, conn.UserID, conn.DeviceID)
	var (
		payload any
		err     error
	)
	switch f.Method {
	case MethodNegotiate:
		payload, err = h.frameNegotiate(ctx, conn.UserID, f.Params)
	case MethodQuality:
		payload, err = h.frameQuality(ctx, conn.UserID, f.Params)
	default:
		_ = conn.Send(signaling.NewErrorResponse(f.ID, signaling.ErrorShape{Code: "unknown_method", Message: "unknown method " + f.Method}))
		return
	}
	if err != nil {
		shape := frameError(err)
		if shape.Code == CodeInternal {
			logger.From(ctx).Error("socket request failed", "method", f.Method, "user_id", conn.UserID, "err", err)
		}
		_ = conn.Send(signaling.NewErrorResponse(f.ID, shape))
		return
	}
	res, err := signaling.NewResponse(f.ID, payload)
	if err != nil {
		_ = conn.Send(signaling.NewErrorResponse(f.ID, signaling.ErrorShape{Code: CodeInternal, Message: "internal error"}))
		return
	}
	_ = conn.Send(res)
}

func (h Handlers) frameNegotiate(ctx context.Context, userID string, raw json.RawMessage) (any, error) {
	if h.Relay == nil {
		return nil, errNotConfigured
	}
	var p negotiateParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errInvalidParams
	}
	if err := h.Relay.Relay(ctx, p.SessionID, userID, p.To, p.Payload); err != nil {
		return nil, err
	}
	return gin.H{"accepted": true}, nil
}

func (h Handlers) frameQuality(ctx context.Context, userID string, raw json.RawMessage) (any, error) {
	if h.Quality == nil {
		return nil, errNotConfigured
	}
	var p qualityParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errInvalidParams
	}
	tier, err := h.Quality.Submit(ctx, p.sample(p.SessionID, userID))
	if err != nil {
		return nil, err
	}
	return gin.H{"sessionId": p.SessionID, "tier": tier}, nil
}
