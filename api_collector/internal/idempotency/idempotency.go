// Package idempotency makes create endpoints safe to retry. The first request
// carrying an Idempotency-Key reserves it in Redis and records the response;
// later requests with the same key get the recorded response back.
package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"

	"billingstack/pkg/api/common"
	"billingstack/pkg/auth"
	"billingstack/pkg/logging"
)

const (
	HeaderKey      = "Idempotency-Key"
	HeaderReplayed = "Idempotent-Replayed"

	keyPrefix  = "collector:idempotency:"
	maxKeySize = 255
)

type record struct {
	Done        bool   `json:"done"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

// Store records responses in Redis.
type Store struct {
	client goredis.Cmdable
	ttl    time.Duration
	logger logging.Logger
}

func NewStore(client goredis.Cmdable, ttl time.Duration, logger logging.Logger) *Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{client: client, ttl: ttl, logger: logger}
}

func (s *Store) reserve(ctx context.Context, key string) (bool, error) {
	pending, _ := json.Marshal(record{})
	return s.client.SetNX(ctx, key, pending, s.ttl).Result()
}

func (s *Store) load(ctx context.Context, key string) (*record, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, err
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) complete(ctx context.Context, key string, rec record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, raw, s.ttl).Err()
}

func (s *Store) release(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

type capture struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *capture) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *capture) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Middleware enforces idempotency for requests that carry the header.
// Server errors release the key so the client can try again. When Redis is
// unreachable requests are served without idempotency.
func (s *Store) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(HeaderKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxKeySize {
			c.AbortWithStatusJSON(http.StatusBadRequest, common.ErrorResponse{
				Error: "Idempotency-Key is too long",
				Code:  common.CodeBadRequest,
			})
			return
		}

		ctx := c.Request.Context()
		caller := callerScope(ctx)
		redisKey := keyPrefix + caller + ":" + c.Request.Method + ":" + c.Request.URL.Path + ":" + key
		log := s.logger.WithFields(logging.Fields{"idempotency_key": key, "caller": caller})

		reserved, err := s.reserve(ctx, redisKey)
		if err != nil {
			log.WithError(err).Warn("Idempotency store unavailable")
			c.Next()
			return
		}
		if !reserved {
			s.replay(c, redisKey, log)
			return
		}

		w := &capture{ResponseWriter: c.Writer}
		c.Writer = w
		c.Next()

		status := w.Status()
		if status >= http.StatusInternalServerError {
			if err := s.release(context.WithoutCancel(ctx), redisKey); err != nil {
				log.WithError(err).Warn("Failed to release idempotency key")
			}
			return
		}
		rec := record{Done: true, Status: status, ContentType: w.Header().Get("Content-Type"), Body: w.body.Bytes()}
		if err := s.complete(context.WithoutCancel(ctx), redisKey, rec); err != nil {
			log.WithError(err).Warn("Failed to record idempotent response")
		}
	}
}

// callerScope keys records by tenant and user so equal keys sent by
// different callers never share a response.
func callerScope(ctx context.Context) string {
	rc := auth.FromContext(ctx)
	if rc.TenantID == "" && rc.UserID == "" {
		return "-"
	}
	return rc.TenantID + "/" + rc.UserID
}

func (s *Store) replay(c *gin.Context, redisKey string, log logging.Entry) {
	rec, err := s.load(c.Request.Context(), redisKey)
	if errors.Is(err, goredis.Nil) {
		// Released between our SETNX and GET; the earlier attempt failed.
		c.AbortWithStatusJSON(http.StatusConflict, common.ErrorResponse{
			Error: "request with this Idempotency-Key failed, retry",
			Code:  common.CodeConflict,
		})
		return
	}
	if err != nil {
		log.WithError(err).Warn("Failed to read idempotent response")
		c.AbortWithStatusJSON(http.StatusInternalServerError, common.ErrorResponse{
			Error: "idempotency store unavailable",
			Code:  common.CodeInternal,
		})
		return
	}
	if !rec.Done {
		c.AbortWithStatusJSON(http.StatusConflict, common.ErrorResponse{
			Error: "request with this Idempotency-Key is in progress",
			Code:  common.CodeConflict,
		})
		return
	}
	c.Header(HeaderReplayed, "true")
	contentType := rec.ContentType
	if contentType == "" {
		contentType = "application/json; charset=utf-8"
	}
	c.Data(rec.Status, contentType, rec.Body)
	c.Abort()
}
