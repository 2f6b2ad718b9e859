package middleware

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/loader-licensing/internal/config"
)

// captureWriter tees the response body into buf until limit is exceeded.
type captureWriter struct {
	http.ResponseWriter
	status   int
	buf      bytes.Buffer
	size     int64
	limit    int64
	overflow bool
}

func (cw *captureWriter) WriteHeader(code int) {
	cw.status = code
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *captureWriter) Write(b []byte) (int, error) {
	cw.size += int64(len(b))
	if cw.limit > 0 && cw.size > cw.limit {
		cw.overflow = true
	} else if !cw.overflow {
		cw.buf.Write(b)
	}
	return cw.ResponseWriter.Write(b)
}

// AdminCache caches successful admin reads in redis and drops them all
// whenever an admin mutation succeeds. Entries are namespaced by a
// generation counter so invalidation is a single INCR; orphaned entries
// age out with their TTL.
type AdminCache struct {
	cfg config.CacheConfig
	rdb *redis.Client
	log *zap.Logger
}

func NewAdminCache(cfg config.CacheConfig, rdb *redis.Client, log *zap.Logger) *AdminCache {
	return &AdminCache{cfg: cfg, rdb: rdb, log: log}
}

func (a *AdminCache) enabled() bool { return a != nil && a.cfg.Enabled && a.rdb != nil }

func (a *AdminCache) genKey() string { return a.cfg.Prefix + ":gen" }

func (a *AdminCache) generation(ctx context.Context) string {
	g, err := a.rdb.Get(ctx, a.genKey()).Result()
	if err != nil {
		return "0"
	}
	return g
}

func (a *AdminCache) key(gen string, c echo.Context) string {
	sum := sha1.Sum([]byte(c.Path() + "?" + c.Request().URL.RawQuery + "#" + c.Request().URL.Path))
	return fmt.Sprintf("%s:%s:%x", a.cfg.Prefix, gen, sum[:])
}

// Invalidate bumps the generation, orphaning every cached entry.
func (a *AdminCache) Invalidate(ctx context.Context) {
	if !a.enabled() {
		return
	}
	if err := a.rdb.Incr(ctx, a.genKey()).Err(); err != nil {
		a.log.Warn("cache: invalidate failed", zap.Error(err))
	}
}

// Middleware serves cached reads and invalidates on successful writes.
func (a *AdminCache) Middleware() echo.MiddlewareFunc {
	if !a.enabled() {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	maxBody := int64(a.cfg.MaxBodyBytes)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			method := strings.ToUpper(c.Request().Method)
			if !a.cfg.Methods[method] {
				err := next(c)
				if err == nil && c.Response().Status < 400 {
					a.Invalidate(context.WithoutCancel(c.Request().Context()))
				}
				return err
			}

			ctx := c.Request().Context()
			key := a.key(a.generation(ctx), c)

			if bs, err := a.rdb.Get(ctx, key).Bytes(); err == nil {
				if status, hdr, body, ok := decodePayload(bs); ok {
					for k, vals := range hdr {
						if strings.EqualFold(k, echo.HeaderContentLength) {
							continue
						}
						for _, v := range vals {
							c.Response().Header().Add(k, v)
						}
					}
					c.Response().Header().Set("X-Cache", "HIT")
					c.Response().WriteHeader(status)
					_, _ = c.Response().Write(body)
					return nil
				}
			}

			cw := &captureWriter{ResponseWriter: c.Response().Writer, status: http.StatusOK, limit: maxBody}
			c.Response().Writer = cw
			c.Response().Header().Set("X-Cache", "MISS")

			if err := next(c); err != nil {
				return err
			}
			if cw.status != http.StatusOK || cw.overflow {
				return nil
			}
			hdr := c.Response().Header().Clone()
			hdr.Del("X-Cache")
			payload, err := encodePayload(cw.status, hdr, cw.buf.Bytes())
			if err == nil {
				err = a.rdb.Set(context.WithoutCancel(ctx), key, payload, a.cfg.TTL).Err()
			}
			if err != nil {
				a.log.Warn("cache: store failed", zap.String("key", key), zap.Error(err))
			}
			return nil
		}
	}
}

// encodePayload packs [4 status][4 headerLen][headerJSON][body].
func encodePayload(status int, header http.Header, body []byte) ([]byte, error) {
	hdrJSON, err := json.Marshal(header)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 8+len(hdrJSON)+len(body))
	binary.BigEndian.PutUint32(out[0:4], uint32(status))
	binary.BigEndian.PutUint32(out[4:8], uint32(len(hdrJSON)))
	copy(out[8:], hdrJSON)
	copy(out[8+len(hdrJSON):], body)
	return out, nil
}

func decodePayload(bs []byte) (status int, header http.Header, body []byte, ok bool) {
	if len(bs) < 8 {
		return 0, nil, nil, false
	}
	status = int(binary.BigEndian.Uint32(bs[0:4]))
	hlen := int(binary.BigEndian.Uint32(bs[4:8]))
	if 8+hlen > len(bs) {
		return 0, nil, nil, false
	}
	header = make(http.Header)
	if hlen > 0 {
		if err := json.Unmarshal(bs[8:8+hlen], &header); err != nil {
			return 0, nil, nil, false
		}
	}
	return status, header, bs[8+hlen:], true
}
