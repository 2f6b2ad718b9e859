package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// HardwareConsumer appends every hardware.pending event to
// <LogDir>/hardware.log so operators can review pending devices.
type HardwareConsumer struct {
	URL    string
	LogDir string
	Log    *zap.Logger
}

// Run keeps a consumer attached to the broker until ctx is cancelled,
// reconnecting with exponential backoff.
func (c *HardwareConsumer) Run(ctx context.Context) error {
	return runWithReconnect(ctx, c.URL, c.Log.Named("hardware-consumer"), c.consume)
}

func (c *HardwareConsumer) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.Log.Warn("set qos failed", zap.Error(err))
	}
	if _, err := ch.QueueDeclare(HardwarePendingQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.ConsumeWithContext(ctx, HardwarePendingQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for d := range msgs {
		if err := c.handle(d.Body); err != nil {
			c.Log.Error("handle message failed", zap.Error(err))
			// reject without requeue to avoid tight loops
			_ = d.Nack(false, false)
			continue
		}
		_ = d.Ack(false)
	}
	return errors.New("deliveries channel closed")
}

func (c *HardwareConsumer) handle(body []byte) error {
	var ev HardwarePendingEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if err := os.MkdirAll(c.LogDir, 0o755); err != nil {
		return fmt.Errorf("mkdir logs: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(c.LogDir, "hardware.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	line := fmt.Sprintf("[%s] Hardware pending approval | account_id=%s | username=%q | hardware_id=%s | hash=%s | previous_devices=%d\n",
		ev.CreatedAt, ev.AccountID, ev.Username, ev.HardwareID, ev.Hash, ev.History)
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

// Reloader is implemented by *identity.Holder.
type Reloader interface {
	Reload(ctx context.Context) error
}

// LoaderWatcher reloads the local loader identity whenever another
// instance announces a change on the loader.changed exchange.
type LoaderWatcher struct {
	URL      string
	Origin   string
	Reloader Reloader
	Log      *zap.Logger
}

func (w *LoaderWatcher) Run(ctx context.Context) error {
	return runWithReconnect(ctx, w.URL, w.Log.Named("loader-watcher"), w.consume)
}

func (w *LoaderWatcher) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.ExchangeDeclare(LoaderChangedExchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		return fmt.Errorf("exchange declare: %w", err)
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	if err := ch.QueueBind(q.Name, "", LoaderChangedExchange, false, nil); err != nil {
		return fmt.Errorf("queue bind: %w", err)
	}
	msgs, err := ch.ConsumeWithContext(ctx, q.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	// pick up anything missed while disconnected
	if err := w.Reloader.Reload(ctx); err != nil {
		w.Log.Warn("reload after connect failed", zap.Error(err))
	}
	for d := range msgs {
		if err := w.handle(ctx, d.Body); err != nil {
			w.Log.Error("reload loader identity failed", zap.Error(err))
		}
	}
	return errors.New("deliveries channel closed")
}

func (w *LoaderWatcher) handle(ctx context.Context, body []byte) error {
	var ev LoaderChangedEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.Origin != "" && ev.Origin == w.Origin {
		return nil
	}
	if err := w.Reloader.Reload(ctx); err != nil {
		return err
	}
	w.Log.Info("loader identity reloaded", zap.String("reason", ev.Reason), zap.String("origin", ev.Origin))
	return nil
}

func runWithReconnect(ctx context.Context, url string, log *zap.Logger, consume func(context.Context, *amqp.Connection) error) error {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, err := amqp.Dial(url)
		if err != nil {
			log.Warn("dial broker failed", zap.Error(err), zap.Duration("retry_in", backoff))
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("consume loop ended, reconnecting", zap.Error(err))
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
