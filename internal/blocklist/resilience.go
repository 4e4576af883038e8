package blocklist

import (
	"context"
	"strings"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ListenStateResilient держит подписку на сигналы блок-листа живой на
// протяжении всей жизни процесса: подписка с backoff, ресинк при каждом
// успешном коннекте, разбор сигналов формата "адрес:статус".
func ListenStateResilient(
	ctx context.Context,
	rdb *redis.Client,
	logger *zap.Logger,
	channel string,
	onReconnect func() error,
	onMessage func(addr string, blocked bool),
) {
	for ctx.Err() == nil {
		pubsub, err := subscribeWithRetry(ctx, rdb, channel, logger)
		if err != nil {
			// Сюда попадаем только при отмене контекста
			return
		}

		// Пока подписки не было, сигналы могли потеряться: ресинк из L2
		if err := onReconnect(); err != nil {
			logger.Error("blocklist resync failed on reconnect", zap.Error(err))
		}

		consumeSignals(ctx, pubsub.Channel(), logger, onMessage)
		pubsub.Close()

		if ctx.Err() == nil {
			time.Sleep(time.Second)
		}
	}
}

// subscribeWithRetry пытается подписаться до победного конца:
// блок-лист без подписки расходится между инстансами.
func subscribeWithRetry(ctx context.Context, rdb *redis.Client, channel string, logger *zap.Logger) (*redis.PubSub, error) {
	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(0), // без лимита, остановка только по контексту
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("blocklist subscribe failed, retrying",
				zap.Uint("attempt", n),
				zap.String("chan", channel),
				zap.Error(err))
		}),
	)

	var pubsub *redis.PubSub
	err := r.Do(func() error {
		ps := rdb.Subscribe(ctx, channel)
		if _, err := ps.Receive(ctx); err != nil {
			ps.Close()
			return err
		}
		pubsub = ps
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pubsub, nil
}

func consumeSignals(ctx context.Context, ch <-chan *redis.Message, logger *zap.Logger, onMessage func(string, bool)) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				// Соединение умерло, наверх на переподписку
				return
			}
			addr, blocked, valid := parseSignal(msg.Payload)
			if !valid {
				logger.Error("invalid blocklist signal", zap.String("payload", msg.Payload))
				continue
			}
			onMessage(addr, blocked)
		}
	}
}

// parseSignal разбирает "адрес:true|false". Адрес может содержать
// двоеточия (IPv6), поэтому статус отделяется с хвоста.
func parseSignal(payload string) (addr string, blocked, valid bool) {
	idx := strings.LastIndex(payload, ":")
	if idx <= 0 {
		return "", false, false
	}
	return payload[:idx], payload[idx+1:] == "true", true
}
