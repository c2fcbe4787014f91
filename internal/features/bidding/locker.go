package bidding

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/bidpoints/internal/common"
	"serotonyl.ru/bidpoints/internal/metrics"
)

// Locker выдаёт эксклюзивные блокировки по ключу ("job:<id>", "user:<id>").
// Lock не ждёт бесконечно: после исчерпания попыток возвращает common.ErrBusy.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

func jobKey(jobID string) string   { return "job:" + jobID }
func userKey(userID string) string { return "user:" + userID }

// retry крутит try до успеха, исчерпания попыток или отмены контекста.
func retry(ctx context.Context, retries int, delay time.Duration, try func() (bool, error)) error {
	start := time.Now()
	defer func() { metrics.LockWait.Observe(time.Since(start).Seconds()) }()

	for attempt := 0; ; attempt++ {
		ok, err := try()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if attempt >= retries {
			return common.ErrBusy
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// KeyedLocker: блокировки в памяти процесса, по мьютексу на ключ.
// Записи удаляются, когда ключ никто не держит и не ждёт.
type KeyedLocker struct {
	mu      sync.Mutex
	locks   map[string]*keyLock
	retries int
	delay   time.Duration
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedLocker: retries: сколько повторных попыток после первой, delay: пауза между ними.
func NewKeyedLocker(retries int, delay time.Duration) *KeyedLocker {
	return &KeyedLocker{locks: make(map[string]*keyLock), retries: retries, delay: delay}
}

func (l *KeyedLocker) ref(key string) *keyLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	k, ok := l.locks[key]
	if !ok {
		k = &keyLock{}
		l.locks[key] = k
	}
	k.refs++
	return k
}

func (l *KeyedLocker) unref(key string, k *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k.refs--
	if k.refs == 0 {
		delete(l.locks, key)
	}
}

func (l *KeyedLocker) Lock(ctx context.Context, key string) (func(), error) {
	k := l.ref(key)
	err := retry(ctx, l.retries, l.delay, func() (bool, error) {
		return k.mu.TryLock(), nil
	})
	if err != nil {
		l.unref(key, k)
		return nil, err
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			k.mu.Unlock()
			l.unref(key, k)
		})
	}, nil
}

// AdvisoryLocker: блокировки через pg_try_advisory_lock, общие для всех реплик сервиса.
// Advisory lock живёт в сессии, поэтому соединение держится до unlock.
// Пул db должен быть отдельным от пула запросов: PlaceBid держит два
// соединения-блокировки и параллельно открывает транзакции в основном пуле.
type AdvisoryLocker struct {
	db      *pgxpool.Pool
	retries int
	delay   time.Duration
}

// minAcquireWait: нижняя граница ожидания свободного соединения.
const minAcquireWait = 100 * time.Millisecond

func NewAdvisoryLocker(db *pgxpool.Pool, retries int, delay time.Duration) *AdvisoryLocker {
	return &AdvisoryLocker{db: db, retries: retries, delay: delay}
}

// acquireWait: сколько всего ждём свободное соединение за один Lock.
func (l *AdvisoryLocker) acquireWait() time.Duration {
	return max(time.Duration(l.retries+1)*l.delay, minAcquireWait)
}

func (l *AdvisoryLocker) Lock(ctx context.Context, key string) (func(), error) {
	// пул исчерпан = та же занятость, что и чужая блокировка
	acquireCtx, cancel := context.WithTimeout(ctx, l.acquireWait())
	defer cancel()

	var conn *pgxpool.Conn
	err := retry(ctx, l.retries, l.delay, func() (bool, error) {
		c, err := l.db.Acquire(acquireCtx)
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			if acquireCtx.Err() != nil {
				log.WithField("key", key).Warn("Пул блокировок исчерпан")
				return false, common.ErrBusy
			}
			return false, fmt.Errorf("не удалось получить соединение для блокировки: %w", err)
		}
		var ok bool
		if err := c.QueryRow(ctx, `SELECT pg_try_advisory_lock(hashtextextended($1, 0))`, key).Scan(&ok); err != nil {
			c.Release()
			return false, fmt.Errorf("ошибка взятия блокировки %s: %w", key, err)
		}
		if !ok {
			// между попытками соединение возвращаем в пул, иначе ждущие съедят весь пул
			c.Release()
			return false, nil
		}
		conn = c
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, err := conn.Exec(ctx, `SELECT pg_advisory_unlock(hashtextextended($1, 0))`, key); err != nil {
				log.WithError(err).WithField("key", key).Error("Не удалось снять advisory lock, закрываем соединение")
				// закрытое соединение пул выбросит, а вместе с сессией уйдёт и блокировка
				_ = conn.Conn().Close(ctx)
			}
			conn.Release()
		})
	}, nil
}
