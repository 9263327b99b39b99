// Package ratelimit реализует классификатор входящих запросов по клиенту.
//
// Классификатор ведёт два скользящих окна на клиента: обычное и детектор
// быстрых серий запросов. Устойчивая серия переключает клиента в «пакетный»
// режим с ослабленным профилем ограничений. Состояние процесс-локально и не
// синхронизируется между экземплярами сервиса: это приблизительный сигнал
// обратного давления, а не строгий глобальный лимитер.
package ratelimit

import (
	"context"
	"time"
)

// SharedIdentity — общая корзина для запросов без идентификатора клиента.
const SharedIdentity = "(anonymous)"

// Decision содержит результат проверки допуска запроса.
// Отказ в допуске — штатный исход, а не ошибка.
type Decision struct {
	Allowed    bool
	BulkMode   bool
	RetryAfter time.Duration
	Reason     string
}

// BulkState содержит состояние пакетного режима клиента.
type BulkState struct {
	Enabled   bool
	EnabledAt time.Time
	Rapid     []time.Time
}

// Window содержит состояние окон одного клиента.
type Window struct {
	Stamps []time.Time
	Bulk   BulkState
}

// LastSeen возвращает время последней активности в окне.
func (w *Window) LastSeen() time.Time {
	var last time.Time
	if n := len(w.Stamps); n > 0 {
		last = w.Stamps[n-1]
	}
	if n := len(w.Bulk.Rapid); n > 0 && w.Bulk.Rapid[n-1].After(last) {
		last = w.Bulk.Rapid[n-1]
	}
	return last
}

// RateState описывает хранилище оконного состояния по идентификатору клиента.
// Реализация может быть картой в памяти или общим кэшем; потеря состояния
// допустима и не влияет на корректность. Update выполняет fn над окном клиента
// эксклюзивно: конкурентные вызовы для одного идентификатора сериализуются.
type RateState interface {
	Update(identity string, fn func(*Window))
	Prune(before time.Time)
}

// Limits содержит параметры обоих профилей ограничений.
type Limits struct {
	NormalLimit  int
	NormalWindow time.Duration

	RapidThreshold int
	RapidWindow    time.Duration

	BulkLimit       int
	BulkWindow      time.Duration
	MaxBulkDuration time.Duration

	// RetryFloor и BulkRetryFloor — минимальные подсказки повтора при отказе.
	RetryFloor     time.Duration
	BulkRetryFloor time.Duration
}

// DefaultLimits возвращает параметры ограничений по умолчанию.
func DefaultLimits() Limits {
	return Limits{
		NormalLimit:     10,
		NormalWindow:    10 * time.Minute,
		RapidThreshold:  5,
		RapidWindow:     30 * time.Second,
		BulkLimit:       30,
		BulkWindow:      10 * time.Minute,
		MaxBulkDuration: 30 * time.Minute,
		RetryFloor:      time.Second,
		BulkRetryFloor:  30 * time.Second,
	}
}

// Classifier принимает решения о допуске запросов. Решение чисто
// вычислительное: никакого ввода-вывода, O(размер окна) на вызов.
type Classifier struct {
	state  RateState
	limits Limits
	now    func() time.Time
}

// NewClassifier создаёт классификатор поверх указанного хранилища состояния.
func NewClassifier(state RateState, limits Limits) *Classifier {
	return &Classifier{
		state:  state,
		limits: limits,
		now:    time.Now,
	}
}

// Admit проверяет допуск очередного запроса клиента. Чтение и изменение окна
// выполняются целиком под блокировкой хранилища: конкурентные запросы одного
// клиента видят согласованное состояние.
// Пустой идентификатор попадает в общую корзину SharedIdentity.
func (c *Classifier) Admit(identity string) Decision {
	if identity == "" {
		identity = SharedIdentity
	}

	now := c.now()

	var d Decision
	c.state.Update(identity, func(w *Window) {
		d = decide(w, c.limits, now)
	})

	return d
}

// decide применяет решение о допуске к окну клиента. Чистая функция над
// переданным окном; синхронизацию обеспечивает вызывающая сторона.
func decide(w *Window, limits Limits, now time.Time) Decision {
	w.Bulk.Rapid = pruneStamps(w.Bulk.Rapid, now.Add(-limits.RapidWindow))
	w.Bulk.Rapid = append(w.Bulk.Rapid, now)

	if !w.Bulk.Enabled && len(w.Bulk.Rapid) >= limits.RapidThreshold {
		w.Bulk.Enabled = true
		w.Bulk.EnabledAt = now
	} else if w.Bulk.Enabled && now.Sub(w.Bulk.EnabledAt) > limits.MaxBulkDuration {
		w.Bulk.Enabled = false
		w.Bulk.Rapid = nil
	}

	limit, window := limits.NormalLimit, limits.NormalWindow
	if w.Bulk.Enabled {
		limit, window = limits.BulkLimit, limits.BulkWindow
	}

	w.Stamps = pruneStamps(w.Stamps, now.Add(-window))

	if len(w.Stamps) >= limit {
		retry := w.Stamps[0].Add(window).Sub(now)
		floor := limits.RetryFloor
		reason := "rate limit exceeded"
		if w.Bulk.Enabled {
			floor = limits.BulkRetryFloor
			reason = "bulk rate limit exceeded"
		}
		if retry < floor {
			retry = floor
		}

		return Decision{
			Allowed:    false,
			BulkMode:   w.Bulk.Enabled,
			RetryAfter: retry,
			Reason:     reason,
		}
	}

	w.Stamps = append(w.Stamps, now)

	return Decision{Allowed: true, BulkMode: w.Bulk.Enabled}
}

// StartPruning запускает фоновую чистку неактивных клиентов из хранилища.
func (c *Classifier) StartPruning(ctx context.Context, interval time.Duration) {
	retention := c.limits.NormalWindow
	if c.limits.BulkWindow > retention {
		retention = c.limits.BulkWindow
	}
	retention += c.limits.MaxBulkDuration

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.state.Prune(c.now().Add(-retention))
			}
		}
	}()
}

func pruneStamps(stamps []time.Time, before time.Time) []time.Time {
	i := 0
	for i < len(stamps) && stamps[i].Before(before) {
		i++
	}
	if i == 0 {
		return stamps
	}
	return append(stamps[:0:0], stamps[i:]...)
}
