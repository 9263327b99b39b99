// Package gateway разбирает события вебхуков платёжного шлюза.
//
// Полезная нагрузка шлюза слабо типизирована, поэтому она парсится в строго
// проверяемую структуру на границе: всё, что не распознано, отбрасывается до
// того, как попадёт в алгоритм восстановления заказа.
package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// EventTypePaymentSucceeded — единственный тип события, который обрабатывает сервис.
const EventTypePaymentSucceeded = "payment_intent.succeeded"

// metadataSourceKey — ключ метаданных, помечающий платёж нашей витрины.
const metadataSourceKey = "source"

// PaymentIntent содержит распознанные поля платёжного намерения.
// Amount — в минимальных единицах валюты, как его передаёт шлюз.
type PaymentIntent struct {
	TransactionID string
	Amount        int64
	Currency      string
	Metadata      map[string]string
}

// Event содержит разобранный конверт события шлюза.
type Event struct {
	ID     string
	Type   string
	Intent *PaymentIntent
}

type rawEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID       string            `json:"id"`
			Amount   int64             `json:"amount"`
			Currency string            `json:"currency"`
			Metadata map[string]string `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

// ParseEvent разбирает тело вебхука. Ошибка означает синтаксически
// некорректный конверт; семантически чужие события разбираются успешно
// и отсеиваются позже через Recognized.
func ParseEvent(body []byte) (*Event, error) {
	var raw rawEnvelope
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode event envelope: %w", err)
	}

	ev := &Event{
		ID:   raw.ID,
		Type: raw.Type,
	}

	if raw.Data.Object.ID != "" {
		ev.Intent = &PaymentIntent{
			TransactionID: raw.Data.Object.ID,
			Amount:        raw.Data.Object.Amount,
			Currency:      raw.Data.Object.Currency,
			Metadata:      raw.Data.Object.Metadata,
		}
	}

	return ev, nil
}

// Recognized возвращает платёжное намерение, если событие относится к потоку
// оформления заказов указанной витрины: тип payment_intent.succeeded,
// непустой идентификатор транзакции и совпадающая метка source.
func (e *Event) Recognized(storefrontTag string) (*PaymentIntent, bool) {
	if e.Type != EventTypePaymentSucceeded || e.Intent == nil {
		return nil, false
	}
	if e.Intent.TransactionID == "" {
		return nil, false
	}
	if e.Intent.Metadata[metadataSourceKey] != storefrontTag {
		return nil, false
	}
	return e.Intent, true
}

// Meta возвращает значение метаданных намерения.
func (p *PaymentIntent) Meta(key string) string {
	if p.Metadata == nil {
		return ""
	}
	return p.Metadata[key]
}

// VerifySignature проверяет подпись тела вебхука заголовком вида
// "sha256=<hex>". Пустой секрет отключает проверку: шлюз может слать
// неподписанные конверты.
func VerifySignature(body []byte, header, secret string) bool {
	if secret == "" {
		return true
	}

	value, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}

	got, err := hex.DecodeString(value)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)

	return hmac.Equal(got, mac.Sum(nil))
}
