package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

const succeededBody = `{
	"id": "evt_1",
	"type": "payment_intent.succeeded",
	"data": {
		"object": {
			"id": "pi_123",
			"amount": 57500,
			"currency": "usd",
			"metadata": {
				"source": "shop-eu",
				"customerEmail": "buyer@example.com"
			}
		}
	}
}`

func TestParseEvent_Recognized(t *testing.T) {
	ev, err := ParseEvent([]byte(succeededBody))
	if err != nil {
		t.Fatalf("ParseEvent error: %v", err)
	}

	intent, ok := ev.Recognized("shop-eu")
	if !ok {
		t.Fatalf("event not recognized, want recognized")
	}
	if intent.TransactionID != "pi_123" {
		t.Fatalf("TransactionID = %q, want pi_123", intent.TransactionID)
	}
	if intent.Amount != 57500 {
		t.Fatalf("Amount = %d, want 57500", intent.Amount)
	}
	if intent.Meta("customerEmail") != "buyer@example.com" {
		t.Fatalf("metadata lost: %+v", intent.Metadata)
	}
}

func TestParseEvent_WrongType(t *testing.T) {
	body := `{"id":"evt_2","type":"payment_intent.created","data":{"object":{"id":"pi_1","metadata":{"source":"shop-eu"}}}}`

	ev, err := ParseEvent([]byte(body))
	if err != nil {
		t.Fatalf("ParseEvent error: %v", err)
	}

	if _, ok := ev.Recognized("shop-eu"); ok {
		t.Fatalf("wrong event type recognized")
	}
}

func TestParseEvent_MissingSourceTag(t *testing.T) {
	body := `{"id":"evt_3","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1","amount":100,"metadata":{}}}}`

	ev, err := ParseEvent([]byte(body))
	if err != nil {
		t.Fatalf("ParseEvent error: %v", err)
	}

	if _, ok := ev.Recognized("shop-eu"); ok {
		t.Fatalf("event without source tag recognized")
	}
}

func TestParseEvent_ForeignSourceTag(t *testing.T) {
	ev, err := ParseEvent([]byte(succeededBody))
	if err != nil {
		t.Fatalf("ParseEvent error: %v", err)
	}

	if _, ok := ev.Recognized("other-shop"); ok {
		t.Fatalf("event of another storefront recognized")
	}
}

func TestParseEvent_MissingTransactionID(t *testing.T) {
	body := `{"id":"evt_4","type":"payment_intent.succeeded","data":{"object":{"metadata":{"source":"shop-eu"}}}}`

	ev, err := ParseEvent([]byte(body))
	if err != nil {
		t.Fatalf("ParseEvent error: %v", err)
	}

	if _, ok := ev.Recognized("shop-eu"); ok {
		t.Fatalf("event without transaction id recognized")
	}
}

func TestParseEvent_MalformedJSON(t *testing.T) {
	if _, err := ParseEvent([]byte(`{"type":`)); err == nil {
		t.Fatalf("expected error for malformed envelope")
	}
}

func signBody(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	body := []byte(succeededBody)

	if !VerifySignature(body, signBody(body, "whsec"), "whsec") {
		t.Fatalf("valid signature rejected")
	}
	if VerifySignature(body, signBody(body, "other"), "whsec") {
		t.Fatalf("signature with wrong secret accepted")
	}
	if VerifySignature(body, "sha256=zz", "whsec") {
		t.Fatalf("undecodable signature accepted")
	}
	if VerifySignature(body, "", "whsec") {
		t.Fatalf("missing signature accepted with configured secret")
	}
	if !VerifySignature(body, "", "") {
		t.Fatalf("unsigned event rejected with empty secret")
	}
}
