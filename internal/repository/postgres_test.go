package repository

import (
	"errors"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mmeshcher/reseller-platform/internal/model"
)

func TestComputeCommission(t *testing.T) {
	tests := []struct {
		name string
		base int64
		rate float64
		want int64
	}{
		{"whole percent", 100000, 15, 15000},
		{"scenario subtotal 500 at 15", 50000, 15, 7500},
		{"fractional rate rounds once", 10000, 12.5, 1250},
		{"rounding to minor unit", 999, 15, 150},
		{"zero base", 0, 15, 0},
		{"zero rate", 100000, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := computeCommission(tt.base, tt.rate); got != tt.want {
				t.Fatalf("computeCommission(%d, %v) = %d, want %d", tt.base, tt.rate, got, tt.want)
			}
		})
	}
}

func TestSettlementCommission(t *testing.T) {
	tests := []struct {
		name     string
		subtotal int64
		total    int64
		rate     float64
		want     int64
	}{
		{"subtotal preferred over total", 50000, 57500, 15, 7500},
		{"zero subtotal falls back to total", 0, 57500, 15, 8625},
		{"no amounts yields zero", 0, 0, 15, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := &model.Order{Subtotal: tt.subtotal, Total: tt.total}
			if got := settlementCommission(o, tt.rate); got != tt.want {
				t.Fatalf("settlementCommission(%d/%d, %v) = %d, want %d",
					tt.subtotal, tt.total, tt.rate, got, tt.want)
			}
		})
	}
}

func TestAttributionFor(t *testing.T) {
	if m := attributionFor("click-1", "JOHN-123", "SALE10"); m != model.AttributionServer {
		t.Fatalf("click id present: method = %s, want server", m)
	}
	if m := attributionFor("", "JOHN-123", "SALE10"); m != model.AttributionCookie {
		t.Fatalf("code only: method = %s, want cookie", m)
	}
	if m := attributionFor("", "", "SALE10"); m != model.AttributionDiscount {
		t.Fatalf("discount only: method = %s, want discount", m)
	}
	if m := attributionFor("", "", ""); m != "" {
		t.Fatalf("no signals: method = %s, want empty", m)
	}
}

func TestIsTransient(t *testing.T) {
	if !isTransient(&pgconn.PgError{Code: pgerrcode.SerializationFailure}) {
		t.Fatalf("serialization failure not transient")
	}
	if !isTransient(&pgconn.PgError{Code: pgerrcode.DeadlockDetected}) {
		t.Fatalf("deadlock not transient")
	}
	if isTransient(&pgconn.PgError{Code: pgerrcode.UniqueViolation}) {
		t.Fatalf("unique violation treated as transient")
	}
	if isTransient(errors.New("some business error")) {
		t.Fatalf("plain error treated as transient")
	}
	if !isTransient(errors.New("dial tcp: connection refused")) {
		t.Fatalf("connection error not transient")
	}
}
