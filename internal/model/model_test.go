package model

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from OrderStatus
		to   OrderStatus
		want bool
	}{
		{"pending to confirmed", OrderStatusPending, OrderStatusConfirmed, true},
		{"confirmed to processing", OrderStatusConfirmed, OrderStatusProcessing, true},
		{"processing to shipped", OrderStatusProcessing, OrderStatusShipped, true},
		{"shipped to delivered", OrderStatusShipped, OrderStatusDelivered, true},
		{"pending to shipped skips states", OrderStatusPending, OrderStatusShipped, false},
		{"same status", OrderStatusConfirmed, OrderStatusConfirmed, false},
		{"backwards", OrderStatusShipped, OrderStatusProcessing, false},
		{"cancel from pending", OrderStatusPending, OrderStatusCancelled, true},
		{"cancel from shipped", OrderStatusShipped, OrderStatusCancelled, true},
		{"cancel from delivered", OrderStatusDelivered, OrderStatusCancelled, false},
		{"cancel from cancelled", OrderStatusCancelled, OrderStatusCancelled, false},
		{"out of cancelled", OrderStatusCancelled, OrderStatusConfirmed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Fatalf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestCommissionBase(t *testing.T) {
	o := &Order{Subtotal: 50000, Total: 57500}
	if got := o.CommissionBase(); got != 50000 {
		t.Fatalf("CommissionBase = %d, want subtotal 50000", got)
	}

	o = &Order{Total: 57500}
	if got := o.CommissionBase(); got != 57500 {
		t.Fatalf("CommissionBase = %d, want total 57500", got)
	}

	o = &Order{}
	if got := o.CommissionBase(); got != 0 {
		t.Fatalf("CommissionBase = %d, want 0 for empty amounts", got)
	}
}
