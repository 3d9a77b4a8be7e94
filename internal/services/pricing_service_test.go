package services

import (
	"testing"

	"tarot-system/internal/apperror"
)

func TestPricingService_CalculateCost(t *testing.T) {
	p := NewPricingService(2.5, 20, 600)
	if got := p.CalculateCost(30); got != 75 {
		t.Fatalf("expected 75, got %.2f", got)
	}
	if got := p.CalculateCost(-5); got != 0 {
		t.Fatalf("expected 0 for negative minutes, got %.2f", got)
	}

	p = NewPricingService(1.99, 20, 600)
	if got := p.CalculateCost(33); got != 65.67 {
		t.Fatalf("expected 65.67, got %.2f", got)
	}
}

func TestPricingService_ValidateMinutes(t *testing.T) {
	p := NewPricingService(2.5, 20, 600)

	if err := p.ValidateMinutes(19); !apperror.Is(err, apperror.KindValidation) {
		t.Fatalf("expected validation error below minimum, got %v", err)
	}
	if err := p.ValidateMinutes(601); !apperror.Is(err, apperror.KindValidation) {
		t.Fatalf("expected validation error above maximum, got %v", err)
	}
	if err := p.ValidateMinutes(20); err != nil {
		t.Fatalf("expected 20 minutes to be valid, got %v", err)
	}
}
