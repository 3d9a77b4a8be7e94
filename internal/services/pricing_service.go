package services

import (
	"fmt"

	"tarot-system/internal/apperror"
)

// PricingService рассчитывает стоимость пакета минут.
type PricingService struct {
	PricePerMinute float64
	MinMinutes     int
	MaxMinutes     int
}

// NewPricingService создаёт сервис с тарифами.
func NewPricingService(pricePerMinute float64, minMinutes, maxMinutes int) *PricingService {
	return &PricingService{
		PricePerMinute: pricePerMinute,
		MinMinutes:     minMinutes,
		MaxMinutes:     maxMinutes,
	}
}

// ValidateMinutes проверяет, что пакет укладывается в допустимые границы.
func (s *PricingService) ValidateMinutes(minutes int) error {
	if minutes < s.MinMinutes {
		return apperror.Validation(fmt.Sprintf("minimum purchase is %d minutes", s.MinMinutes), nil)
	}
	if s.MaxMinutes > 0 && minutes > s.MaxMinutes {
		return apperror.Validation(fmt.Sprintf("maximum purchase is %d minutes", s.MaxMinutes), nil)
	}
	return nil
}

// CalculateCost считает цену пакета, округлённую до копеек.
func (s *PricingService) CalculateCost(minutes int) float64 {
	if minutes < 0 {
		minutes = 0
	}
	return round2(float64(minutes) * s.PricePerMinute)
}
