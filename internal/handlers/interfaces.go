package handlers

import (
	"context"

	"tarot-system/internal/models"

	"github.com/google/uuid"
)

// ----- Sessions -----

type SessionService interface {
	RequestSession(ctx context.Context, clientID uuid.UUID, req *models.CreateSessionRequest) (*models.Session, error)
	AcceptSession(ctx context.Context, sessionID uuid.UUID, operatorID *uuid.UUID) (*models.Session, error)
	DeclineSession(ctx context.Context, sessionID uuid.UUID) (*models.Session, error)
	GrantBonus(ctx context.Context, sessionID uuid.UUID) (*models.BonusResult, error)
	FinalizeSession(ctx context.Context, sessionID uuid.UUID, reason models.FinishReason) (*models.FinalizeResult, error)
	ReviewSession(ctx context.Context, sessionID, clientID uuid.UUID, req *models.CreateReviewRequest) (*models.Session, error)
	GetSession(ctx context.Context, sessionID uuid.UUID) (*models.Session, error)
	ListSessions(ctx context.Context, filter *models.SessionFilter) ([]*models.Session, error)
}

// ----- Coupons -----

type CouponService interface {
	CreateCoupon(ctx context.Context, req *models.CouponRequest) (*models.Coupon, error)
	GetCoupon(ctx context.Context, couponID uuid.UUID) (*models.Coupon, error)
	ListCoupons(ctx context.Context, status *models.CouponStatus, limit, offset int) ([]*models.Coupon, error)
	UpdateCoupon(ctx context.Context, couponID uuid.UUID, req *models.CouponRequest) (*models.Coupon, error)
	DeleteCoupon(ctx context.Context, couponID uuid.UUID) error
	ListRedemptions(ctx context.Context, couponID uuid.UUID) ([]*models.CouponRedemption, error)
	Validate(ctx context.Context, code string, userID uuid.UUID, amount float64) (*models.CouponValidation, error)
}

// ----- Loyalty -----

type LoyaltyService interface {
	Accumulate(ctx context.Context, userID uuid.UUID, minutesUsed int) (*models.LoyaltyOutcome, error)
	Progress(ctx context.Context, userID uuid.UUID) ([]*models.LoyaltyProgress, error)
	ListGrants(ctx context.Context, userID uuid.UUID) ([]*models.LoyaltyBonusGrant, error)
	CreateConfiguration(ctx context.Context, req *models.LoyaltyConfigurationRequest) (*models.LoyaltyConfiguration, error)
	GetConfiguration(ctx context.Context, configID uuid.UUID) (*models.LoyaltyConfiguration, error)
	ListConfigurations(ctx context.Context) ([]*models.LoyaltyConfiguration, error)
	UpdateConfiguration(ctx context.Context, configID uuid.UUID, req *models.LoyaltyConfigurationRequest) (*models.LoyaltyConfiguration, error)
	DeleteConfiguration(ctx context.Context, configID uuid.UUID) error
}

// ----- Purchases -----

type PurchaseService interface {
	CreatePurchase(ctx context.Context, userID uuid.UUID, req *models.CreatePurchaseRequest) (*models.Checkout, error)
	ApprovePurchase(ctx context.Context, purchaseID, adminID uuid.UUID) (*models.Purchase, error)
	CancelPurchase(ctx context.Context, purchaseID, adminID uuid.UUID) (*models.Purchase, error)
	Checkout(ctx context.Context, purchaseID uuid.UUID) (*models.Checkout, error)
	ListPurchases(ctx context.Context, filter *models.PurchaseFilter) ([]*models.Purchase, error)
}

// ----- Consultants -----

type ConsultantService interface {
	CreateConsultant(ctx context.Context, req *models.CreateConsultantRequest) (*models.Consultant, error)
	GetConsultant(ctx context.Context, consultantID uuid.UUID) (*models.Consultant, error)
	ListConsultants(ctx context.Context, status *models.ConsultantStatus, limit, offset int) ([]*models.Consultant, error)
	UpdateConsultant(ctx context.Context, consultantID uuid.UUID, req *models.UpdateConsultantRequest) (*models.Consultant, error)
	UpdateStatus(ctx context.Context, consultantID uuid.UUID, status models.ConsultantStatus) (*models.Consultant, error)
}

// ----- Users -----

type UserService interface {
	EnsureProfile(ctx context.Context, userID uuid.UUID, role models.UserRole, req *models.UpdateProfileRequest) (*models.User, error)
	GetUser(ctx context.Context, userID uuid.UUID) (*models.User, error)
	ListUsers(ctx context.Context, role *models.UserRole, limit, offset int) ([]*models.User, error)
	CreditMinutes(ctx context.Context, userID uuid.UUID, req *models.CreditMinutesRequest, adminID uuid.UUID) (*models.User, error)
}

// ----- Dashboard -----

type DashboardService interface {
	GetSummary(ctx context.Context, filter *models.DashboardFilter) (*models.DashboardSummary, error)
}

// ----- Idempotency -----

type IdempotencyGuard interface {
	Reserve(ctx context.Context, owner, key string) (bool, error)
	Release(ctx context.Context, owner, key string)
	Enabled() bool
}

// ----- Health -----

type DBHealth interface {
	Health() error
}

type RedisHealth interface {
	Health(ctx context.Context) error
}
