package services

import (
	"context"
	"testing"
	"time"

	"tarot-system/internal/apperror"
	"tarot-system/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
)

var userTestColumns = []string{"id", "name", "phone", "role", "minutes_available", "minutes_accumulated", "created_at", "updated_at"}

func TestUserService_EnsureProfile_DowngradesUnknownRole(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()

	service := NewUserService(db, newTestLogger())
	userID := uuid.New()
	now := time.Now()

	mock.ExpectQuery("INSERT INTO users").
		WithArgs(userID, "Maria", "+5511999990000", models.UserRoleClient, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(userTestColumns).
			AddRow(userID, "Maria", "+5511999990000", models.UserRoleClient, 0, 0, now, now))

	user, err := service.EnsureProfile(context.Background(), userID, models.UserRole("operator"), &models.UpdateProfileRequest{
		Name:  " Maria ",
		Phone: "+5511999990000",
	})
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}

	if user.ID != userID || user.Role != models.UserRoleClient {
		t.Fatalf("unexpected user: %+v", user)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUserService_GetUser_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()

	service := NewUserService(db, newTestLogger())
	userID := uuid.New()

	mock.ExpectQuery("SELECT id, name, phone").
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows(userTestColumns))

	if _, err := service.GetUser(context.Background(), userID); !apperror.Is(err, apperror.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUserService_ListUsers_FilterByRole(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()

	service := NewUserService(db, newTestLogger())
	role := models.UserRoleAdmin
	now := time.Now()

	mock.ExpectQuery("SELECT id, name, phone").
		WithArgs(role, defaultListLimit, 0).
		WillReturnRows(sqlmock.NewRows(userTestColumns).
			AddRow(uuid.New(), "Admin", "", role, 0, 0, now, now))

	users, err := service.ListUsers(context.Background(), &role, 0, 0)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if len(users) != 1 || users[0].Role != models.UserRoleAdmin {
		t.Fatalf("unexpected users: %+v", users)
	}
}

func TestUserService_CreditMinutes(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()

	service := NewUserService(db, newTestLogger())
	userID := uuid.New()
	now := time.Now()

	if _, err := service.CreditMinutes(context.Background(), userID, &models.CreditMinutesRequest{Minutes: 0}, uuid.New()); !apperror.Is(err, apperror.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	mock.ExpectQuery("UPDATE users").
		WithArgs(30, sqlmock.AnyArg(), userID).
		WillReturnRows(sqlmock.NewRows(userTestColumns).
			AddRow(userID, "Maria", "", models.UserRoleClient, 80, 10, now, now))

	user, err := service.CreditMinutes(context.Background(), userID, &models.CreditMinutesRequest{Minutes: 30, Reason: "cortesia"}, uuid.New())
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if user.MinutesAvailable != 80 {
		t.Fatalf("expected 80 minutes available, got %d", user.MinutesAvailable)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
