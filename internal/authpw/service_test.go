package authpw

import (
	"context"
	"database/sql"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"carrel/api/internal/store"
)

type fakeUserStore struct {
	users  map[string]store.User
	nextID int64
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: make(map[string]store.User), nextID: 1}
}

func (f *fakeUserStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	user, ok := f.users[email]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeUserStore) CreateUser(_ context.Context, user store.User) (store.User, error) {
	user.ID = f.nextID
	f.nextID++
	f.users[user.Email] = user
	return user, nil
}

func TestSignUpAndSignIn(t *testing.T) {
	svc := NewService(newFakeUserStore())
	ctx := context.Background()

	user, err := svc.SignUp(ctx, SignUpRequest{
		Email:       "  Avery@Example.com ",
		Password:    "correct-horse",
		DisplayName: "Avery",
	})
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	if user.ID == 0 {
		t.Fatal("expected user to get an id")
	}
	if user.Email != "avery@example.com" {
		t.Fatalf("expected normalized email, got %q", user.Email)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("correct-horse")); err != nil {
		t.Fatalf("stored hash does not match password: %v", err)
	}

	signedIn, err := svc.SignIn(ctx, "avery@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if signedIn.ID != user.ID {
		t.Fatalf("expected user %d, got %d", user.ID, signedIn.ID)
	}
}

func TestSignUpRejectsDuplicateEmail(t *testing.T) {
	svc := NewService(newFakeUserStore())
	ctx := context.Background()

	if _, err := svc.SignUp(ctx, SignUpRequest{Email: "a@b.com", Password: "long-enough", DisplayName: "A"}); err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	if _, err := svc.SignUp(ctx, SignUpRequest{Email: "a@b.com", Password: "long-enough", DisplayName: "B"}); err == nil {
		t.Fatal("expected duplicate email to be rejected")
	}
}

func TestSignUpRejectsShortPassword(t *testing.T) {
	svc := NewService(newFakeUserStore())
	if _, err := svc.SignUp(context.Background(), SignUpRequest{Email: "a@b.com", Password: "short", DisplayName: "A"}); err == nil {
		t.Fatal("expected short password to be rejected")
	}
}

func TestSignInRejectsWrongPassword(t *testing.T) {
	svc := NewService(newFakeUserStore())
	ctx := context.Background()

	if _, err := svc.SignUp(ctx, SignUpRequest{Email: "a@b.com", Password: "long-enough", DisplayName: "A"}); err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	if _, err := svc.SignIn(ctx, "a@b.com", "wrong-password"); err == nil {
		t.Fatal("expected wrong password to be rejected")
	}
	if _, err := svc.SignIn(ctx, "missing@b.com", "long-enough"); err == nil {
		t.Fatal("expected unknown email to be rejected")
	}
}
