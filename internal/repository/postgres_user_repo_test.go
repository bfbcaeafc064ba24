package repository

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
)

// PostgresUserRepoはUserRepositoryインターフェースを満たすことを検証
func TestPostgresUserRepo_ImplementsInterface(t *testing.T) {
	var _ UserRepository = (*PostgresUserRepo)(nil)
}

// NewPostgresUserRepoが正しく初期化されることを検証
func TestNewPostgresUserRepo_Initializes(t *testing.T) {
	repo := NewPostgresUserRepo(nil)
	if repo == nil {
		t.Fatal("expected non-nil repo")
	}
}

// email一意制約違反の検出に使うエラーコードの対応を検証
// （DB接続なしでロジックのみ検証）
func TestUniqueViolationDetection(t *testing.T) {
	var pqErr error = &pq.Error{Code: uniqueViolation}

	var target *pq.Error
	if !errors.As(fmt.Errorf("failed to insert user: %w", pqErr), &target) {
		t.Fatal("wrapped pq.Error should be unwrappable with errors.As")
	}
	if target.Code != "23505" {
		t.Errorf("unique_violation code = %q, want 23505", target.Code)
	}
}

func TestErrDuplicateEmail_IsSentinel(t *testing.T) {
	wrapped := fmt.Errorf("create failed: %w", ErrDuplicateEmail)
	if !errors.Is(wrapped, ErrDuplicateEmail) {
		t.Error("wrapped ErrDuplicateEmail should match with errors.Is")
	}
}
