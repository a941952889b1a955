package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/hwledger/internal/model"
)

func newTestHardwareSet(name string, capacity, available int) *model.HardwareSet {
	now := time.Now()
	return &model.HardwareSet{
		ID:        uuid.New().String(),
		Name:      name,
		Capacity:  capacity,
		Available: available,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestMemoryHardwareSetRepo_AdjustWithinBounds(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryHardwareSetRepo()
	h := newTestHardwareSet("HWSet1", 100, 50)
	if err := repo.Create(ctx, h); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := repo.Adjust(ctx, h.ID, -30)
	if err != nil {
		t.Fatalf("Adjust: %v", err)
	}
	if got.Available != 20 {
		t.Errorf("Available = %d, want 20", got.Available)
	}
	if got.Version != 1 {
		t.Errorf("Version = %d, want 1", got.Version)
	}

	got, err = repo.Adjust(ctx, h.ID, 80)
	if err != nil {
		t.Fatalf("Adjust: %v", err)
	}
	if got.Available != 100 {
		t.Errorf("Available = %d, want 100", got.Available)
	}
}

func TestMemoryHardwareSetRepo_AdjustOutOfBounds(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryHardwareSetRepo()
	h := newTestHardwareSet("HWSet1", 100, 40)
	if err := repo.Create(ctx, h); err != nil {
		t.Fatalf("Create: %v", err)
	}

	tests := []struct {
		name  string
		delta int
	}{
		{"容量超過", 61},
		{"負の在庫", -41},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := repo.Adjust(ctx, h.ID, tt.delta)
			if !errors.Is(err, ErrOutOfBounds) {
				t.Fatalf("err = %v, want ErrOutOfBounds", err)
			}
			var oob *OutOfBoundsError
			if !errors.As(err, &oob) {
				t.Fatalf("err = %T, want *OutOfBoundsError", err)
			}
			if oob.Current.Available != 40 {
				t.Errorf("Current.Available = %d, want 40", oob.Current.Available)
			}
		})
	}

	// 拒否された変更は何も適用しない
	got, _ := repo.FindByID(ctx, h.ID)
	if got.Available != 40 || got.Version != 0 {
		t.Errorf("state changed after rejected adjust: available=%d version=%d", got.Available, got.Version)
	}
}

func TestMemoryHardwareSetRepo_AdjustNotFound(t *testing.T) {
	repo := NewMemoryHardwareSetRepo()
	if _, err := repo.Adjust(context.Background(), "missing", 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

// N並列のチェックインがすべて成功し、N+1件目が拒否されることを検証する
func TestMemoryHardwareSetRepo_AdjustConcurrent(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryHardwareSetRepo()
	const n = 200
	h := newTestHardwareSet("HWSet1", n, 0)
	if err := repo.Create(ctx, h); err != nil {
		t.Fatalf("Create: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.Adjust(ctx, h.ID, 1); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("unexpected error: %v", err)
	}

	got, _ := repo.FindByID(ctx, h.ID)
	if got.Available != n {
		t.Errorf("Available = %d, want %d", got.Available, n)
	}
	if _, err := repo.Adjust(ctx, h.ID, 1); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("err = %v, want ErrOutOfBounds", err)
	}
}

func TestMemoryHardwareSetRepo_UpdateCapacity(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryHardwareSetRepo()
	h := newTestHardwareSet("HWSet1", 100, 60)
	if err := repo.Create(ctx, h); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := repo.UpdateCapacity(ctx, h.ID, 59); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("err = %v, want ErrOutOfBounds", err)
	}

	got, err := repo.UpdateCapacity(ctx, h.ID, 60)
	if err != nil {
		t.Fatalf("UpdateCapacity: %v", err)
	}
	if got.Capacity != 60 || got.Available != 60 {
		t.Errorf("got capacity=%d available=%d, want 60/60", got.Capacity, got.Available)
	}
}

func TestMemoryHardwareSetRepo_ListOrdering(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryHardwareSetRepo()
	b := newTestHardwareSet("HWSet2", 10, 0)
	a := newTestHardwareSet("HWSet1", 10, 0)
	_ = repo.Create(ctx, b)
	_ = repo.Create(ctx, a)

	all, err := repo.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(all) != 2 || all[0].Name != "HWSet1" || all[1].Name != "HWSet2" {
		t.Errorf("ListAll order = %v", all)
	}

	byIDs, err := repo.ListByIDs(ctx, []string{b.ID, "missing", a.ID, b.ID})
	if err != nil {
		t.Fatalf("ListByIDs: %v", err)
	}
	if len(byIDs) != 2 || byIDs[0].ID != b.ID || byIDs[1].ID != a.ID {
		t.Errorf("ListByIDs = %v, want [%s %s]", byIDs, b.ID, a.ID)
	}
}

func TestMemoryProjectRepo_CreateAndFind(t *testing.T) {
	ctx := context.Background()
	hwsets := NewMemoryHardwareSetRepo()
	h := newTestHardwareSet("HWSet1", 100, 0)
	_ = hwsets.Create(ctx, h)
	repo := NewMemoryProjectRepo(hwsets)

	p := &model.Project{
		ID:              uuid.New().String(),
		Name:            "Project 1",
		HardwareSetIDs:  []string{h.ID, h.ID},
		AuthorizedUsers: []string{"alice"},
		CreatedBy:       "alice",
		CreatedAt:       time.Now(),
	}
	if err := repo.Create(ctx, p); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := repo.FindByName(ctx, "Project 1")
	if err != nil || got == nil {
		t.Fatalf("FindByName: %v, %v", got, err)
	}
	if len(got.HardwareSetIDs) != 1 {
		t.Errorf("HardwareSetIDs = %v, want deduplicated", got.HardwareSetIDs)
	}

	// 戻り値を変更しても保存内容に影響しない
	got.AuthorizedUsers[0] = "mallory"
	again, _ := repo.FindByID(ctx, p.ID)
	if again.AuthorizedUsers[0] != "alice" {
		t.Error("stored project was mutated through returned copy")
	}

	dup := *p
	dup.ID = uuid.New().String()
	if err := repo.Create(ctx, &dup); !errors.Is(err, ErrDuplicate) {
		t.Errorf("err = %v, want ErrDuplicate", err)
	}

	missing := &model.Project{ID: uuid.New().String(), Name: "Project X", HardwareSetIDs: []string{"nope"}}
	if err := repo.Create(ctx, missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestMemoryProjectRepo_MembershipIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryProjectRepo(nil)
	p := &model.Project{ID: uuid.New().String(), Name: "Project 1", AuthorizedUsers: []string{"alice"}}
	_ = repo.Create(ctx, p)

	changed, err := repo.AddMember(ctx, p.ID, "bob")
	if err != nil || !changed {
		t.Fatalf("AddMember first: changed=%v err=%v", changed, err)
	}
	changed, err = repo.AddMember(ctx, p.ID, "bob")
	if err != nil || changed {
		t.Fatalf("AddMember second: changed=%v err=%v", changed, err)
	}

	changed, err = repo.RemoveMember(ctx, p.ID, "bob")
	if err != nil || !changed {
		t.Fatalf("RemoveMember first: changed=%v err=%v", changed, err)
	}
	changed, err = repo.RemoveMember(ctx, p.ID, "bob")
	if err != nil || changed {
		t.Fatalf("RemoveMember second: changed=%v err=%v", changed, err)
	}

	if _, err := repo.AddMember(ctx, "missing", "bob"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestMemoryProjectRepo_ConcurrentJoin(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryProjectRepo(nil)
	p := &model.Project{ID: uuid.New().String(), Name: "Project 1"}
	_ = repo.Create(ctx, p)

	var wg sync.WaitGroup
	var mu sync.Mutex
	changedCount := 0
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			changed, err := repo.AddMember(ctx, p.ID, "bob")
			if err != nil {
				t.Errorf("AddMember: %v", err)
				return
			}
			if changed {
				mu.Lock()
				changedCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if changedCount != 1 {
		t.Errorf("changed reported %d times, want 1", changedCount)
	}
	got, _ := repo.FindByID(ctx, p.ID)
	if len(got.AuthorizedUsers) != 1 {
		t.Errorf("AuthorizedUsers = %v, want [bob]", got.AuthorizedUsers)
	}
}

func TestMemoryUserRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryUserRepo()
	u := &model.User{ID: uuid.New().String(), Username: "alice", PasswordHash: "x"}
	if err := repo.Create(ctx, u); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.Create(ctx, u); !errors.Is(err, ErrDuplicate) {
		t.Errorf("err = %v, want ErrDuplicate", err)
	}
	got, _ := repo.FindByUsername(ctx, "alice")
	if got == nil || got.ID != u.ID {
		t.Errorf("FindByUsername = %v", got)
	}
	if got, _ := repo.FindByUsername(ctx, "bob"); got != nil {
		t.Errorf("FindByUsername(bob) = %v, want nil", got)
	}
}

func TestMemoryRevokedTokenRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRevokedTokenRepo()
	now := time.Now()
	_ = repo.Revoke(ctx, &model.RevokedToken{TokenID: "old", ExpiresAt: now.Add(-time.Minute)})
	_ = repo.Revoke(ctx, &model.RevokedToken{TokenID: "new", ExpiresAt: now.Add(time.Hour)})

	if revoked, _ := repo.IsRevoked(ctx, "new"); !revoked {
		t.Error("expected token to be revoked")
	}

	deleted, err := repo.DeleteExpired(ctx, now)
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}
	if revoked, _ := repo.IsRevoked(ctx, "old"); revoked {
		t.Error("expired revocation should have been deleted")
	}
}
