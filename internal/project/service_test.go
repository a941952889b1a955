package project

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/hwledger/internal/hwset"
	"github.com/hitoshi/hwledger/internal/model"
	"github.com/hitoshi/hwledger/internal/repository"
)

type fixture struct {
	svc    *Service
	hwsets *hwset.Service
	hw1    *model.HardwareSet
	hw2    *model.HardwareSet
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	hwRepo := repository.NewMemoryHardwareSetRepo()
	hwsets := hwset.NewService(hwRepo, nil, nil)
	hw1, err := hwsets.Create(ctx, "HWSet1", 100, model.InitialStockFull)
	require.NoError(t, err)
	hw2, err := hwsets.Create(ctx, "HWSet2", 100, model.InitialStockFull)
	require.NoError(t, err)

	return &fixture{
		svc:    NewService(repository.NewMemoryProjectRepo(hwRepo), hwsets, nil),
		hwsets: hwsets,
		hw1:    hw1,
		hw2:    hw2,
	}
}

func TestService_Create(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.svc.Create(ctx, "Project 1", "first project", []string{f.hw1.ID, f.hw2.ID, f.hw1.ID}, "alice")
	require.NoError(t, err)

	assert.Equal(t, "Project 1", p.Name)
	assert.Equal(t, []string{f.hw1.ID, f.hw2.ID}, p.HardwareSetIDs)
	assert.Equal(t, []string{"alice"}, p.AuthorizedUsers)
	assert.Equal(t, "alice", p.CreatedBy)
}

func TestService_Create_StripsMarkup(t *testing.T) {
	f := newFixture(t)

	p, err := f.svc.Create(context.Background(), "<b>R&D</b>", `<script>x()</script>notes`, nil, "alice")
	require.NoError(t, err)
	assert.Equal(t, "R&D", p.Name)
	assert.Equal(t, "notes", p.Description)
}

func TestService_Create_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Create(ctx, "Project 1", "", nil, "alice")
	require.NoError(t, err)

	tests := []struct {
		name     string
		pName    string
		hwsets   []string
		creator  string
		wantKind model.ErrorKind
	}{
		{"未認証", "Project 2", nil, "", model.KindUnauthenticated},
		{"空の名前", "   ", nil, "alice", model.KindInvalidArgument},
		{"タグのみの名前", "<i></i>", nil, "alice", model.KindInvalidArgument},
		{"存在しないハードウェアセット", "Project 2", []string{"missing"}, "alice", model.KindNotFound},
		{"重複名", "Project 1", nil, "bob", model.KindConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Create(ctx, tt.pName, "", tt.hwsets, tt.creator)
			assert.Equal(t, tt.wantKind, model.KindOf(err))
		})
	}
}

func TestService_Resolve(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, err := f.svc.Create(ctx, "Project 1", "", nil, "alice")
	require.NoError(t, err)

	byID, err := f.svc.Resolve(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, byID.ID)

	byName, err := f.svc.Resolve(ctx, "Project 1")
	require.NoError(t, err)
	assert.Equal(t, p.ID, byName.ID)

	_, err = f.svc.Resolve(ctx, "Project 9")
	assert.True(t, model.IsKind(err, model.KindNotFound))
}

func TestService_List_ReadsHardwareLive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Create(ctx, "Project 1", "", []string{f.hw1.ID}, "alice")
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, "Project 2", "", []string{f.hw1.ID, f.hw2.ID}, "bob")
	require.NoError(t, err)

	_, err = f.hwsets.Adjust(ctx, f.hw1.ID, -25)
	require.NoError(t, err)

	views, err := f.svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, views, 2)

	// 共有プールなので両プロジェクトから同じ値が見える
	for _, v := range views {
		require.NotEmpty(t, v.HardwareSets)
		assert.Equal(t, f.hw1.ID, v.HardwareSets[0].ID)
		assert.Equal(t, 75, v.HardwareSets[0].Available)
	}
	assert.Len(t, views[1].HardwareSets, 2)
}

func TestService_ListJoined_ReadsLive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	before, err := f.svc.ListJoined(ctx, []string{f.hw2.ID, f.hw1.ID})
	require.NoError(t, err)
	require.Len(t, before, 2)
	assert.Equal(t, f.hw2.ID, before[0].ID)
	assert.Equal(t, 100, before[0].Available)

	_, err = f.hwsets.Adjust(ctx, f.hw2.ID, -40)
	require.NoError(t, err)

	after, err := f.svc.ListJoined(ctx, []string{f.hw2.ID, f.hw1.ID})
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.Equal(t, 60, after[0].Available)
	assert.Equal(t, int64(1), after[0].Version)
	assert.Equal(t, 100, after[1].Available)
	// 以前の読み取り結果は変化しない
	assert.Equal(t, 100, before[0].Available)

	for _, ids := range [][]string{nil, {}} {
		got, err := f.svc.ListJoined(ctx, ids)
		require.NoError(t, err)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	}

	missing, err := f.svc.ListJoined(ctx, []string{"missing", f.hw1.ID})
	require.NoError(t, err)
	require.Len(t, missing, 1)
	assert.Equal(t, f.hw1.ID, missing[0].ID)
}

func TestService_View_FollowsReferenceOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, err := f.svc.Create(ctx, "Project 1", "", []string{f.hw2.ID, f.hw1.ID}, "alice")
	require.NoError(t, err)

	_, err = f.hwsets.Adjust(ctx, f.hw1.ID, -10)
	require.NoError(t, err)

	v, err := f.svc.View(ctx, p)
	require.NoError(t, err)
	require.Len(t, v.HardwareSets, 2)
	assert.Equal(t, f.hw2.ID, v.HardwareSets[0].ID)
	assert.Equal(t, f.hw1.ID, v.HardwareSets[1].ID)
	assert.Equal(t, 90, v.HardwareSets[1].Available)
}

func TestService_Membership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, err := f.svc.Create(ctx, "Project 1", "", nil, "alice")
	require.NoError(t, err)

	changed, err := f.svc.AddUser(ctx, p.ID, "bob")
	require.NoError(t, err)
	assert.True(t, changed)

	ok, err := f.svc.IsAuthorized(ctx, p.ID, "bob")
	require.NoError(t, err)
	assert.True(t, ok)

	changed, err = f.svc.RemoveUser(ctx, p.ID, "bob")
	require.NoError(t, err)
	assert.True(t, changed)

	ok, err = f.svc.IsAuthorized(ctx, p.ID, "bob")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.svc.AddUser(ctx, "missing", "bob")
	assert.True(t, model.IsKind(err, model.KindNotFound))

	ok, err = f.svc.IsAuthorized(ctx, p.ID, "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestService_AddHardwareSets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, err := f.svc.Create(ctx, "Project 1", "", []string{f.hw1.ID}, "alice")
	require.NoError(t, err)

	view, err := f.svc.AddHardwareSets(ctx, p.ID, []string{f.hw1.ID, f.hw2.ID}, "admin")
	require.NoError(t, err)
	assert.Equal(t, []string{f.hw1.ID, f.hw2.ID}, view.HardwareSetIDs)
	assert.Len(t, view.HardwareSets, 2)

	_, err = f.svc.AddHardwareSets(ctx, p.ID, nil, "admin")
	assert.True(t, model.IsKind(err, model.KindInvalidArgument))

	_, err = f.svc.AddHardwareSets(ctx, p.ID, []string{"missing"}, "admin")
	assert.True(t, model.IsKind(err, model.KindNotFound))

	_, err = f.svc.AddHardwareSets(ctx, "missing", []string{f.hw2.ID}, "admin")
	assert.True(t, model.IsKind(err, model.KindNotFound))
}
