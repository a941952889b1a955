// Package seed は初期データ（ハードウェアセット、ユーザー、プロジェクト）の投入を提供する。
// 投入は名前をキーとした冪等な処理で、既存のデータは変更しない。
package seed

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hitoshi/hwledger/internal/model"
)

//go:embed default.yaml
var defaultSeed []byte

// seedCreator はメンバーのいないプロジェクトを作成する際に一時的に使う作成者名。
const seedCreator = "seed"

// File はシードファイルの内容。
type File struct {
	HardwareSets []HardwareSetSeed `yaml:"hardware_sets"`
	Users        []UserSeed        `yaml:"users"`
	Projects     []ProjectSeed     `yaml:"projects"`
}

// HardwareSetSeed はハードウェアセットの初期値。
type HardwareSetSeed struct {
	Name      string `yaml:"name"`
	Capacity  int    `yaml:"capacity"`
	Available int    `yaml:"available"`
}

// UserSeed はユーザーの初期値。
type UserSeed struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// ProjectSeed はプロジェクトの初期値。HardwareSets はハードウェアセット名で指定する。
type ProjectSeed struct {
	Name            string   `yaml:"name"`
	Description     string   `yaml:"description"`
	HardwareSets    []string `yaml:"hardware_sets"`
	AuthorizedUsers []string `yaml:"authorized_users"`
}

// Load はシードファイルを読み込む。path が空の場合は組み込みのデフォルトを使う。
func Load(path string) (*File, error) {
	data := defaultSeed
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read seed file: %w", err)
		}
		data = b
	}
	return Parse(data)
}

// Parse はYAMLを解析する。未知のフィールドはエラーとする。
func Parse(data []byte) (*File, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) validate() error {
	names := make(map[string]bool, len(f.HardwareSets))
	for _, h := range f.HardwareSets {
		if h.Available < 0 || h.Available > h.Capacity {
			return fmt.Errorf("hardware set %q: available %d is outside [0, %d]", h.Name, h.Available, h.Capacity)
		}
		names[h.Name] = true
	}
	for _, p := range f.Projects {
		for _, ref := range p.HardwareSets {
			if !names[ref] {
				return fmt.Errorf("project %q references unknown hardware set %q", p.Name, ref)
			}
		}
	}
	return nil
}

// HardwareSetStore はシード投入に必要なハードウェアセット操作。
type HardwareSetStore interface {
	List(ctx context.Context) ([]*model.HardwareSet, error)
	Create(ctx context.Context, name string, capacity int, initialStock model.InitialStock) (*model.HardwareSet, error)
	Adjust(ctx context.Context, id string, delta int) (*model.HardwareSet, error)
}

// ProjectRegistry はシード投入に必要なプロジェクト操作。
type ProjectRegistry interface {
	Create(ctx context.Context, name, description string, hwsetIDs []string, creator string) (*model.Project, error)
	AddUser(ctx context.Context, projectID, userID string) (bool, error)
	RemoveUser(ctx context.Context, projectID, userID string) (bool, error)
}

// UserRegistrar はシード投入に必要なユーザー登録操作。
type UserRegistrar interface {
	Register(ctx context.Context, username, password string) (*model.User, error)
}

// Summary は投入結果の件数。既存データによりスキップした件数は含まない。
type Summary struct {
	HardwareSets int
	Users        int
	Projects     int
}

// Seeder は File の内容をサービス経由で投入する。
type Seeder struct {
	hwsets   HardwareSetStore
	projects ProjectRegistry
	users    UserRegistrar
	logger   *slog.Logger
}

// NewSeeder はSeederを生成する。
func NewSeeder(hwsets HardwareSetStore, projects ProjectRegistry, users UserRegistrar, logger *slog.Logger) *Seeder {
	return &Seeder{hwsets: hwsets, projects: projects, users: users, logger: logger}
}

// Apply はハードウェアセット、ユーザー、プロジェクトの順に投入する。
func (s *Seeder) Apply(ctx context.Context, f *File) (*Summary, error) {
	summary := &Summary{}

	ids, err := s.applyHardwareSets(ctx, f.HardwareSets, summary)
	if err != nil {
		return nil, err
	}

	for _, u := range f.Users {
		_, err := s.users.Register(ctx, u.Username, u.Password)
		if model.IsKind(err, model.KindConflict) {
			s.logger.Info("seed user already exists", slog.String("username", u.Username))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to seed user %q: %w", u.Username, err)
		}
		summary.Users++
	}

	for _, p := range f.Projects {
		created, err := s.applyProject(ctx, p, ids)
		if err != nil {
			return nil, err
		}
		if created {
			summary.Projects++
		}
	}

	s.logger.Info("seed applied",
		slog.Int("hardware_sets", summary.HardwareSets),
		slog.Int("users", summary.Users),
		slog.Int("projects", summary.Projects),
	)
	return summary, nil
}

// applyHardwareSets は未作成のハードウェアセットを作成し、名前からIDへの対応を返す。
func (s *Seeder) applyHardwareSets(ctx context.Context, seeds []HardwareSetSeed, summary *Summary) (map[string]string, error) {
	existing, err := s.hwsets.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list hardware sets: %w", err)
	}
	ids := make(map[string]string, len(existing))
	for _, h := range existing {
		if _, ok := ids[h.Name]; !ok {
			ids[h.Name] = h.ID
		}
	}

	for _, hs := range seeds {
		if _, ok := ids[hs.Name]; ok {
			s.logger.Info("seed hardware set already exists", slog.String("name", hs.Name))
			continue
		}
		created, err := s.hwsets.Create(ctx, hs.Name, hs.Capacity, model.InitialStockEmpty)
		if err != nil {
			return nil, fmt.Errorf("failed to seed hardware set %q: %w", hs.Name, err)
		}
		if hs.Available > 0 {
			if _, err := s.hwsets.Adjust(ctx, created.ID, hs.Available); err != nil {
				return nil, fmt.Errorf("failed to stock hardware set %q: %w", hs.Name, err)
			}
		}
		ids[hs.Name] = created.ID
		summary.HardwareSets++
	}
	return ids, nil
}

// applyProject はプロジェクトを作成し、メンバー集合を指定どおりにする。
// 既に存在する場合は何もせず false を返す。
func (s *Seeder) applyProject(ctx context.Context, p ProjectSeed, hwsetIDs map[string]string) (bool, error) {
	refs := make([]string, 0, len(p.HardwareSets))
	for _, name := range p.HardwareSets {
		refs = append(refs, hwsetIDs[name])
	}

	creator := seedCreator
	if len(p.AuthorizedUsers) > 0 {
		creator = p.AuthorizedUsers[0]
	}

	created, err := s.projects.Create(ctx, p.Name, p.Description, refs, creator)
	if model.IsKind(err, model.KindConflict) {
		s.logger.Info("seed project already exists", slog.String("name", p.Name))
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to seed project %q: %w", p.Name, err)
	}

	for _, u := range p.AuthorizedUsers {
		if _, err := s.projects.AddUser(ctx, created.ID, u); err != nil {
			return false, fmt.Errorf("failed to add %q to project %q: %w", u, p.Name, err)
		}
	}
	if creator == seedCreator {
		if _, err := s.projects.RemoveUser(ctx, created.ID, seedCreator); err != nil {
			return false, fmt.Errorf("failed to finalize members of project %q: %w", p.Name, err)
		}
	}
	return true, nil
}
