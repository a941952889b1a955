package app

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hitoshi/hwledger/internal/config"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker はワーカーモードで起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandSeed は初期データを投入することを示す。
	CommandSeed Command = "seed"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。サブコマンドを省略した場合はserveとして起動する。
func Run(w io.Writer, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// cobra は nil のとき os.Args を読むため空スライスに正規化する
	if args == nil {
		args = []string{}
	}

	root := NewRootCommand(w)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// NewRootCommand はhwledgerのルートコマンドを生成する。
// w はログとコマンド出力の出力先。
func NewRootCommand(w io.Writer) *cobra.Command {
	// withConfig は設定を読み込んでから fn を実行する RunE を返す。
	withConfig := func(command Command, fn func(cmd *cobra.Command, cfg *config.Config) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			cfg, err := Init(w)
			if err != nil {
				return err
			}
			slog.Info("starting application",
				slog.String("command", string(command)),
				slog.String("storage", cfg.StorageDriver),
			)
			return fn(cmd, cfg)
		}
	}

	serve := withConfig(CommandServe, func(cmd *cobra.Command, cfg *config.Config) error {
		return runServe(cmd.Context(), cfg)
	})

	root := &cobra.Command{
		Use:           "hwledger",
		Short:         "Shared hardware reservation ledger",
		Long:          "Shared hardware reservation ledger: projects check hardware in and out of capacity-bounded pools.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE:          serve,
	}
	root.SetOut(w)
	root.SetErr(w)

	root.AddCommand(&cobra.Command{
		Use:   string(CommandServe),
		Short: "Run the HTTP API server",
		Args:  cobra.NoArgs,
		RunE:  serve,
	})

	root.AddCommand(&cobra.Command{
		Use:   string(CommandWorker),
		Short: "Run background jobs (revoked token cleanup)",
		Args:  cobra.NoArgs,
		RunE: withConfig(CommandWorker, func(cmd *cobra.Command, cfg *config.Config) error {
			return runWorker(cmd.Context(), cfg)
		}),
	})

	root.AddCommand(&cobra.Command{
		Use:       string(CommandMigrate) + " [up|down|version]",
		Short:     "Apply, roll back or inspect database migrations",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{string(migrateUp), string(migrateDown), string(migrateVersion)},
		RunE: func(cmd *cobra.Command, args []string) error {
			direction := migrateUp
			if len(args) == 1 {
				direction = migrateDirection(args[0])
			}
			return withConfig(CommandMigrate, func(cmd *cobra.Command, cfg *config.Config) error {
				return runMigrate(cfg, direction, cmd.OutOrStdout())
			})(cmd, args)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   string(CommandSeed),
		Short: "Load initial hardware sets, users and projects (SEED_FILE or built-in)",
		Args:  cobra.NoArgs,
		RunE: withConfig(CommandSeed, func(cmd *cobra.Command, cfg *config.Config) error {
			return runSeed(cmd.Context(), cfg)
		}),
	})

	// healthcheck は軽量サブコマンドのため、設定の読み込みをスキップする
	root.AddCommand(&cobra.Command{
		Use:   string(CommandHealthcheck),
		Short: "Probe the local /health endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			port := os.Getenv("SERVER_PORT")
			if port == "" {
				port = "8080"
			}
			return runHealthcheck(cmd.Context(), port)
		},
	})

	return root
}
