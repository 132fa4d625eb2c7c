// Package main is the entry point for the kbvault CLI. kbvault is a
// multi-tenant knowledge vault with full-text search where every read path,
// including search results, is filtered through per-item access control.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/kbvault/kbvault/internal/access"
	"github.com/kbvault/kbvault/internal/config"
	"github.com/kbvault/kbvault/internal/index"
	"github.com/kbvault/kbvault/internal/logging"
	"github.com/kbvault/kbvault/internal/search"
	"github.com/kbvault/kbvault/internal/store"
	"github.com/kbvault/kbvault/internal/syncer"
)

var (
	version = "0.1.0"
	cfgPath string
	dataDir string
	verbose bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "kbvault",
		Short: "kbvault - access-controlled knowledge vault with full-text search",
		Long: `kbvault stores knowledge items for many users and lets them search the
collection without ever seeing an item they are not allowed to read.

Add an item:       kbvault item add "Title" --content "..." --as alice
Search:            kbvault search "neural networks" --as bob
Share an item:     kbvault grant 7 bob read --as alice`,
		PersistentPreRunE: initLogging,
		SilenceUsage:      true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path (default ~/.kbvault/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory (default ~/.kbvault)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("kbvault v%s\n", version)
		},
	})

	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(itemCmd())
	rootCmd.AddCommand(grantCmd())
	rootCmd.AddCommand(revokeCmd())
	rootCmd.AddCommand(searchCmd())
	rootCmd.AddCommand(reindexCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(statusCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// LOGGING INITIALIZATION
// ═══════════════════════════════════════════════════════════════════════════════

func initLogging(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logCfg := logging.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: cfg.Logging.Console,
	}
	if verbose {
		logCfg.Level = "debug"
		logCfg.Console = true
	}

	return logging.Setup(logCfg)
}

// ═══════════════════════════════════════════════════════════════════════════════
// APPLICATION WIRING
// ═══════════════════════════════════════════════════════════════════════════════

// app holds the wired components behind every command: the item store, the
// grant store and guard on top of it, the search index, the access-filtered
// search service, and the coordinator that mirrors mutations into the index.
type app struct {
	cfg    *config.Config
	store  *store.Store
	grants *access.Store
	guard  *access.Guard
	index  *index.Index
	search *search.Service
	coord  syncer.Coordinator
}

func initializeApp() (*app, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, nil, fmt.Errorf("failed to prepare directories: %w", err)
	}

	st, err := store.New(cfg.DataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := st.Migrate(); err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	idx, err := index.Open(cfg.IndexDir(), cfg.Index.WriteTimeout)
	if err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("failed to open search index: %w", err)
	}

	grants := access.NewStore(st.DB())
	svc := search.NewService(idx, st, grants, search.Options{
		DefaultLimit:    cfg.Search.DefaultLimit,
		OverfetchFactor: cfg.Search.OverfetchFactor,
		MaxRetries:      cfg.Search.MaxRetries,
	})
	coord := syncer.New(cfg.Syncer, st, idx)

	a := &app{
		cfg:    cfg,
		store:  st,
		grants: grants,
		guard:  access.NewGuard(st, grants),
		index:  idx,
		search: svc,
		coord:  coord,
	}

	cleanup := func() {
		coord.Close()
		idx.Close()
		st.Close()
	}
	return a, cleanup, nil
}

// resolveUser maps a --as username to a stored user. Empty means anonymous,
// which every access check denies.
func (a *app) resolveUser(ctx context.Context, username string) (*store.User, error) {
	if username == "" {
		return nil, nil
	}
	user, err := a.store.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("unknown user %q: %w", username, err)
	}
	return user, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// CONFIG COMMANDS
// ═══════════════════════════════════════════════════════════════════════════════

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := getConfigPath()
			if _, err := os.Stat(path); err == nil {
				fmt.Printf("Config already exists: %s\n", path)
				return nil
			}
			cfg := config.Default()
			if dataDir != "" {
				cfg.DataDir = dataDir
			}
			if err := cfg.SaveToPath(path); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}
			fmt.Printf("Wrote default config: %s\n", path)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			fmt.Println("kbvault Configuration:")
			fmt.Println("──────────────────────")
			fmt.Printf("Data Directory:     %s\n", cfg.DataDir)
			fmt.Printf("Index Directory:    %s\n", cfg.IndexDir())
			fmt.Printf("Index Write Wait:   %s\n", cfg.Index.WriteTimeout)
			fmt.Printf("Search Limit:       %d\n", cfg.Search.DefaultLimit)
			fmt.Printf("Overfetch Factor:   %d\n", cfg.Search.OverfetchFactor)
			fmt.Printf("Syncer Mode:        %s\n", cfg.Syncer.Mode)
			fmt.Printf("Reconcile Interval: %s\n", cfg.Syncer.ReconcileInterval)
			fmt.Printf("Log Level:          %s\n", cfg.Logging.Level)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(getConfigPath())
		},
	})

	return cmd
}

// ═══════════════════════════════════════════════════════════════════════════════
// USER COMMANDS
// ═══════════════════════════════════════════════════════════════════════════════

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}

	var displayName, role string
	addCmd := &cobra.Command{
		Use:   "add [username]",
		Short: "Create a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := initializeApp()
			if err != nil {
				return err
			}
			defer cleanup()

			user := &store.User{
				Username:    args[0],
				DisplayName: displayName,
				Role:        role,
				IsActive:    true,
			}
			if err := a.store.CreateUser(context.Background(), user); err != nil {
				return fmt.Errorf("failed to create user: %w", err)
			}
			fmt.Printf("Created user %s (%s)\n", user.Username, user.ID)
			return nil
		},
	}
	addCmd.Flags().StringVar(&displayName, "display", "", "display name")
	addCmd.Flags().StringVar(&role, "role", store.RoleUser, "role (admin, user, educator, researcher, expert)")
	cmd.AddCommand(addCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := initializeApp()
			if err != nil {
				return err
			}
			defer cleanup()

			users, err := a.store.ListUsers(context.Background())
			if err != nil {
				return fmt.Errorf("failed to list users: %w", err)
			}
			if len(users) == 0 {
				fmt.Println("No users found.")
				return nil
			}
			for _, u := range users {
				active := "active"
				if !u.IsActive {
					active = "inactive"
				}
				fmt.Printf("  %-16s %-10s %-8s %s\n", u.Username, u.Role, active, u.DisplayName)
			}
			return nil
		},
	})

	return cmd
}

// ═══════════════════════════════════════════════════════════════════════════════
// ITEM COMMANDS
// ═══════════════════════════════════════════════════════════════════════════════

func itemCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "item",
		Aliases: []string{"i"},
		Short:   "Manage knowledge items",
	}

	cmd.AddCommand(itemAddCmd())
	cmd.AddCommand(itemUpdateCmd())
	cmd.AddCommand(itemShowCmd())
	cmd.AddCommand(itemRmCmd())
	cmd.AddCommand(itemListCmd())

	return cmd
}

func itemAddCmd() *cobra.Command {
	var asUser, description, content, category, tags, visibility string
	cmd := &cobra.Command{
		Use:   "add [title]",
		Short: "Add a knowledge item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := initializeApp()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := context.Background()
			author, err := a.resolveUser(ctx, asUser)
			if err != nil {
				return err
			}
			if author == nil {
				return fmt.Errorf("--as is required to add an item")
			}

			item := &store.KnowledgeItem{
				Title:       args[0],
				Description: description,
				Content:     content,
				Category:    category,
				Tags:        tags,
				Visibility:  store.Visibility(visibility),
				AuthorID:    author.ID,
			}
			if err := a.store.CreateItem(ctx, item); err != nil {
				return fmt.Errorf("failed to add item: %w", err)
			}
			if err := a.coord.ItemUpserted(ctx, item); err != nil {
				return fmt.Errorf("item %d saved but indexing failed: %w", item.ID, err)
			}

			fmt.Printf("Added item %d: %s\n", item.ID, item.Title)
			return nil
		},
	}
	cmd.Flags().StringVar(&asUser, "as", "", "acting username (the author)")
	cmd.Flags().StringVar(&description, "description", "", "short description")
	cmd.Flags().StringVar(&content, "content", "", "item body")
	cmd.Flags().StringVar(&category, "category", "", "category label")
	cmd.Flags().StringVar(&tags, "tags", "", "comma-separated tags")
	cmd.Flags().StringVar(&visibility, "visibility", string(store.VisibilityPrivate), "public, private, or restricted")
	return cmd
}

func itemUpdateCmd() *cobra.Command {
	var asUser, title, description, content, category, tags, visibility string
	cmd := &cobra.Command{
		Use:   "update [id]",
		Short: "Update a knowledge item (requires write access)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid item id %q", args[0])
			}

			a, cleanup, err := initializeApp()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := context.Background()
			user, err := a.resolveUser(ctx, asUser)
			if err != nil {
				return err
			}

			item, err := a.guard.Check(ctx, user, id, access.PermissionWrite)
			if err != nil {
				return itemError(id, err)
			}

			if cmd.Flags().Changed("title") {
				item.Title = title
			}
			if cmd.Flags().Changed("description") {
				item.Description = description
			}
			if cmd.Flags().Changed("content") {
				item.Content = content
			}
			if cmd.Flags().Changed("category") {
				item.Category = category
			}
			if cmd.Flags().Changed("tags") {
				item.Tags = tags
			}
			if cmd.Flags().Changed("visibility") {
				item.Visibility = store.Visibility(visibility)
			}

			if err := a.store.UpdateItem(ctx, item); err != nil {
				return fmt.Errorf("failed to update item: %w", err)
			}
			if err := a.coord.ItemUpserted(ctx, item); err != nil {
				return fmt.Errorf("item %d saved but indexing failed: %w", id, err)
			}

			fmt.Printf("Updated item %d\n", id)
			return nil
		},
	}
	cmd.Flags().StringVar(&asUser, "as", "", "acting username")
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&description, "description", "", "new description")
	cmd.Flags().StringVar(&content, "content", "", "new body")
	cmd.Flags().StringVar(&category, "category", "", "new category")
	cmd.Flags().StringVar(&tags, "tags", "", "new comma-separated tags")
	cmd.Flags().StringVar(&visibility, "visibility", "", "new visibility")
	return cmd
}

func itemShowCmd() *cobra.Command {
	var asUser string
	cmd := &cobra.Command{
		Use:   "show [id]",
		Short: "Show a knowledge item (requires read access)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid item id %q", args[0])
			}

			a, cleanup, err := initializeApp()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := context.Background()
			user, err := a.resolveUser(ctx, asUser)
			if err != nil {
				return err
			}

			item, err := a.guard.Check(ctx, user, id, access.PermissionRead)
			if err != nil {
				return itemError(id, err)
			}

			fmt.Printf("%s\n", titleStyle.Render(item.Title))
			if item.Description != "" {
				fmt.Printf("%s\n", item.Description)
			}
			fmt.Printf("\n%s\n\n", item.Content)
			fmt.Printf("%s\n", metaStyle.Render(fmt.Sprintf(
				"id %d | %s | category %s | tags %s | updated %s",
				item.ID, item.Visibility, orDash(item.Category), orDash(item.Tags),
				item.UpdatedAt.Local().Format(time.RFC822))))
			return nil
		},
	}
	cmd.Flags().StringVar(&asUser, "as", "", "acting username")
	return cmd
}

func itemRmCmd() *cobra.Command {
	var asUser string
	cmd := &cobra.Command{
		Use:   "rm [id]",
		Short: "Delete a knowledge item (requires admin access)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid item id %q", args[0])
			}

			a, cleanup, err := initializeApp()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := context.Background()
			user, err := a.resolveUser(ctx, asUser)
			if err != nil {
				return err
			}

			if _, err := a.guard.Check(ctx, user, id, access.PermissionAdmin); err != nil {
				return itemError(id, err)
			}

			// Deleting the row cascades to its grants.
			if err := a.store.DeleteItem(ctx, id); err != nil {
				return fmt.Errorf("failed to delete item: %w", err)
			}
			if err := a.coord.ItemDeleted(ctx, id); err != nil {
				return fmt.Errorf("item %d deleted but index cleanup failed: %w", id, err)
			}

			fmt.Printf("Deleted item %d\n", id)
			return nil
		},
	}
	cmd.Flags().StringVar(&asUser, "as", "", "acting username")
	return cmd
}

func itemListCmd() *cobra.Command {
	var asUser string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List items visible to a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := initializeApp()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := context.Background()
			user, err := a.resolveUser(ctx, asUser)
			if err != nil {
				return err
			}

			items, err := a.store.ListItems(ctx)
			if err != nil {
				return fmt.Errorf("failed to list items: %w", err)
			}

			shown := 0
			for _, item := range items {
				if !a.guard.CheckAccess(ctx, user, item, access.PermissionRead) {
					continue
				}
				shown++
				fmt.Printf("  %4d  %-10s  %s\n", item.ID, item.Visibility, truncate(item.Title, 60))
			}
			if shown == 0 {
				fmt.Println("No items visible.")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&asUser, "as", "", "acting username")
	return cmd
}

// ═══════════════════════════════════════════════════════════════════════════════
// GRANT COMMANDS
// ═══════════════════════════════════════════════════════════════════════════════

func grantCmd() *cobra.Command {
	var asUser string
	cmd := &cobra.Command{
		Use:   "grant [item-id] [username] [permission]",
		Short: "Grant a user access to an item (requires admin access)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid item id %q", args[0])
			}
			perm, err := access.ParsePermission(args[2])
			if err != nil {
				return err
			}

			a, cleanup, err := initializeApp()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := context.Background()
			actor, err := a.resolveUser(ctx, asUser)
			if err != nil {
				return err
			}
			grantee, err := a.resolveUser(ctx, args[1])
			if err != nil {
				return err
			}
			if grantee == nil {
				return fmt.Errorf("grantee username is required")
			}

			if _, err := a.guard.Check(ctx, actor, id, access.PermissionAdmin); err != nil {
				return itemError(id, err)
			}
			if err := a.grants.Grant(ctx, id, grantee.ID, perm); err != nil {
				return fmt.Errorf("failed to grant: %w", err)
			}

			fmt.Printf("Granted %s on item %d to %s\n", perm, id, grantee.Username)
			return nil
		},
	}
	cmd.Flags().StringVar(&asUser, "as", "", "acting username (must hold admin on the item)")
	return cmd
}

func revokeCmd() *cobra.Command {
	var asUser string
	cmd := &cobra.Command{
		Use:   "revoke [item-id] [username]",
		Short: "Revoke a user's access to an item (requires admin access)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid item id %q", args[0])
			}

			a, cleanup, err := initializeApp()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := context.Background()
			actor, err := a.resolveUser(ctx, asUser)
			if err != nil {
				return err
			}
			grantee, err := a.resolveUser(ctx, args[1])
			if err != nil {
				return err
			}
			if grantee == nil {
				return fmt.Errorf("grantee username is required")
			}

			if _, err := a.guard.Check(ctx, actor, id, access.PermissionAdmin); err != nil {
				return itemError(id, err)
			}
			if err := a.grants.Revoke(ctx, id, grantee.ID); err != nil {
				if errors.Is(err, access.ErrGrantNotFound) {
					fmt.Printf("No grant for %s on item %d\n", grantee.Username, id)
					return nil
				}
				return fmt.Errorf("failed to revoke: %w", err)
			}

			fmt.Printf("Revoked %s's access to item %d\n", grantee.Username, id)
			return nil
		},
	}
	cmd.Flags().StringVar(&asUser, "as", "", "acting username (must hold admin on the item)")
	return cmd
}

// ═══════════════════════════════════════════════════════════════════════════════
// SEARCH COMMAND
// ═══════════════════════════════════════════════════════════════════════════════

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	metaStyle  = lipgloss.NewStyle().Faint(true)
)

func searchCmd() *cobra.Command {
	var asUser string
	var limit int
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search knowledge items, filtered to what you can read",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")

			a, cleanup, err := initializeApp()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := context.Background()
			user, err := a.resolveUser(ctx, asUser)
			if err != nil {
				return err
			}

			lipgloss.SetColorProfile(termenv.ColorProfile())

			start := time.Now()
			results, err := a.search.Search(ctx, user, query, limit)
			if err != nil {
				if errors.Is(err, index.ErrUnavailable) {
					return fmt.Errorf("search is busy, try again: %w", err)
				}
				return fmt.Errorf("search failed: %w", err)
			}
			duration := time.Since(start)

			if len(results) == 0 {
				fmt.Printf("No results found for: %s\n", query)
				return nil
			}

			fmt.Printf("Found %d results in %v:\n\n", len(results), duration.Round(time.Millisecond))
			for i, r := range results {
				fmt.Printf("%d. %s\n", i+1, titleStyle.Render(r.Item.Title))
				if r.Item.Description != "" {
					fmt.Printf("   %s\n", truncate(r.Item.Description, 72))
				}
				fmt.Printf("   %s\n\n", metaStyle.Render(fmt.Sprintf(
					"id %d | score %.2f | %s | tags %s",
					r.Item.ID, r.Score, r.Item.Visibility, orDash(r.Item.Tags))))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&asUser, "as", "", "acting username (anonymous callers match nothing)")
	cmd.Flags().IntVar(&limit, "limit", 0, "max results (0 uses the configured default)")
	return cmd
}

// ═══════════════════════════════════════════════════════════════════════════════
// MAINTENANCE COMMANDS
// ═══════════════════════════════════════════════════════════════════════════════

func reindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the search index from the item store",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := initializeApp()
			if err != nil {
				return err
			}
			defer cleanup()

			start := time.Now()
			count, err := a.coord.ReindexAll(context.Background())
			if err != nil {
				return fmt.Errorf("reindex failed: %w", err)
			}
			fmt.Printf("Reindexed %d items in %v\n", count, time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
}

func reconcileCmd() *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Repair drift between the item store and the search index",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := initializeApp()
			if err != nil {
				return err
			}
			defer cleanup()

			rec := syncer.NewReconciler(a.store, a.index, a.cfg.Syncer.ReconcileInterval)

			if watch {
				fmt.Printf("Reconciling every %s, Ctrl-C to stop\n", a.cfg.Syncer.ReconcileInterval)
				ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
				defer stop()
				rec.Run(ctx)
				return nil
			}

			if err := rec.Reconcile(context.Background()); err != nil {
				return fmt.Errorf("reconciliation failed: %w", err)
			}
			fmt.Println("Reconciliation complete")
			return nil
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "keep reconciling on the configured interval")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show store and index health",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := initializeApp()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := context.Background()

			fmt.Println("kbvault Status:")
			fmt.Println("───────────────")
			var storeIDs []int64
			if err := a.store.Health(); err != nil {
				fmt.Printf("Store:  unhealthy (%v)\n", err)
			} else {
				storeIDs, _ = a.store.ItemIDs(ctx)
				fmt.Printf("Store:  ok (%d items)\n", len(storeIDs))
			}

			indexIDs, err := a.index.IDs(ctx)
			if err != nil {
				fmt.Printf("Index:  unhealthy (%v)\n", err)
				return nil
			}
			fmt.Printf("Index:  ok (%d entries)\n", len(indexIDs))

			if missing, orphaned := diffIDs(storeIDs, indexIDs); missing+orphaned > 0 {
				fmt.Printf("Drift:  %d missing, %d orphaned (run 'kbvault reconcile')\n", missing, orphaned)
			} else {
				fmt.Println("Drift:  none")
			}
			return nil
		},
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ═══════════════════════════════════════════════════════════════════════════════

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFromPath(getConfigPath())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	return cfg, nil
}

func getConfigPath() string {
	if cfgPath != "" {
		return cfgPath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".kbvault/config.yaml"
	}
	return filepath.Join(home, ".kbvault", "config.yaml")
}

// diffIDs counts store/index disagreement in both directions.
func diffIDs(storeIDs, indexIDs []int64) (missing, orphaned int) {
	inStore := make(map[int64]bool, len(storeIDs))
	for _, id := range storeIDs {
		inStore[id] = true
	}
	inIndex := make(map[int64]bool, len(indexIDs))
	for _, id := range indexIDs {
		inIndex[id] = true
	}
	for _, id := range storeIDs {
		if !inIndex[id] {
			missing++
		}
	}
	for _, id := range indexIDs {
		if !inStore[id] {
			orphaned++
		}
	}
	return missing, orphaned
}

// itemError keeps not-found and denied indistinguishable at the surface.
func itemError(id int64, err error) error {
	if errors.Is(err, store.ErrItemNotFound) {
		return fmt.Errorf("item %d not found", id)
	}
	return err
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
