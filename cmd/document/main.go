// Command document prepares the document store: it applies the schema and
// seeds documents from local files.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aziende/editorbridge/internal/database"
	"github.com/aziende/editorbridge/internal/document"
	"github.com/aziende/editorbridge/internal/document/repository"
	"github.com/aziende/editorbridge/pkg/logger"
)

var v = viper.New()

var rootCmd = &cobra.Command{
	Use:   "document",
	Short: "Document store maintenance for the editor bridge",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.Init(v.GetString("LOG_LEVEL"), v.GetString("LOG_FORMAT"))
	},
}

func init() {
	_ = godotenv.Load()
	v.AutomaticEnv()
	v.SetDefault("STORE_DRIVER", "mysql")
	v.SetDefault("MONGODB_DATABASE", "aziende")
	v.SetDefault("LOG_LEVEL", "info")

	pf := rootCmd.PersistentFlags()
	pf.String("driver", "", "store driver: mysql | mongo (env STORE_DRIVER)")
	pf.String("dsn", "", "MySQL DSN (env MYSQL_DSN)")
	pf.String("mongo-uri", "", "MongoDB URI (env MONGODB_URI)")
	pf.String("mongo-db", "", "MongoDB database (env MONGODB_DATABASE)")
	pf.Duration("timeout", 30*time.Second, "connect and command timeout")
	_ = v.BindPFlag("STORE_DRIVER", pf.Lookup("driver"))
	_ = v.BindPFlag("MYSQL_DSN", pf.Lookup("dsn"))
	_ = v.BindPFlag("MONGODB_URI", pf.Lookup("mongo-uri"))
	_ = v.BindPFlag("MONGODB_DATABASE", pf.Lookup("mongo-db"))
	_ = v.BindPFlag("TIMEOUT", pf.Lookup("timeout"))

	rootCmd.AddCommand(newMigrateCmd(), newSeedCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openRepo connects the configured store and applies its schema.
func openRepo(ctx context.Context) (repository.Repository, func(), error) {
	timeout := v.GetDuration("TIMEOUT")
	switch driver := strings.ToLower(v.GetString("STORE_DRIVER")); driver {
	case "mysql":
		dsn := v.GetString("MYSQL_DSN")
		if dsn == "" {
			return nil, nil, fmt.Errorf("MYSQL_DSN or --dsn is required")
		}
		db, err := database.ConnectMySQL(ctx, dsn, 2, timeout)
		if err != nil {
			return nil, nil, err
		}
		if err := database.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, nil, err
		}
		return repository.NewMySQLRepo(db), func() { _ = db.Close() }, nil
	case "mongo":
		uri := v.GetString("MONGODB_URI")
		if uri == "" {
			return nil, nil, fmt.Errorf("MONGODB_URI or --mongo-uri is required")
		}
		client, err := database.ConnectMongo(ctx, uri, timeout)
		if err != nil {
			return nil, nil, err
		}
		// NewMongoRepo creates the indexes
		repo, err := repository.NewMongoRepo(ctx, client, v.GetString("MONGODB_DATABASE"))
		if err != nil {
			_ = client.Disconnect(context.Background())
			return nil, nil, err
		}
		return repo, func() { _ = client.Disconnect(context.Background()) }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported driver %q", driver)
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the documents schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), v.GetDuration("TIMEOUT"))
			defer cancel()
			_, closeRepo, err := openRepo(ctx)
			if err != nil {
				return err
			}
			defer closeRepo()
			logger.Infof("schema applied (%s)", v.GetString("STORE_DRIVER"))
			return nil
		},
	}
}

func newSeedCmd() *cobra.Command {
	var (
		tenant       string
		noVersioning bool
	)
	cmd := &cobra.Command{
		Use:   "seed FILE...",
		Short: "Create one document per file",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), v.GetDuration("TIMEOUT"))
			defer cancel()
			repo, closeRepo, err := openRepo(ctx)
			if err != nil {
				return err
			}
			defer closeRepo()

			for _, path := range args {
				d, err := documentFromFile(path, tenant, !noVersioning)
				if err != nil {
					return err
				}
				id, err := repo.Create(ctx, d)
				if err != nil {
					return fmt.Errorf("create %s: %w", path, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", id, d.Title)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tenant, "azienda", "", "owning azienda; empty creates global documents")
	cmd.Flags().BoolVar(&noVersioning, "no-versioning", false, "disable version snapshots")
	return cmd
}

// documentFromFile reads path into a new document titled by its base name.
func documentFromFile(path, tenant string, versioning bool) (*document.Document, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	title := filepath.Base(path)
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(title)), ".")
	if _, err := document.DetectFormat(ext); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &document.Document{
		Title:      title,
		Extension:  ext,
		Content:    content,
		Tenant:     tenant,
		Versioning: versioning,
		ModifiedBy: "seed",
	}, nil
}
