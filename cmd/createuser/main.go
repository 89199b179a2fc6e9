// Command createuser adds a user account and prints its temporary password.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/cobra"

	"securedocs/internal/auth"
	"securedocs/internal/config"
	"securedocs/internal/database"
	"securedocs/internal/database/migration"
	"securedocs/internal/logging"
	"securedocs/internal/model"
	"securedocs/internal/repository"
	"securedocs/internal/repository/postgres"
)

type options struct {
	username  string
	email     string
	staff     bool
	superuser bool
	groups    []string
	length    int
}

func main() {
	if err := newCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:          "createuser",
		Short:        "Create a user with a generated password",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			log := logging.New(os.Stderr, cfg.Location())

			db, err := database.NewPostgres(cmd.Context(), cfg.Database, log)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := migration.EnsureMigrated(cmd.Context(), db, log, cfg.Database.Host); err != nil {
				return err
			}

			p, password, err := createUser(cmd.Context(), postgres.NewPrincipalPostgres(db), opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user %s (id %d)\ntemporary password: %s\n", p.Username, p.ID, password)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.username, "username", "u", "", "login name (required)")
	f.StringVarP(&opts.email, "email", "e", "", "email address")
	f.BoolVar(&opts.staff, "staff", false, "grant staff rights (sees every document)")
	f.BoolVar(&opts.superuser, "superuser", false, "grant superuser rights")
	f.StringSliceVarP(&opts.groups, "group", "g", nil, "group name, created when missing (repeatable)")
	f.IntVar(&opts.length, "password-length", auth.DefaultPasswordLength, "length of the generated password")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func createUser(ctx context.Context, users repository.PrincipalRepository, opts options) (*model.Principal, string, error) {
	username := strings.TrimSpace(opts.username)
	if username == "" {
		return nil, "", fmt.Errorf("username is required")
	}

	var groupIDs []int64
	for _, name := range opts.groups {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		id, err := users.EnsureGroup(ctx, name)
		if err != nil {
			return nil, "", fmt.Errorf("group %q: %w", name, err)
		}
		groupIDs = append(groupIDs, id)
	}

	password, err := auth.GeneratePassword(opts.length)
	if err != nil {
		return nil, "", err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, "", err
	}

	p, err := users.Create(ctx, &model.Principal{
		Username:    username,
		Email:       strings.TrimSpace(opts.email),
		IsStaff:     opts.staff,
		IsSuperuser: opts.superuser,
		IsActive:    true,
		Groups:      groupIDs,
	}, hash)
	if err != nil {
		return nil, "", fmt.Errorf("create user: %w", err)
	}
	return p, password, nil
}
