// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package cli

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-passkey/internal/config"
	"github.com/jeremyhahn/go-passkey/pkg/storage"
	filestorage "github.com/jeremyhahn/go-passkey/pkg/storage/file"
	"github.com/jeremyhahn/go-passkey/pkg/webauthn"
)

var credentialCmd = &cobra.Command{
	Use:   "credential",
	Short: "Manage stored passkey credentials",
}

var credentialListCmd = &cobra.Command{
	Use:   "list <identity>",
	Short: "List credentials registered to an identity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, backend, err := openRepository()
		if err != nil {
			return err
		}
		defer backend.Close()

		records, err := repo.FindAllForIdentity(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		printer := NewPrinter(outputFormat)
		if printer.JSON() {
			return printer.PrintJSON(records)
		}

		if len(records) == 0 {
			printer.Printf("no credentials registered for %s\n", args[0])
			return nil
		}

		rows := make([][]string, 0, len(records))
		for _, record := range records {
			label := record.Extra.Label
			if label == "" {
				label = "-"
			}
			created := "-"
			if !record.Extra.CreatedAt.IsZero() {
				created = record.Extra.CreatedAt.Format("2006-01-02 15:04")
			}
			rows = append(rows, []string{
				record.ID.String(),
				label,
				strings.Join(record.Transports, ","),
				fmt.Sprintf("%d", record.SignCount),
				created,
			})
		}
		printer.Table([]string{"ID", "LABEL", "TRANSPORTS", "COUNTER", "CREATED"}, rows)
		return nil
	},
}

var credentialDeleteCmd = &cobra.Command{
	Use:   "delete <identity> <credential-id>",
	Short: "Delete a credential by its base64url ID",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(args[1], "="))
		if err != nil {
			return fmt.Errorf("invalid credential id: %w", err)
		}

		repo, backend, err := openRepository()
		if err != nil {
			return err
		}
		defer backend.Close()

		err = repo.Delete(cmd.Context(), &webauthn.CredentialRecord{
			ID:            id,
			OwnerIdentity: args[0],
		})
		if err != nil {
			return err
		}

		NewPrinter(outputFormat).Printf("deleted %s\n", args[1])
		return nil
	},
}

// openRepository opens the configured storage backend directly. Only the
// file backend is usable here; memory storage has no content outside a
// running server.
func openRepository() (*webauthn.Repository, storage.Backend, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Storage.Backend != config.BackendFile {
		return nil, nil, fmt.Errorf("credential commands require file storage, configured backend is %q",
			cfg.Storage.Backend)
	}

	backend, err := filestorage.New(cfg.Storage.Path)
	if err != nil {
		return nil, nil, err
	}
	return webauthn.NewRepository(backend, resolverFromConfig(cfg)), backend, nil
}

func resolverFromConfig(cfg *config.Config) webauthn.AccountResolver {
	if cfg.Accounts.Open {
		return webauthn.OpenAccountResolver{}
	}
	accounts := make([]*webauthn.Account, 0, len(cfg.Accounts.Static))
	for _, account := range cfg.Accounts.Static {
		accounts = append(accounts, &webauthn.Account{
			Identity:    account.Identity,
			DisplayName: account.DisplayName,
		})
	}
	return webauthn.NewStaticAccountResolver(accounts...)
}

func init() {
	credentialCmd.AddCommand(credentialListCmd)
	credentialCmd.AddCommand(credentialDeleteCmd)
	rootCmd.AddCommand(credentialCmd)
}
