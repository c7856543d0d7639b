package main

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/trymwestin/aqara/internal/config"
	"github.com/trymwestin/aqara/internal/core/auth"
	"github.com/trymwestin/aqara/internal/setup"
)

var (
	username string
	password string
	area     string
	subject  string
	entryID  string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to an Aqara account and add a camera",
	Long: `Logs in to the Aqara account, lists its devices and stores the
credentials for the chosen camera in the config file.

Example:
  aqarad login --username me@example.com --password secret --area GER --subject lumi1.54ef44xxxxxx`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		file, log, err := loadConfig()
		if err != nil {
			return err
		}
		cfg := file.Config()

		account, err := newAccount(cmd, cfg, log)
		if err != nil {
			return err
		}
		res, err := setup.Validate(cmd.Context(), account, username, password, log)
		if err != nil {
			return fmt.Errorf("login failed (%s): %w", setup.ErrorCode(err), err)
		}

		chosen := strings.TrimSpace(subject)
		if chosen == "" {
			if len(res.Devices) != 1 {
				printDevices(cmd, res.Devices)
				return fmt.Errorf("choose a camera with --subject")
			}
			chosen = res.Devices[0].SubjectID
		}

		entry, err := setup.NewEntry(res, chosen, entryID, cfg.Entries)
		if err != nil {
			return err
		}
		if err := file.Update(func(c *config.Config) error {
			c.UpsertEntry(entry)
			return nil
		}); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Added %s as entry %s in %s.\n", entry.Title, entry.ID, file.Path())
		return nil
	},
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List the cameras on an Aqara account",
	RunE: func(cmd *cobra.Command, _ []string) error {
		file, log, err := loadConfig()
		if err != nil {
			return err
		}
		account, err := newAccount(cmd, file.Config(), log)
		if err != nil {
			return err
		}
		res, err := setup.Validate(cmd.Context(), account, username, password, log)
		if err != nil {
			return fmt.Errorf("login failed (%s): %w", setup.ErrorCode(err), err)
		}
		printDevices(cmd, res.Devices)
		return nil
	},
}

// newAccount builds the account client for --area. An unknown area is
// reported and falls back to the default region.
func newAccount(cmd *cobra.Command, cfg config.Config, log *slog.Logger) (*auth.AccountClient, error) {
	regs := regions(cfg)
	known := regs.Areas()
	if !slices.Contains(known, strings.ToUpper(strings.TrimSpace(area))) {
		fmt.Fprintf(cmd.ErrOrStderr(), "unknown area %q, using %s (known: %s)\n",
			area, auth.DefaultArea, strings.Join(known, ", "))
	}
	return auth.NewAccountClient(area, log, auth.WithRegions(regs))
}

func printDevices(cmd *cobra.Command, devices []auth.Device) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Devices:")
	for _, d := range devices {
		fmt.Fprintf(out, "  %s\n", d.Label())
	}
}

func init() {
	for _, c := range []*cobra.Command{loginCmd, devicesCmd} {
		c.Flags().StringVar(&username, "username", "", "Aqara account email or phone")
		c.Flags().StringVar(&password, "password", "", "Aqara account password")
		c.Flags().StringVar(&area, "area", auth.DefaultArea,
			"account area ("+strings.Join(auth.DefaultRegions().Areas(), ", ")+")")
		_ = c.MarkFlagRequired("username")
		_ = c.MarkFlagRequired("password")
		rootCmd.AddCommand(c)
	}
	loginCmd.Flags().StringVar(&subject, "subject", "", "subject id of the camera to add")
	loginCmd.Flags().StringVar(&entryID, "entry-id", "", "entry id (generated when empty)")
}
