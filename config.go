package main

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	server      string
	name        string
	dataDir     string
	adminKey    string
	profile     bool
	profilePort int
	verbose     bool
}

func (c *Config) validate() error {
	u, err := url.Parse(c.server)
	if err != nil {
		return fmt.Errorf("invalid server url: %w", err)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("invalid server url scheme: %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("server url is missing a host")
	}
	if c.profilePort < 1 || c.profilePort > 65535 {
		return fmt.Errorf("invalid profile port (must be between 1-65535 inclusive): %d", c.profilePort)
	}
	return nil
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("BLOF")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "blof",
		Short:         "Terminal client for the BLÖF bluffing word game.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return cfg.validate()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHome(cmd.Context(), cfg)
		},
	}

	fs := cmd.PersistentFlags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.server, "server", "s", "http://localhost:3001", "game server url (env: BLOF_SERVER)")
	fs.StringVarP(&cfg.name, "name", "n", "", "display name, 1-20 characters (env: BLOF_NAME)")
	fs.StringVar(&cfg.dataDir, "data-dir", defaultDataDir(), "directory holding the persisted session (env: BLOF_DATA_DIR)")
	fs.StringVar(&cfg.adminKey, "admin-key", "", "shared secret for the admin surface (env: BLOF_ADMIN_KEY)")
	fs.BoolVar(&cfg.profile, "profile", false, "serve net/http/pprof handlers locally (env: BLOF_PROFILE)")
	fs.IntVar(&cfg.profilePort, "profile-port", 6060, "port for the pprof handlers (env: BLOF_PROFILE_PORT)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: BLOF_VERBOSE)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new room and enter it as host.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate(cmd.Context(), cfg)
		},
	}

	joinCmd := &cobra.Command{
		Use:   "join <code>",
		Short: "Join an existing room by code.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJoin(cmd.Context(), cfg, args[0])
		},
	}

	resumeCmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume the persisted session, if one exists.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResume(cmd.Context(), cfg)
		},
	}

	adminCmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage active rooms (requires --admin-key).",
	}

	adminCmd.AddCommand(
		&cobra.Command{
			Use:   "rooms",
			Short: "List active rooms with membership and state.",
			Args:  cobra.ExactArgs(0),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runAdminRooms(cmd.Context(), cfg)
			},
		},
		&cobra.Command{
			Use:   "delete <code>",
			Short: "Delete one room.",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runAdminDelete(cmd.Context(), cfg, args[0])
			},
		},
		&cobra.Command{
			Use:   "purge",
			Short: "Delete all rooms.",
			Args:  cobra.ExactArgs(0),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runAdminPurge(cmd.Context(), cfg)
			},
		},
	)

	cmd.AddCommand(createCmd, joinCmd, resumeCmd, adminCmd)

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("blof v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
