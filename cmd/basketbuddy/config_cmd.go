package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/colabottles/basketbuddy/internal/config"
)

func (c *cli) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create or inspect the configuration file",
	}

	var force bool
	var remoteURL, token, userID string
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := c.configPath
			if path == "" {
				var err error
				if path, err = config.DefaultPath(); err != nil {
					return err
				}
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to overwrite", path)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}

			cfg, err := config.Default()
			if err != nil {
				return err
			}
			if remoteURL != "" {
				cfg.Remote.URL = remoteURL
			}
			cfg.Remote.Token = token
			cfg.Remote.UserID = userID

			if err := config.Write(path, cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	initCmd.Flags().StringVar(&remoteURL, "remote", "", "remote base url")
	initCmd.Flags().StringVar(&token, "token", "", "remote bearer token")
	initCmd.Flags().StringVar(&userID, "user", "", "signed-in user id")

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(c.configPath)
			if err != nil {
				return err
			}
			masked := *cfg
			masked.Remote.Token = maskSecret(cfg.Remote.Token)
			masked.Server.Token = maskSecret(cfg.Server.Token)
			data, err := masked.Marshal()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.AddCommand(initCmd, show)
	return cmd
}

func maskSecret(s string) string {
	if len(s) <= 4 {
		if s == "" {
			return ""
		}
		return "****"
	}
	return s[:2] + "****" + s[len(s)-2:]
}
