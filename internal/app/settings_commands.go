package app

import (
	"fmt"
	"strings"

	clierr "github.com/ggonzalez94/hubroute/internal/errors"
	"github.com/ggonzalez94/hubroute/internal/model"
	"github.com/ggonzalez94/hubroute/internal/prefs"
	"github.com/ggonzalez94/hubroute/internal/routing"
	"github.com/ggonzalez94/hubroute/internal/token"
	"github.com/spf13/cobra"
)

func (s *runtimeState) newOrdersCommand() *cobra.Command {
	root := &cobra.Command{Use: "orders", Short: "Hub swap history"}
	var limit int
	var keySrc string
	list := &cobra.Command{
		Use:   "list",
		Short: "List accepted hub swaps for the account, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := token.ParseChain(s.settings.Chain)
			if err != nil {
				return err
			}
			s.lastChainID = c.ID
			account, err := s.account(keySrc)
			if err != nil {
				return err
			}
			if limit < 0 {
				return clierr.New(clierr.CodeUsage, "--limit must not be negative")
			}
			store, err := s.ensureOrders()
			if err != nil {
				return err
			}
			items, err := store.List(account, c.ID, limit)
			if err != nil {
				return clierr.Wrap(clierr.CodeInternal, "list orders", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), items, 0)
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "Maximum number of orders")
	list.Flags().StringVar(&keySrc, "key-source", "", "Signer key source used when --account is not set")
	root.AddCommand(list)
	return root
}

func prefsView(p prefs.Settings) model.PrefsView {
	control := "none"
	switch p.Control {
	case routing.ControlForce:
		control = "force"
	case routing.ControlSkip:
		control = "skip"
	}
	return model.PrefsView{Key: prefs.Key, HubEnabled: p.HubEnabled, Control: control}
}

func (s *runtimeState) newSettingsCommand() *cobra.Command {
	root := &cobra.Command{Use: "settings", Short: "Persisted routing preferences"}

	show := &cobra.Command{
		Use:   "show",
		Short: "Show routing preferences",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := s.ensurePrefs()
			if err != nil {
				return err
			}
			p, err := store.Load()
			if err != nil {
				return clierr.Wrap(clierr.CodeInternal, "load preferences", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), prefsView(p), 0)
		},
	}

	hubCmd := &cobra.Command{
		Use:       "hub on|off",
		Short:     "Enable or disable hub routing",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var enabled bool
			switch strings.ToLower(args[0]) {
			case "on", "true", "1":
				enabled = true
			case "off", "false", "0":
			default:
				return clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid value %q: expected on or off", args[0]))
			}
			store, err := s.ensurePrefs()
			if err != nil {
				return err
			}
			p, err := store.SetHubEnabled(enabled)
			if err != nil {
				return clierr.Wrap(clierr.CodeInternal, "save preferences", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), prefsView(p), 0)
		},
	}

	control := &cobra.Command{
		Use:       "control force|skip|reset|none",
		Short:     "Set the routing override (1=force, 2=skip, 3=reset)",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"force", "skip", "reset", "none"},
		RunE: func(cmd *cobra.Command, args []string) error {
			c, ok := routing.ParseControl(strings.ToLower(strings.TrimSpace(args[0])))
			if !ok {
				return clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid control %q", args[0]))
			}
			store, err := s.ensurePrefs()
			if err != nil {
				return err
			}
			p, err := store.SetControl(c)
			if err != nil {
				return clierr.Wrap(clierr.CodeInternal, "save preferences", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), prefsView(p), 0)
		},
	}

	root.AddCommand(show, hubCmd, control)
	return root
}
