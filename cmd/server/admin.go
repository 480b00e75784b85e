package main

import (
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"jokes/internal/auth"
	"jokes/internal/seed"
)

var (
	success = color.New(color.FgHiGreen, color.Bold)
	info    = color.New(color.FgCyan)
)

var initDBCmd = &cobra.Command{
	Use:   "init-db",
	Short: "Create or migrate the database schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup()
		if err != nil {
			return err
		}
		defer a.Close()
		success.Printf("Database ready (%s).\n", a.cfg.DBDriver)
		return nil
	},
}

var initModeratorCmd = &cobra.Command{
	Use:   "init-moderator EMAIL NICKNAME PASSWORD",
	Short: "Create the first moderator account",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup()
		if err != nil {
			return err
		}
		defer a.Close()
		u, err := a.svc.CreateModerator(cmd.Context(), auth.Registration{
			Email: args[0], Nickname: args[1], Password: args[2],
		})
		if err != nil {
			return err
		}
		success.Printf("Moderator %s created (id %d).\n", u.Nickname, u.ID)
		return nil
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Populate the database with sample users and jokes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup()
		if err != nil {
			return err
		}
		defer a.Close()
		res, err := seed.Run(cmd.Context(), a.svc)
		if err != nil {
			return err
		}
		success.Printf("Created %d users and %d jokes.\n", res.Users, res.Jokes)
		info.Printf("Sample logins: %s (password %q)\n", strings.Join(seed.Nicknames(), ", "), seed.Password)
		return nil
	},
}

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "List accounts with their roles and balances",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup()
		if err != nil {
			return err
		}
		defer a.Close()
		users, err := a.svc.AllUsers(cmd.Context())
		if err != nil {
			return err
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.SetAutoWrapText(false)
		table.SetHeader([]string{"ID", "Nickname", "Email", "Role", "Balance"})
		for _, u := range users {
			table.Append([]string{
				strconv.FormatInt(u.ID, 10),
				u.Nickname,
				u.Email,
				string(u.Role),
				strconv.Itoa(u.CreditBalance),
			})
		}
		table.Render()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initDBCmd, initModeratorCmd, seedCmd, usersCmd)
}
