package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/caretrust/medlock/pkg/identity"
	"github.com/caretrust/medlock/pkg/keystore"
	"github.com/caretrust/medlock/pkg/types"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage user accounts and attributes",
}

var userCreateCmd = &cobra.Command{
	Use:   "create EMAIL",
	Short: "Create a user account",
	Long: `Create a user account with a login password and an RSA keypair.

Unlike signup over the API, this command may create admin accounts.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		email := args[0]
		roleStr, _ := cmd.Flags().GetString("role")
		name, _ := cmd.Flags().GetString("name")
		password, _ := cmd.Flags().GetString("password")

		if password == "" {
			return fmt.Errorf("--password is required")
		}
		role, ok := types.ParseRole(roleStr)
		if !ok {
			return fmt.Errorf("invalid role %q: want patient, doctor or admin", roleStr)
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := cfg.EnsureDirs(); err != nil {
			return err
		}

		users, err := identity.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("failed to open identity store: %v", err)
		}
		defer func() { _ = users.Close() }()

		fmt.Printf("Creating user '%s'\n", email)
		fmt.Printf("  Role: %s\n", role)

		u, err := users.CreateUser(email, password, role, name)
		if err != nil {
			return fmt.Errorf("failed to create user: %v", err)
		}

		keys := keystore.New(cfg.SRSKeyDir, cfg.UserKeyDir)
		if _, _, err := keys.GenerateUserKeys(u.ID); err != nil {
			return fmt.Errorf("user %s created but key generation failed: %v", u.ID, err)
		}

		fmt.Println("✓ User created")
		fmt.Printf("  ID: %s\n", u.ID)
		fmt.Printf("  Email: %s\n", u.Email)
		return nil
	},
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List user accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		users, err := identity.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("failed to open identity store: %v", err)
		}
		defer func() { _ = users.Close() }()

		list, err := users.ListUsers()
		if err != nil {
			return fmt.Errorf("failed to list users: %v", err)
		}
		if len(list) == 0 {
			fmt.Println("No users found")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintf(w, "ID\tEMAIL\tNAME\tROLE\tATTRIBUTES\n")
		_, _ = fmt.Fprintf(w, "--\t-----\t----\t----\t----------\n")
		for _, u := range list {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				u.ID, u.Email, u.Name, u.Role, formatAttributes(u.Attributes))
		}
		return w.Flush()
	},
}

// formatAttributes renders an attribute bag as sorted key:value pairs
func formatAttributes(attrs map[string]string) string {
	if len(attrs) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s:%s", k, attrs[k]))
	}
	return strings.Join(pairs, ",")
}

var userAttrCmd = &cobra.Command{
	Use:   "attr",
	Short: "Manage user attributes",
	Long: `Manage the attributes policies match against.

The Role attribute is derived from the account and cannot be edited.`,
}

var userAttrAddCmd = &cobra.Command{
	Use:   "add USER_ID KEY VALUE",
	Short: "Add or update an attribute on a user",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, key, value := args[0], args[1], args[2]

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		users, err := identity.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("failed to open identity store: %v", err)
		}
		defer func() { _ = users.Close() }()

		if err := users.SetAttribute(userID, key, value); err != nil {
			return fmt.Errorf("failed to set attribute: %v", err)
		}
		fmt.Printf("✓ Attribute %s:%s set on user %s\n", key, value, userID)
		return nil
	},
}

var userAttrRemoveCmd = &cobra.Command{
	Use:   "remove USER_ID KEY",
	Short: "Remove an attribute from a user",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, key := args[0], args[1]

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		users, err := identity.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("failed to open identity store: %v", err)
		}
		defer func() { _ = users.Close() }()

		if err := users.RemoveAttribute(userID, key); err != nil {
			return fmt.Errorf("failed to remove attribute: %v", err)
		}
		fmt.Printf("✓ Attribute %s removed from user %s\n", key, userID)
		return nil
	},
}

func init() {
	userCreateCmd.Flags().String("config", "", "Path to YAML config file")
	userCreateCmd.Flags().String("role", "patient", "Account role: patient, doctor or admin")
	userCreateCmd.Flags().String("name", "", "Display name")
	userCreateCmd.Flags().String("password", "", "Login password (required)")

	userListCmd.Flags().String("config", "", "Path to YAML config file")
	userAttrAddCmd.Flags().String("config", "", "Path to YAML config file")
	userAttrRemoveCmd.Flags().String("config", "", "Path to YAML config file")

	userAttrCmd.AddCommand(userAttrAddCmd)
	userAttrCmd.AddCommand(userAttrRemoveCmd)

	userCmd.AddCommand(userCreateCmd)
	userCmd.AddCommand(userListCmd)
	userCmd.AddCommand(userAttrCmd)
}
