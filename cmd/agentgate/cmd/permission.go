package cmd

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/agentgate/agentgate/pkg/api"
)

func permissionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "permission",
		Aliases: []string{"perm"},
		Short:   "manage permission rules",
	}
	cmd.AddCommand(permissionListCmd())
	cmd.AddCommand(permissionAddCmd())
	return cmd
}

func permissionListCmd() *cobra.Command {
	var scope, key string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "list permission rules for a scope",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, cleanup, err := buildStack(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			rules, err := st.store.ListPermissionRules(cmd.Context(), api.RuleScope(scope), key)
			if err != nil {
				return err
			}
			if len(rules) == 0 {
				fmt.Println("no rules")
				return nil
			}
			for _, r := range rules {
				fmt.Printf("%s\t%s\t%s\tselector=%s\tpattern=%s\n", r.ID, r.Scope, r.Verdict, r.ToolSelector, r.InputPattern)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&scope, "scope", string(api.ScopeGlobal), "rule scope: global, workspace, session")
	cmd.Flags().StringVar(&key, "key", "", "workspace path or session id (ignored for global scope)")
	return cmd
}

func permissionAddCmd() *cobra.Command {
	var scope, key, selector, pattern, verdict string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "add a permission rule",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, cleanup, err := buildStack(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			rule := api.PermissionRule{
				ID:           uuid.NewString(),
				Scope:        api.RuleScope(scope),
				ToolSelector: selector,
				InputPattern: pattern,
				Verdict:      api.Verdict(verdict),
			}
			switch rule.Scope {
			case api.ScopeWorkspace:
				rule.Workspace = key
			case api.ScopeSession:
				rule.SessionID = key
			}

			if err := st.store.SavePermissionRule(cmd.Context(), rule); err != nil {
				return err
			}
			fmt.Println("rule added:", rule.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&scope, "scope", string(api.ScopeGlobal), "rule scope: global, workspace, session")
	cmd.Flags().StringVar(&key, "key", "", "workspace path or session id (ignored for global scope)")
	cmd.Flags().StringVar(&selector, "tool", "", "tool name or glob selector the rule matches")
	cmd.Flags().StringVar(&pattern, "pattern", "", "optional glob pattern the tool input must match")
	cmd.Flags().StringVar(&verdict, "verdict", string(api.VerdictAsk), "allow, deny, or ask")
	return cmd
}
