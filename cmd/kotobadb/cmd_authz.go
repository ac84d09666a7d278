package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kotobadb/core/internal/authz"
	"github.com/kotobadb/core/internal/dbconfig"
)

var authzCmd = &cobra.Command{
	Use:   "authz",
	Short: "Exercise the Authorization Gate (§4.9) against an ad-hoc principal",
}

var (
	authzCapabilities []string // "ResourceType:Action:Scope"
	authzRoles        []string
	authzResourceType string
	authzAction       string
	authzResourceID   string
)

var authzCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Decide whether a principal may perform an action on a resource",
	Args:  cobra.NoArgs,
	RunE:  runAuthzCheck,
}

func init() {
	authzCheckCmd.Flags().StringArrayVar(&authzCapabilities, "cap", nil, "Capability as ResourceType:Action:Scope (repeatable)")
	authzCheckCmd.Flags().StringArrayVar(&authzRoles, "role", nil, "Legacy role name (repeatable)")
	authzCheckCmd.Flags().StringVar(&authzResourceType, "resource-type", "", "Resource type to check")
	authzCheckCmd.Flags().StringVar(&authzAction, "action", "", "Action to check")
	authzCheckCmd.Flags().StringVar(&authzResourceID, "resource-id", "", "Optional resource scope id")
	authzCheckCmd.MarkFlagRequired("resource-type")
	authzCheckCmd.MarkFlagRequired("action")
}

func parseCapabilities(raw []string) (authz.CapabilitySet, error) {
	set := make(authz.CapabilitySet, 0, len(raw))
	for _, c := range raw {
		parts := strings.SplitN(c, ":", 3)
		if len(parts) < 2 {
			return nil, fmt.Errorf("invalid --cap %q: want ResourceType:Action[:Scope]", c)
		}
		cap := authz.Capability{ResourceType: parts[0], Action: parts[1]}
		if len(parts) == 3 {
			cap.Scope = parts[2]
		}
		set = append(set, cap)
	}
	return set, nil
}

func runAuthzCheck(cmd *cobra.Command, args []string) error {
	caps, err := parseCapabilities(authzCapabilities)
	if err != nil {
		return err
	}

	gate := authz.NewGate(dbconfig.AuthzCapabilityThenRole, nil)
	principal := authz.Principal{UserID: "cli", Roles: authzRoles, Capabilities: caps}

	var resourceID *string
	if authzResourceID != "" {
		resourceID = &authzResourceID
	}
	resource := authz.Resource{Type: authzResourceType, Action: authzAction, ID: resourceID}

	decision := gate.Decide(principal, resource)
	if decision.Allowed {
		fmt.Printf("ALLOW (via %s)\n", decision.Via)
		return nil
	}
	fmt.Println("DENY")
	return gate.Check(principal, resource)
}
