package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	pkgAuth "github.com/angelmondragon/entitlements-backend/pkg/auth"
	"github.com/angelmondragon/entitlements-backend/pkg/config"
	"github.com/angelmondragon/entitlements-backend/pkg/enums"
)

func mintToken(cfg config.JWTConfig, now time.Time, userID, role string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", fmt.Errorf("--user is required")
	}
	r := enums.UserRole(strings.ToLower(strings.TrimSpace(role)))
	if !r.IsValid() {
		return "", fmt.Errorf("unknown role %q", role)
	}
	return pkgAuth.MintAccessToken(cfg, now, pkgAuth.AccessTokenPayload{
		UserID: userID,
		Role:   r,
		JTI:    uuid.NewString(),
	})
}

func newMintTokenCmd(state *cliState) *cobra.Command {
	var userID, role string
	cmd := &cobra.Command{
		Use:   "mint-token",
		Short: "Print a signed access token for calling the write endpoints",
		RunE: func(cmd *cobra.Command, _ []string) error {
			token, err := mintToken(state.cfg.JWT, time.Now(), userID, role)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "subject user id")
	cmd.Flags().StringVar(&role, "role", string(enums.UserRoleUser), "token role: user|admin")
	return cmd
}
