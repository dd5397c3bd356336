package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/ManuelReschke/MemberVault/app/models"
)

const (
	defaultAdminTokens = 1000
	defaultAdminGrant  = 365 * 24 * time.Hour
)

var errUserIDRequired = errors.New("--user-id is required")

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), timeout)
}

func syncCatalogCmd(connect connectFunc) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "sync-catalog",
		Short: "Mirror active products and prices from Stripe",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := connect()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()

			start := time.Now()
			if err := rt.svc.SyncCatalog(ctx, force); err != nil {
				return fmt.Errorf("sync catalog: %w", err)
			}
			log.Info().Bool("force", force).Dur("took", time.Since(start)).Msg("catalog synced")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", true, "ignore the sync window")
	return cmd
}

func reconcileCmd(connect connectFunc) *cobra.Command {
	var subscriptionID, customerID string
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Reconcile one subscription against Stripe",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if subscriptionID == "" || customerID == "" {
				return errors.New("--subscription and --customer are required")
			}
			rt, err := connect()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()

			if err := rt.svc.ReconcileSubscription(ctx, subscriptionID, customerID); err != nil {
				return fmt.Errorf("reconcile %s: %w", subscriptionID, err)
			}
			log.Info().Str("subscription", subscriptionID).Str("customer", customerID).Msg("subscription reconciled")
			return nil
		},
	}
	cmd.Flags().StringVar(&subscriptionID, "subscription", "", "Stripe subscription id (sub_...)")
	cmd.Flags().StringVar(&customerID, "customer", "", "Stripe customer id (cus_...)")
	return cmd
}

func syncUserCmd(connect connectFunc) *cobra.Command {
	var userID uint
	cmd := &cobra.Command{
		Use:   "sync-user",
		Short: "Reconcile every subscription of a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == 0 {
				return errUserIDRequired
			}
			rt, err := connect()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()

			if err := rt.svc.SyncUserSubscriptions(ctx, userID); err != nil {
				return fmt.Errorf("sync user %d: %w", userID, err)
			}
			log.Info().Uint("user_id", userID).Msg("user subscriptions synced")
			return nil
		},
	}
	cmd.Flags().UintVar(&userID, "user-id", 0, "user id")
	return cmd
}

func subscriptionsCmd(connect connectFunc) *cobra.Command {
	var (
		userID uint
		sync   bool
	)
	cmd := &cobra.Command{
		Use:   "subscriptions",
		Short: "Show the active subscription and history of a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == 0 {
				return errUserIDRequired
			}
			rt, err := connect()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()

			active, err := rt.svc.GetUserSubscription(ctx, userID, sync)
			if err != nil {
				return fmt.Errorf("load subscription of user %d: %w", userID, err)
			}
			history, err := rt.svc.SubscriptionHistory(ctx, userID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if active == nil {
				fmt.Fprintf(out, "user %d: no active subscription\n", userID)
			} else {
				fmt.Fprintf(out, "user %d: %s on %s (%s) until %s\n", userID, active.ID, active.ProductID, active.Status,
					active.CurrentPeriodEnd.UTC().Format(time.RFC3339))
			}
			for _, s := range history {
				fmt.Fprintf(out, "  %s\t%s\t%s\tentitled=%t\n", s.ID, s.ProductID, s.Status, s.Entitled)
			}
			log.Debug().Uint("user_id", userID).Int("subscriptions", len(history)).Bool("synced", sync).Msg("subscriptions listed")
			return nil
		},
	}
	cmd.Flags().UintVar(&userID, "user-id", 0, "user id")
	cmd.Flags().BoolVar(&sync, "sync", false, "reconcile with Stripe before reading")
	return cmd
}

func seedAdminCmd(connect connectFunc) *cobra.Command {
	var (
		email    string
		tokens   int64
		validFor time.Duration
	)
	cmd := &cobra.Command{
		Use:   "seed-admin",
		Short: "Promote an existing user to ADMIN with a token grant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			email = strings.ToLower(strings.TrimSpace(email))
			if email == "" {
				return errors.New("--email is required")
			}
			rt, err := connect()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()

			user, err := rt.svc.SeedAdmin(ctx, email, tokens, validFor)
			if err != nil {
				return fmt.Errorf("seed admin %s: %w", email, err)
			}
			log.Info().Uint("user_id", user.ID).Str("email", user.Email).Int64("tokens", user.Tokens).Msg("admin seeded")
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email of the user to promote")
	cmd.Flags().Int64Var(&tokens, "tokens", defaultAdminTokens, "tokens to grant")
	cmd.Flags().DurationVar(&validFor, "valid-for", defaultAdminGrant, "how long the grant stays valid")
	return cmd
}

func tokensCmd(connect connectFunc) *cobra.Command {
	var userID uint
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Show the effective token balance of a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == 0 {
				return errUserIDRequired
			}
			rt, err := connect()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()

			info, err := rt.svc.GetTokens(ctx, userID)
			if err != nil {
				return err
			}
			expires := "never"
			if info.ExpiresAt != nil {
				expires = info.ExpiresAt.UTC().Format(time.RFC3339)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user %d: %d tokens (expired=%t, expires=%s)\n", userID, info.Tokens, info.Expired, expires)
			return nil
		},
	}
	cmd.Flags().UintVar(&userID, "user-id", 0, "user id")
	return cmd
}

func createUserCmd(connect connectFunc) *cobra.Command {
	var name, email string
	cmd := &cobra.Command{
		Use:   "create-user",
		Short: "Create a member account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := models.NewUser(name, email)
			if err != nil {
				return fmt.Errorf("invalid user: %w", err)
			}
			rt, err := connect()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()

			if err := rt.repos.User.Create(ctx, user); err != nil {
				return fmt.Errorf("create user: %w", err)
			}
			log.Info().Uint("user_id", user.ID).Str("email", user.Email).Msg("user created")
			fmt.Fprintf(cmd.OutOrStdout(), "%d\n", user.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "email address")
	return cmd
}

func apiKeyCmd(connect connectFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "api-key",
		Short: "Manage member API keys",
	}

	var userID uint
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Issue or rotate the API key of a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == 0 {
				return errUserIDRequired
			}
			rt, err := connect()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()

			if _, err := rt.repos.User.GetByID(ctx, userID); err != nil {
				return fmt.Errorf("load user %d: %w", userID, err)
			}

			key, err := rt.repos.ApiKey.GetByUserID(ctx, userID)
			if err != nil {
				if !errors.Is(err, gorm.ErrRecordNotFound) {
					return err
				}
				key = &models.ApiKey{UserID: userID}
			}
			raw, err := key.Issue(time.Now())
			if err != nil {
				return err
			}
			if err := rt.repos.ApiKey.Save(ctx, key); err != nil {
				return fmt.Errorf("store api key: %w", err)
			}
			log.Info().Uint("user_id", userID).Str("prefix", key.KeyPrefix).Msg("api key issued")
			fmt.Fprintln(cmd.OutOrStdout(), raw)
			return nil
		},
	}
	issue.Flags().UintVar(&userID, "user-id", 0, "user id")

	cmd.AddCommand(issue)
	return cmd
}
