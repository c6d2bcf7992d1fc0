package main

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/kamikazebr/musa-estate/pkg/models"
	"github.com/spf13/cobra"
)

// cliActor is the platform admin identity used by admin subcommands.
var cliActor = models.Actor{
	UserID:        "cli",
	Email:         "cli@localhost",
	DisplayName:   "Command line",
	Role:          models.RoleAdmin,
	Status:        models.UserApproved,
	PlatformAdmin: true,
}

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Administrative commands",
	Long:  "Administrative commands for managing estates, accounts and access codes",
}

var createEstateCmd = &cobra.Command{
	Use:   "create-estate",
	Short: "Create an estate",
	Run:   runCreateEstateCommand,
}

var promoteAdminCmd = &cobra.Command{
	Use:   "promote-admin",
	Short: "Make a user an admin of an estate",
	Run:   runPromoteAdminCommand,
}

var approveUserCmd = &cobra.Command{
	Use:   "approve-user",
	Short: "Approve a pending account",
	Run:   runApproveUserCommand,
}

var listPendingCmd = &cobra.Command{
	Use:   "list-pending",
	Short: "List accounts awaiting approval in an estate",
	Run:   runListPendingCommand,
}

var createCodeCmd = &cobra.Command{
	Use:   "create-code",
	Short: "Issue an access code on behalf of a resident (for testing)",
	Run:   runCreateCodeCommand,
}

var verifyCodeCmd = &cobra.Command{
	Use:   "verify-code",
	Short: "Check an access code without a guard account (for testing)",
	Run:   runVerifyCodeCommand,
}

func init() {
	createEstateCmd.Flags().String("name", "", "Estate name (required)")
	createEstateCmd.Flags().String("address", "", "Estate address")
	createEstateCmd.MarkFlagRequired("name")

	promoteAdminCmd.Flags().String("estate", "", "Estate ID (required)")
	promoteAdminCmd.Flags().String("user", "", "User ID (required)")
	promoteAdminCmd.MarkFlagRequired("estate")
	promoteAdminCmd.MarkFlagRequired("user")

	approveUserCmd.Flags().String("user", "", "User ID (required)")
	approveUserCmd.MarkFlagRequired("user")

	listPendingCmd.Flags().String("estate", "", "Estate ID (required)")
	listPendingCmd.MarkFlagRequired("estate")

	createCodeCmd.Flags().String("user", "", "Resident user ID (required)")
	createCodeCmd.Flags().String("household", "", "Household ID (defaults to the resident's)")
	createCodeCmd.Flags().String("description", "", "Code description")
	createCodeCmd.Flags().Duration("valid-for", 0, "Expire the code after this long (e.g. 2h)")
	createCodeCmd.MarkFlagRequired("user")

	verifyCodeCmd.Flags().String("code", "", "Access code (required)")
	verifyCodeCmd.Flags().String("estate", "", "Reject codes from other estates")
	verifyCodeCmd.MarkFlagRequired("code")

	adminCmd.AddCommand(
		createEstateCmd,
		promoteAdminCmd,
		approveUserCmd,
		listPendingCmd,
		createCodeCmd,
		verifyCodeCmd,
	)
}

// withApp builds the app for a one-off command. Outbox events it queues are
// delivered by the running server when DATABASE_URL is shared.
func withApp(fn func(ctx context.Context, a *app)) {
	cfg := loadConfig()
	if !cfg.FirebaseEnabled() {
		log.Println("Warning: without FIREBASE_CREDENTIALS_PATH changes are not persisted")
	}

	ctx := context.Background()
	a, err := newApp(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer a.Close()

	fn(ctx, a)
}

func runCreateEstateCommand(cmd *cobra.Command, args []string) {
	name, _ := cmd.Flags().GetString("name")
	address, _ := cmd.Flags().GetString("address")

	withApp(func(ctx context.Context, a *app) {
		estate, err := a.directory.CreateEstate(ctx, cliActor, name, address)
		if err != nil {
			log.Fatalf("Failed to create estate: %v", err)
		}
		fmt.Printf("✓ Estate created\n")
		fmt.Printf("  ID:   %s\n", estate.ID)
		fmt.Printf("  Name: %s\n", estate.Name)
	})
}

func runPromoteAdminCommand(cmd *cobra.Command, args []string) {
	estateID, _ := cmd.Flags().GetString("estate")
	userID, _ := cmd.Flags().GetString("user")

	withApp(func(ctx context.Context, a *app) {
		estate, err := a.directory.AddEstateAdmin(ctx, cliActor, estateID, userID)
		if err != nil {
			log.Fatalf("Failed to promote user: %v", err)
		}
		fmt.Printf("✓ %s is now an admin of %s (%d admins)\n", userID, estate.Name, len(estate.AdminIDs))
	})
}

func runApproveUserCommand(cmd *cobra.Command, args []string) {
	userID, _ := cmd.Flags().GetString("user")

	withApp(func(ctx context.Context, a *app) {
		user, err := a.directory.ApproveUser(ctx, cliActor, userID)
		if err != nil {
			log.Fatalf("Failed to approve user: %v", err)
		}
		fmt.Printf("✓ Approved %s <%s> as %s\n", user.DisplayName, user.Email, user.Role)
	})
}

func runListPendingCommand(cmd *cobra.Command, args []string) {
	estateID, _ := cmd.Flags().GetString("estate")

	withApp(func(ctx context.Context, a *app) {
		users, err := a.directory.ListPending(ctx, cliActor, estateID)
		if err != nil {
			log.Fatalf("Failed to list pending users: %v", err)
		}
		if len(users) == 0 {
			fmt.Println("No pending accounts")
			return
		}

		fmt.Printf("%-30s %-30s %-10s %s\n", "ID", "EMAIL", "ROLE", "REQUESTED")
		fmt.Println(strings.Repeat("-", 90))
		for _, u := range users {
			requested := time.UnixMilli(u.CreatedAt).Format("2006-01-02 15:04")
			fmt.Printf("%-30s %-30s %-10s %s\n", u.ID, u.Email, u.Role, requested)
		}
	})
}

func runCreateCodeCommand(cmd *cobra.Command, args []string) {
	userID, _ := cmd.Flags().GetString("user")
	householdID, _ := cmd.Flags().GetString("household")
	description, _ := cmd.Flags().GetString("description")
	validFor, _ := cmd.Flags().GetDuration("valid-for")

	withApp(func(ctx context.Context, a *app) {
		resident, user, err := a.directory.ResolveActor(ctx, userID, "")
		if err != nil {
			log.Fatalf("Failed to load user %s: %v", userID, err)
		}
		if householdID == "" && user != nil {
			householdID = user.HouseholdID
		}

		in := models.CreateAccessCodeInput{
			HouseholdID: householdID,
			Description: description,
		}
		if validFor > 0 {
			ms := time.Now().Add(validFor).UnixMilli()
			in.ExpiresAt = &ms
		}

		code, err := a.codes.Create(ctx, resident, in)
		if err != nil {
			log.Fatalf("Failed to create access code: %v", err)
		}
		fmt.Printf("✓ Access code created\n")
		fmt.Printf("  Code:      %s\n", code.Code)
		fmt.Printf("  ID:        %s\n", code.ID)
		fmt.Printf("  Household: %s\n", code.HouseholdID)
		if code.ExpiresAt != nil {
			fmt.Printf("  Expires:   %s\n", time.UnixMilli(*code.ExpiresAt).Format(time.RFC3339))
		}
	})
}

func runVerifyCodeCommand(cmd *cobra.Command, args []string) {
	code, _ := cmd.Flags().GetString("code")
	estateID, _ := cmd.Flags().GetString("estate")

	withApp(func(ctx context.Context, a *app) {
		result, err := a.codes.VerifyInEstate(ctx, code, estateID)
		if err != nil {
			log.Fatalf("Failed to verify code: %v", err)
		}
		mark := "✗"
		if result.IsValid {
			mark = "✓"
		}
		fmt.Printf("%s %s\n", mark, result.Message)
		if result.AccessCode != nil {
			fmt.Printf("  Household: %s\n", result.AccessCode.HouseholdID)
			fmt.Printf("  Uses:      %d\n", result.AccessCode.UsageCount)
		}
	})
}
