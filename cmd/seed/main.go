// seed inserts development sample data for local testing. Run via go run ./cmd/seed.
// Idempotent: skips inserts if the dev loan (LN-DEV-001) already exists. When
// JWT_PRIVATE_KEY is set it also prints an admin access token for the admin API.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	categorydomain "fleet-control-plane/internal/category/domain"
	categoryrepo "fleet-control-plane/internal/category/repository"
	"fleet-control-plane/internal/config"
	"fleet-control-plane/internal/db"
	loandomain "fleet-control-plane/internal/loan/domain"
	loanrepo "fleet-control-plane/internal/loan/repository"
	"fleet-control-plane/internal/platform/rbac"
	"fleet-control-plane/internal/security"
)

const (
	devLoanID        = "dev-loan-001"
	devLoanNumber    = "LN-DEV-001"
	closedLoanID     = "dev-loan-002"
	closedLoanNumber = "LN-DEV-002"
	devAdminSubject  = "dev-admin"
	posCategorySlug  = "pos-terminal"
	installments     = 3
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	ctx := context.Background()
	loans := loanrepo.NewPostgresRepository(conn)
	categories := categoryrepo.NewPostgresRepository(conn)

	existing, err := loans.FindByNumber(ctx, devLoanNumber)
	if err != nil {
		log.Fatalf("seed check: %v", err)
	}
	if existing != nil {
		log.Printf("Seed already applied (%s exists). Skipping data.", devLoanNumber)
	} else {
		seedData(ctx, loans, categories)
		log.Println("Seed completed successfully.")
		fmt.Printf("Register a mobile device with loan_number %s\n", devLoanNumber)
	}

	if cfg.JWTPrivateKey == "" {
		return
	}
	priv, pub, err := security.LoadKeys(cfg.JWTPrivateKey, cfg.JWTPublicKey)
	if err != nil {
		log.Fatalf("jwt keys: %v", err)
	}
	tokens := security.NewTokenProvider(priv, pub, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL())
	token, expiresAt, err := tokens.IssueAccess(devAdminSubject, rbac.RoleAdmin)
	if err != nil {
		log.Fatalf("issue admin token: %v", err)
	}
	fmt.Printf("Admin token (expires %s):\n%s\n", expiresAt.Format(time.RFC3339), token)
}

func seedData(ctx context.Context, loans *loanrepo.PostgresRepository, categories *categoryrepo.PostgresRepository) {
	maxSerial := 32
	if err := categories.Upsert(ctx, &categorydomain.Category{
		Slug:        posCategorySlug,
		DisplayName: "POS Terminal",
		Fields: []categorydomain.Field{
			{Name: "terminal_serial", Type: categorydomain.FieldString, Required: true, MaxLength: &maxSerial},
			{Name: "printer_attached", Type: categorydomain.FieldBoolean},
		},
	}); err != nil {
		log.Fatalf("upsert category: %v", err)
	}

	now := time.Now().UTC()
	if err := loans.Create(ctx, &loandomain.Loan{
		ID:        devLoanID,
		Number:    devLoanNumber,
		Status:    loandomain.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		log.Fatalf("create loan: %v", err)
	}
	for i := 1; i <= installments; i++ {
		due := now.AddDate(0, i, 0).Truncate(24 * time.Hour)
		if err := loans.AddInstallment(ctx, &loandomain.Installment{
			ID:      fmt.Sprintf("%s-p%d", devLoanID, i),
			LoanID:  devLoanID,
			Number:  i,
			DueDate: &due,
			Amount:  decimal.NewFromInt(2500),
			Status:  loandomain.PaymentPending,
		}); err != nil {
			log.Fatalf("add installment %d: %v", i, err)
		}
	}

	ended := now.AddDate(0, -1, 0)
	if err := loans.Create(ctx, &loandomain.Loan{
		ID:            closedLoanID,
		Number:        closedLoanNumber,
		Status:        loandomain.StatusCompleted,
		ActualEndDate: &ended,
		CreatedAt:     now.AddDate(-1, 0, 0),
		UpdatedAt:     now,
	}); err != nil {
		log.Fatalf("create completed loan: %v", err)
	}
}
