package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vivian5285/panda-quant/libs/auth"
)

var (
	uplineID   = uuid.MustParse("00000000-0000-0000-0000-000000000003")
	referrerID = uuid.MustParse("00000000-0000-0000-0000-000000000002")
	demoID     = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	adminID    = uuid.MustParse("00000000-0000-0000-0000-0000000000ad")
)

func main() {
	env := getEnv("PQ_APP_ENV", "dev")
	if env != "dev" && env != "test" {
		log.Fatalf("refusing to seed: PQ_APP_ENV must be 'dev' or 'test' (got '%s')", env)
	}

	host := getEnv("POSTGRES_HOST", "localhost")
	port := getEnv("POSTGRES_PORT", "5432")
	db := getEnv("POSTGRES_DB", "panda_quant")
	user := getEnv("POSTGRES_USER", "panda")
	password := getEnv("POSTGRES_PASSWORD", "panda")
	sslmode := getEnv("POSTGRES_SSLMODE", "disable")

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		user, password, host, port, db, sslmode)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("connect db: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("ping db: %v", err)
	}

	fmt.Println("Seeding database...")

	if err := seedUsers(ctx, pool); err != nil {
		log.Fatalf("seed users: %v", err)
	}
	fmt.Println("✓ Referral chain seeded")

	if err := seedEntries(ctx, pool); err != nil {
		log.Fatalf("seed commission entries: %v", err)
	}
	fmt.Println("✓ Pending commission entries seeded")

	if os.Getenv("SEED_TESTDATA") == "1" {
		if err := seedTestData(ctx, pool); err != nil {
			log.Fatalf("seed test data: %v", err)
		}
		fmt.Println("✓ Test data seeded")
	}

	fmt.Println("\n=== Seed Complete ===")
	fmt.Println("\nReferral chain: upline <- referrer <- demo")
	fmt.Printf("  upline:   %s\n", uplineID)
	fmt.Printf("  referrer: %s\n", referrerID)
	fmt.Printf("  demo:     %s\n", demoID)

	if env == "dev" {
		secret := []byte(getEnv("JWT_SECRET", "dev-secret-change-me"))
		now := time.Now()
		demoToken, err := auth.SignJWT(demoID.String(), []string{"user"}, secret, 24*time.Hour, now)
		if err != nil {
			log.Fatalf("sign demo token: %v", err)
		}
		adminToken, err := auth.SignJWT(adminID.String(), []string{"user", auth.RoleAdmin}, secret, 24*time.Hour, now)
		if err != nil {
			log.Fatalf("sign admin token: %v", err)
		}
		fmt.Println("\nTokens (DEV ONLY, 24h):")
		fmt.Printf("  demo:  %s\n", demoToken)
		fmt.Printf("  admin: %s\n", adminToken)
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// seedUsers inserts referrers before the users they refer so the
// referrer_id foreign key holds.
func seedUsers(ctx context.Context, pool *pgxpool.Pool) error {
	users := []struct {
		id       uuid.UUID
		referrer *uuid.UUID
		balance  string
	}{
		{id: uplineID, balance: "0"},
		{id: referrerID, referrer: &uplineID, balance: "0"},
		{id: demoID, referrer: &referrerID, balance: "250"},
		{id: adminID, balance: "0"},
	}

	now := time.Now()
	for _, u := range users {
		_, err := pool.Exec(ctx, `
			INSERT INTO users (id, referrer_id, balance, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $4)
			ON CONFLICT (id) DO UPDATE
			SET referrer_id = EXCLUDED.referrer_id,
			    balance = EXCLUDED.balance,
			    updated_at = EXCLUDED.updated_at
		`, u.id, u.referrer, u.balance, now)
		if err != nil {
			return err
		}
	}
	return nil
}

type seedEntry struct {
	userID    uuid.UUID
	fromUser  *uuid.UUID
	amount    string
	level     int
	refType   string
	refID     string
	reference any
}

func insertEntries(ctx context.Context, pool *pgxpool.Pool, entries []seedEntry) error {
	now := time.Now()
	for i, e := range entries {
		payload, err := json.Marshal(e.reference)
		if err != nil {
			return err
		}
		_, err = pool.Exec(ctx, `
			INSERT INTO commission_entries (id, user_id, from_user_id, amount, level, reference_id, reference_type, reference, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, 'pending', $9)
			ON CONFLICT (user_id, reference_type, reference_id, level) DO NOTHING
		`, uuid.New(), e.userID, e.fromUser, e.amount, e.level, e.refID, e.refType, payload, now.Add(time.Duration(i)*time.Millisecond))
		if err != nil {
			return err
		}
	}
	return nil
}

func seedEntries(ctx context.Context, pool *pgxpool.Pool) error {
	return insertEntries(ctx, pool, []seedEntry{
		{
			userID: demoID, amount: "600", level: 1, refType: "order", refID: "seed-ord-1",
			reference: map[string]string{"order_id": "seed-ord-1", "symbol": "BTCUSDT", "side": "buy", "notional": "6000"},
		},
		{
			userID: demoID, amount: "400", level: 1, refType: "order", refID: "seed-ord-2",
			reference: map[string]string{"order_id": "seed-ord-2", "symbol": "ETHUSDT", "side": "sell", "notional": "4000"},
		},
		{
			userID: referrerID, fromUser: &demoID, amount: "50", level: 1, refType: "deposit", refID: "seed-dep-1",
			reference: map[string]string{"deposit_id": "seed-dep-1", "asset": "USDT", "amount": "500"},
		},
	})
}
