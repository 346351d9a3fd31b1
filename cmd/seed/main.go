// seed creates the staff accounts a fresh deployment needs: an NGO admin and an agricultural expert.
// Phone numbers come from SEED_ADMIN_PHONE and SEED_EXPERT_PHONE. Users that already exist are left alone.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/akshithakatte/AgriConnect/internal/config"
	"github.com/akshithakatte/AgriConnect/internal/db"
	"github.com/akshithakatte/AgriConnect/internal/logging"
	"github.com/akshithakatte/AgriConnect/internal/otp"
	userdomain "github.com/akshithakatte/AgriConnect/internal/user/domain"
	userrepo "github.com/akshithakatte/AgriConnect/internal/user/repository"
)

const (
	defaultAdminPhone  = "+919000000001"
	defaultExpertPhone = "+919000000002"
)

type seedUser struct {
	phone string
	name  string
	role  userdomain.Role
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log, err := logging.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env or export DATABASE_URL")
	}
	ctx := context.Background()
	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("db", zap.Error(err))
	}
	defer conn.Close()

	users := userrepo.NewPostgresRepository(conn)
	seeds := []seedUser{
		{phone: envOr("SEED_ADMIN_PHONE", defaultAdminPhone), name: "NGO Admin", role: userdomain.RoleNGOAdmin},
		{phone: envOr("SEED_EXPERT_PHONE", defaultExpertPhone), name: "Agri Expert", role: userdomain.RoleExpert},
	}
	for _, s := range seeds {
		created, err := ensureUser(ctx, users, s)
		if err != nil {
			log.Fatal("seed user", zap.String("role", string(s.role)), zap.Error(err))
		}
		if created {
			log.Info("user created", zap.String("role", string(s.role)), zap.String("phone", s.phone))
		} else {
			log.Info("user exists, skipped", zap.String("role", string(s.role)), zap.String("phone", s.phone))
		}
	}
}

// ensureUser creates s unless a user with the same phone number exists.
func ensureUser(ctx context.Context, users userrepo.Repository, s seedUser) (bool, error) {
	phone, err := otp.NormalizePhone(s.phone)
	if err != nil {
		return false, err
	}
	existing, err := users.GetByPhone(ctx, phone)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}
	now := time.Now().UTC()
	u := &userdomain.User{
		ID:          uuid.New().String(),
		PhoneNumber: phone,
		Name:        s.name,
		Role:        s.role,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := u.Validate(); err != nil {
		return false, err
	}
	return true, users.Create(ctx, u)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
