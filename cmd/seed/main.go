// Command seed fills a development database with fake learners, cohorts and
// sessions, and prints a bearer token for the admin account.
package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/Freeeeeet/community_hub/internal/app"
	"github.com/Freeeeeet/community_hub/internal/config"
	"github.com/Freeeeeet/community_hub/internal/controller/api"
	"github.com/Freeeeeet/community_hub/internal/model"
	"github.com/Freeeeeet/community_hub/internal/repository"
	"github.com/Freeeeeet/community_hub/internal/repository/base"
	"github.com/Freeeeeet/community_hub/internal/repository/migrations"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

func main() {
	learners := flag.Int("learners", 40, "number of fake learners")
	cohorts := flag.Int("cohorts", 3, "number of cohorts")
	csvPath := flag.String("csv", "", "also write an import file with extra learners to this path")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger := app.NewLogger(cfg.Environment, "community-seed")
	defer logger.Sync()

	if err := run(context.Background(), cfg, logger, *learners, *cohorts, *csvPath); err != nil {
		logger.Fatal("Seeding failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger, learners, cohorts int, csvPath string) error {
	gofakeit.Seed(time.Now().UnixNano())

	pool, err := pgxpool.New(ctx, cfg.DBDSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	migrator, err := app.NewMigrator(pool, migrations.FS, logger)
	if err != nil {
		return err
	}
	defer migrator.Close()
	if err := migrator.Run(ctx); err != nil {
		return err
	}

	users := repository.NewUserRepository(pool)
	groups := repository.NewGroupRepository(pool)
	members := repository.NewMembershipRepository(pool)
	sessions := repository.NewSessionRepository(pool)

	admin := &model.User{Email: "admin@community.local", DisplayName: "Community Admin", IsAdmin: true}
	if err := users.Create(ctx, admin); err != nil {
		if !errors.Is(err, base.ErrDuplicate) {
			return err
		}
		if admin, err = users.FindByEmail(ctx, admin.Email); err != nil {
			return err
		}
	}

	var created []*model.User
	for i := 0; i < learners; i++ {
		u := fakeLearner()
		if err := users.Create(ctx, u); err != nil {
			if errors.Is(err, base.ErrDuplicate) {
				continue
			}
			return err
		}
		created = append(created, u)
	}
	logger.Info("Learners created", zap.Int("count", len(created)))

	now := time.Now().UTC()
	var cohortNames []string
	for i := 0; i < cohorts; i++ {
		start := now.AddDate(0, 0, -7*i).Truncate(24 * time.Hour)
		end := start.AddDate(0, 3, 0)
		g := &model.Group{
			Name:      fmt.Sprintf("%s %s", gofakeit.Adjective(), gofakeit.Animal()),
			Type:      model.GroupTypeCohort,
			StartDate: &start,
			EndDate:   &end,
		}
		if err := groups.Create(ctx, g); err != nil {
			if errors.Is(err, base.ErrDuplicate) {
				continue
			}
			return err
		}
		cohortNames = append(cohortNames, g.Name)

		for j, u := range created {
			if j%cohorts != i {
				continue
			}
			if _, err := members.Add(ctx, &model.GroupMembership{GroupID: g.ID, UserID: u.ID, Role: model.MemberRoleMember}); err != nil {
				return err
			}
		}

		sessionStart := now.Add(time.Duration(gofakeit.Number(1, 72)) * time.Hour).Truncate(time.Hour)
		s := &model.Session{
			Title:       gofakeit.HipsterSentence(3),
			Description: gofakeit.Sentence(12),
			StartTime:   sessionStart,
			EndTime:     sessionStart.Add(time.Hour),
			GroupID:     &g.ID,
			CreatedBy:   admin.ID,
		}
		if err := sessions.Create(ctx, s); err != nil {
			return err
		}
		logger.Info("Cohort seeded", zap.String("group", g.Name), zap.String("session", s.Title))
	}

	if csvPath != "" && len(cohortNames) > 0 {
		if err := writeImportFile(csvPath, cohortNames); err != nil {
			return err
		}
		logger.Info("Import file written", zap.String("path", csvPath))
	}

	if cfg.JWTSecret != "" {
		token, err := api.IssueToken(cfg.JWTSecret, admin.ID, true, 24*time.Hour)
		if err != nil {
			return err
		}
		fmt.Println("Admin bearer token:", token)
	}
	return nil
}

func fakeLearner() *model.User {
	first, last := gofakeit.FirstName(), gofakeit.LastName()
	ext := gofakeit.Numerify("##################")
	return &model.User{
		Email:          strings.ToLower(fmt.Sprintf("%s.%s.%s@example.com", first, last, gofakeit.LetterN(4))),
		DisplayName:    first + " " + last,
		ProviderUserID: &ext,
	}
}

// writeImportFile writes fresh learners in the membership import format.
// They do not exist yet, so importing the file reports them as unknown
// emails until they sign up.
func writeImportFile(path string, cohortNames []string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	_ = w.Write([]string{"email", "full_name", "role", "cohort"})
	for i := 0; i < 10; i++ {
		u := fakeLearner()
		_ = w.Write([]string{u.Email, u.DisplayName, "member", cohortNames[i%len(cohortNames)]})
	}
	w.Flush()
	return w.Error()
}
