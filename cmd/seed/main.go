package main

import (
	"context"
	"errors"
	"os"
	"time"

	"cloud.google.com/go/civil"
	"github.com/brianvoe/gofakeit/v7"
	"go.uber.org/zap"

	"github.com/hackgods/practice-booking/internal/booking"
	"github.com/hackgods/practice-booking/internal/clock"
	"github.com/hackgods/practice-booking/internal/config"
	"github.com/hackgods/practice-booking/internal/db"
	"github.com/hackgods/practice-booking/internal/logging"
	"github.com/hackgods/practice-booking/internal/schedule"
)

const (
	seedDays       = 14
	bookingsPerDay = 6
	blockedPerDay  = 1
)

var (
	blockedReasons = []string{"Training", "Administrative work", "Personal appointment", "Team meeting"}
	visitReasons   = []string{
		"Annual check-up",
		"Follow-up consultation",
		"Persistent headaches",
		"Prescription renewal",
		"Back pain since last week",
		"Vaccination",
		"Blood test results review",
	}
)

// seed fills the next two weeks with fake bookings and a few blocked slots.
// It goes through the booking service so every rule applies to seeded data.
func main() {
	cfg, err := config.Load()
	if err != nil {
		_, _ = os.Stderr.WriteString("config load error: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		_, _ = os.Stderr.WriteString("logger init error: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal("load timezone", zap.Error(err))
	}
	catalog, err := cfg.Catalog()
	if err != nil {
		logger.Fatal("build slot catalog", zap.Error(err))
	}

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	clk := clock.New(loc)
	svc := booking.NewService(booking.Deps{
		Repo:    booking.NewPgRepository(pool),
		Catalog: catalog,
		Clock:   clk,
		Logger:  logger.Named("booking"),
	}, booking.Options{
		MinAdvance:    cfg.MinAdvance,
		InitialStatus: booking.Status(cfg.InitialStatus),
	})

	gofakeit.Seed(time.Now().UnixNano())
	today := clock.Today(clk)

	var booked, blocked, skipped int
	for i := 1; i <= seedDays; i++ {
		date := today.AddDays(i)
		if !catalog.Serves(date.Weekday()) {
			continue
		}

		slots := shuffled(catalog.Slots())
		for _, t := range slots[:min(blockedPerDay, len(slots))] {
			reason := pick(blockedReasons)
			if _, err := svc.BlockSlot(ctx, date, t, reason); err != nil {
				logger.Warn("block slot failed", zap.String("date", date.String()), zap.String("time", t.String()), zap.Error(err))
				skipped++
				continue
			}
			blocked++
		}

		rest := slots[min(blockedPerDay, len(slots)):]
		for _, t := range rest[:min(bookingsPerDay, len(rest))] {
			_, err := svc.CreateBooking(ctx, fakeRequest(date, t))
			switch {
			case err == nil:
				booked++
			case errors.Is(err, booking.ErrSlotUnavailable), errors.Is(err, booking.ErrValidation):
				logger.Debug("seed booking skipped", zap.String("date", date.String()), zap.Error(err))
				skipped++
			default:
				logger.Fatal("seed booking", zap.Error(err))
			}
		}
	}

	logger.Info("seed complete",
		zap.Int("bookings", booked),
		zap.Int("blocked_slots", blocked),
		zap.Int("skipped", skipped),
	)
}

func fakeRequest(date civil.Date, t schedule.SlotTime) booking.CreateRequest {
	return booking.CreateRequest{
		FirstName: gofakeit.FirstName(),
		LastName:  gofakeit.LastName(),
		Email:     gofakeit.Email(),
		Phone:     gofakeit.Phone(),
		Reason:    pick(visitReasons),
		Date:      date.String(),
		Time:      t.String(),
	}
}

func pick(values []string) string {
	return values[gofakeit.Number(0, len(values)-1)]
}

func shuffled(slots []schedule.SlotTime) []schedule.SlotTime {
	out := append([]schedule.SlotTime(nil), slots...)
	for i := len(out) - 1; i > 0; i-- {
		j := gofakeit.Number(0, i)
		out[i], out[j] = out[j], out[i]
	}
	return out
}
